package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"adledger/internal/config"
	"adledger/internal/handler"
	"adledger/internal/infrastructure/cache"
	"adledger/internal/infrastructure/database"
	"adledger/internal/infrastructure/lock"
	"adledger/internal/infrastructure/mq"
	"adledger/internal/job"
	"adledger/internal/logger"
	"adledger/internal/repository"
	"adledger/internal/service"
	"adledger/internal/store"
	"adledger/internal/store/memstore"
	"adledger/pkg/idgen"

	"github.com/rs/zerolog"
)

// backend is everything that differs between the SQL and in-memory drivers.
type backend struct {
	ledger    store.LedgerStore
	campaigns store.CampaignStore
	outbox    store.OutboxStore
	locker    service.UserLocker
	health    map[string]handler.HealthCheck
	close     func()
}

func main() {
	configPath := "config/config.yaml"
	if p := os.Getenv("ADLEDGER_CONFIG"); p != "" {
		configPath = p
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log)

	if err := idgen.Init(1); err != nil {
		log.Fatal().Err(err).Msg("init id generator")
	}

	be, err := openBackend(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open storage")
	}
	defer be.close()

	var publisher mq.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err = mq.InitKafka(&cfg.Kafka, log)
		if err != nil {
			log.Fatal().Err(err).Msg("init kafka")
		}
	} else {
		log.Warn().Msg("no kafka brokers configured, outbox messages are only logged")
		publisher = mq.NewLogPublisher(log)
	}
	defer publisher.Close()

	opts := service.Options{
		Topics: service.Topics{
			CampaignEvents:  cfg.Kafka.Topic.CampaignEvents,
			LedgerEvents:    cfg.Kafka.Topic.LedgerEvents,
			LedgerIncidents: cfg.Kafka.Topic.LedgerIncidents,
		},
		StoreTimeout:   cfg.Business.StoreTimeout(),
		MaxTargetCount: cfg.Business.MaxCampaignTargetCount,
		ReconcileGrace: cfg.Business.ReconcileGrace(),
	}

	incidents := service.NewIncidentReporter(be.outbox, cfg.Kafka.Topic.LedgerIncidents, cfg.Business.StoreTimeout(), log)
	reservations := service.NewReservationService(be.ledger, be.locker, opts, log)
	accounts := service.NewAccountService(be.ledger, be.locker, opts, log)
	campaigns := service.NewCampaignService(be.campaigns, reservations, incidents, opts, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outboxSender := job.NewOutboxSender(be.outbox, publisher, job.OutboxSenderConfig{
		Interval:      cfg.Business.OutboxInterval(),
		BatchSize:     cfg.Business.OutboxBatchSize,
		MaxRetryCount: cfg.Business.MaxRetryCount,
	}, log)
	go outboxSender.Start(ctx)

	reconciler := job.NewReservationReconciler(be.ledger, be.campaigns, reservations, job.ReconcilerConfig{
		Interval: cfg.Business.ReconcileInterval(),
		Grace:    cfg.Business.ReconcileGrace(),
	}, log)
	go reconciler.Start(ctx)

	h := handler.NewHandler(accounts, campaigns, be.health, log)
	router := handler.SetupRouter(h, cfg, log)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Str("driver", cfg.Database.Driver).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	// stop background jobs first so no new outbox batch starts mid-shutdown
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownSeconds)*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}

	log.Info().Msg("server stopped")
}

func openBackend(cfg *config.Config, log zerolog.Logger) (*backend, error) {
	if cfg.Database.Driver == config.DriverMemory {
		log.Warn().Msg("using in-memory storage, data is lost on restart")
		s := memstore.New()
		return &backend{
			ledger:    s,
			campaigns: s,
			outbox:    s,
			locker:    lock.NewLocalLocker(),
			health:    map[string]handler.HealthCheck{},
			close:     func() {},
		}, nil
	}

	db, err := database.Open(&cfg.Database, log)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	redisClient, err := cache.InitRedis(&cfg.Redis, log)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	locker := lock.NewUserLocker(redisClient, lock.Options{
		TTL:           cfg.Business.LockTTL(),
		RetryInterval: cfg.Business.LockRetryInterval(),
		MaxRetries:    cfg.Business.LockMaxRetries,
	})

	return &backend{
		ledger:    repository.NewLedgerStore(db),
		campaigns: repository.NewCampaignRepository(db),
		outbox:    repository.NewOutboxRepository(db),
		locker:    locker,
		health: map[string]handler.HealthCheck{
			"database": sqlDB.PingContext,
			"redis": func(ctx context.Context) error {
				return cache.Ping(ctx, redisClient, time.Second)
			},
		},
		close: func() {
			if err := redisClient.Close(); err != nil {
				log.Error().Err(err).Msg("close redis")
			}
			if err := sqlDB.Close(); err != nil {
				log.Error().Err(err).Msg("close database")
			}
		},
	}, nil
}
