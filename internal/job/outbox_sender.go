package job

import (
	"context"
	"time"

	"adledger/internal/infrastructure/mq"
	"adledger/internal/model"
	"adledger/internal/store"

	"github.com/rs/zerolog"
)

// OutboxSender relays committed outbox rows to the broker. Delivery is at
// least once: a crash between publish and MarkSent resends the message.
type OutboxSender struct {
	outbox        store.OutboxStore
	publisher     mq.Publisher
	logger        zerolog.Logger
	stopCh        chan struct{}
	interval      time.Duration
	batchSize     int
	maxRetryCount int
}

type OutboxSenderConfig struct {
	Interval      time.Duration
	BatchSize     int
	MaxRetryCount int
}

func NewOutboxSender(outbox store.OutboxStore, publisher mq.Publisher, cfg OutboxSenderConfig, logger zerolog.Logger) *OutboxSender {
	if cfg.Interval <= 0 {
		cfg.Interval = 100 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxRetryCount <= 0 {
		cfg.MaxRetryCount = 5
	}
	return &OutboxSender{
		outbox:        outbox,
		publisher:     publisher,
		logger:        logger.With().Str("job", "outbox_sender").Logger(),
		stopCh:        make(chan struct{}),
		interval:      cfg.Interval,
		batchSize:     cfg.BatchSize,
		maxRetryCount: cfg.MaxRetryCount,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Msg("outbox sender started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("context done, outbox sender exiting")
			return
		case <-s.stopCh:
			s.logger.Info().Msg("outbox sender stopped")
			return
		case <-ticker.C:
			s.ProcessPending(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// ProcessPending sends one batch and returns how many messages were sent.
func (s *OutboxSender) ProcessPending(ctx context.Context) int {
	messages, err := s.outbox.Pending(ctx, s.batchSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("load pending outbox messages")
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if ctx.Err() != nil {
			break
		}
		if s.send(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) send(ctx context.Context, msg *model.OutboxMessage) bool {
	err := s.publisher.Publish(ctx, msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		if updateErr := s.outbox.MarkSent(ctx, msg.ID); updateErr != nil {
			s.logger.Error().Err(updateErr).Int64("id", msg.ID).Msg("mark outbox message sent")
			return false
		}
		s.logger.Debug().Int64("id", msg.ID).Str("event", msg.Event).Str("topic", msg.Topic).Str("key", msg.MessageKey).Msg("outbox message sent")
		return true
	}

	s.logger.Warn().Err(err).Int64("id", msg.ID).Int("retry", msg.RetryCount+1).Msg("publish outbox message")

	if err := s.outbox.IncrementRetry(ctx, msg.ID); err != nil {
		s.logger.Error().Err(err).Int64("id", msg.ID).Msg("increment outbox retry count")
	}

	if msg.RetryCount+1 >= s.maxRetryCount {
		if err := s.outbox.MarkFailed(ctx, msg.ID); err != nil {
			s.logger.Error().Err(err).Int64("id", msg.ID).Msg("mark outbox message failed")
		} else {
			s.logger.Error().Int64("id", msg.ID).Str("event", msg.Event).Str("topic", msg.Topic).Msg("outbox message exceeded max retries")
		}
	}
	return false
}
