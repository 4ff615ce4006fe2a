package mq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"adledger/internal/config"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Publisher delivers one outbox message to the broker.
type Publisher interface {
	Publish(ctx context.Context, topic, key, value string) error
	Close() error
}

var ErrBrokerUnavailable = errors.New("message broker unavailable")

// KafkaPublisher wraps a sync producer with a circuit breaker. While the
// breaker is open, Publish fails fast and the outbox row stays pending.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	breaker  *gobreaker.CircuitBreaker
	logger   zerolog.Logger
}

func NewProducerConfig() *sarama.Config {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true
	kafkaConfig.Producer.Idempotent = true
	kafkaConfig.Net.MaxOpenRequests = 1
	return kafkaConfig
}

func InitKafka(cfg *config.KafkaConfig, logger zerolog.Logger) (*KafkaPublisher, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	logger.Info().Strs("brokers", cfg.Brokers).Msg("kafka producer ready")
	return NewKafkaPublisher(producer, logger), nil
}

func NewKafkaPublisher(producer sarama.SyncProducer, logger zerolog.Logger) *KafkaPublisher {
	p := &KafkaPublisher{producer: producer, logger: logger}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "kafka-producer",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
	return p
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	}

	_, err := p.breaker.Execute(func() (interface{}, error) {
		partition, offset, err := p.producer.SendMessage(msg)
		if err != nil {
			return nil, err
		}
		p.logger.Debug().
			Str("topic", topic).
			Str("key", key).
			Int32("partition", partition).
			Int64("offset", offset).
			Msg("message published")
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	return err
}

func (p *KafkaPublisher) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}

// LogPublisher is used when no brokers are configured. Messages are logged
// and reported as delivered.
type LogPublisher struct {
	logger zerolog.Logger
}

func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, topic, key, value string) error {
	p.logger.Info().Str("topic", topic).Str("key", key).RawJSON("payload", []byte(value)).Msg("event")
	return nil
}

func (p *LogPublisher) Close() error { return nil }
