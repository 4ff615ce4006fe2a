package mq

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKafkaPublisher_Publish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"campaign_id":1}` {
			return errors.New("unexpected payload")
		}
		return nil
	})

	p := NewKafkaPublisher(producer, zerolog.Nop())
	require.NoError(t, p.Publish(context.Background(), "campaign_events", "1", `{"campaign_id":1}`))
	require.NoError(t, p.Close())
}

func TestKafkaPublisher_BreakerOpensAfterFailures(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	for i := 0; i < 5; i++ {
		producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	}

	p := NewKafkaPublisher(producer, zerolog.Nop())
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		err := p.Publish(ctx, "t", "k", "{}")
		assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	}

	err := p.Publish(ctx, "t", "k", "{}")
	assert.ErrorIs(t, err, ErrBrokerUnavailable)
	require.NoError(t, p.Close())
}

func TestKafkaPublisher_CancelledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	p := NewKafkaPublisher(producer, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, p.Publish(ctx, "t", "k", "{}"), context.Canceled)
	require.NoError(t, p.Close())
}
