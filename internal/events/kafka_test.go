package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/yodo-backend/internal/config"
)

func TestKafkaPublisher_Publish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	orderID := uuid.New()

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, "payment-events", msg.Topic)

		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "pay-1", string(key))

		value, err := msg.Value.Encode()
		require.NoError(t, err)
		var got PaymentEvent
		require.NoError(t, json.Unmarshal(value, &got))
		assert.Equal(t, TypePaymentCaptured, got.Type)
		assert.Equal(t, orderID, got.OrderID)
		assert.True(t, got.Amount.Equal(decimal.NewFromInt(1000)))

		require.Len(t, msg.Headers, 2)
		assert.Equal(t, "event_type", string(msg.Headers[0].Key))
		assert.Equal(t, TypePaymentCaptured, string(msg.Headers[0].Value))
		return nil
	})

	p := NewKafkaPublisher(producer, "payment-events")
	err := p.Publish(context.Background(), PaymentEvent{
		Type:       TypePaymentCaptured,
		PaymentID:  "pay-1",
		OrderID:    orderID,
		Status:     "captured",
		Amount:     decimal.NewFromInt(1000),
		Currency:   "RUB",
		OccurredAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestKafkaPublisher_PublishError(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(errors.New("broker down"))

	p := NewKafkaPublisher(producer, "payment-events")
	err := p.Publish(context.Background(), PaymentEvent{Type: TypePaymentRefunded, PaymentID: "pay-2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pay-2")
	require.NoError(t, p.Close())
}

func TestNewPublisher_NoBrokersIsNoop(t *testing.T) {
	p, err := NewPublisher(config.KafkaConfig{Topic: "payment-events"})
	require.NoError(t, err)
	assert.IsType(t, NoopPublisher{}, p)
	assert.NoError(t, p.Publish(context.Background(), PaymentEvent{}))
}
