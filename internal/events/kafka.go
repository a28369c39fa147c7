package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/yodo-backend/internal/config"
	"github.com/ignatzorin/yodo-backend/internal/logger"
)

// KafkaPublisher пишет события платежей в топик. Ключ сообщения это id платежа,
// поэтому события одного платежа попадают в одну партицию по порядку.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	log      *logrus.Entry
}

// NewPublisher возвращает Kafka publisher или NoopPublisher, если брокеры не заданы.
func NewPublisher(cfg config.KafkaConfig) (Publisher, error) {
	brokers := cfg.GetBrokers()
	if len(brokers) == 0 {
		logger.Component("events").Info("kafka brokers not configured, payment events disabled")
		return NoopPublisher{}, nil
	}

	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("events: create kafka producer: %w", err)
	}

	logger.Component("events").WithFields(logrus.Fields{
		"brokers": brokers,
		"topic":   cfg.Topic,
	}).Info("kafka producer created")

	return NewKafkaPublisher(producer, cfg.Topic), nil
}

// NewKafkaPublisher оборачивает готовый producer.
func NewKafkaPublisher(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		producer: producer,
		topic:    topic,
		log:      logger.Component("events"),
	}
}

func (p *KafkaPublisher) Publish(_ context.Context, event PaymentEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", event.Type, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.PaymentID),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
			{Key: []byte("order_id"), Value: []byte(event.OrderID.String())},
		},
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("events: kafka send failed [topic=%s, key=%s]: %w", p.topic, event.PaymentID, err)
	}

	p.log.WithFields(logrus.Fields{
		"type":       event.Type,
		"payment_id": event.PaymentID,
		"partition":  partition,
		"offset":     offset,
	}).Debug("payment event published")
	return nil
}

func (p *KafkaPublisher) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("events: close kafka producer: %w", err)
	}
	return nil
}
