package repository

import (
	"context"

	"SwapQuote/internal/domain/models"
	"SwapQuote/internal/domain/repository"
)

// MessageProducer is the subset of pkg/kafka.Producer used here.
type MessageProducer interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// KafkaHealthPublisher implements HealthPublisher for Kafka.
type KafkaHealthPublisher struct {
	producer MessageProducer
	topic    string
}

// NewKafkaHealthPublisher creates Kafka publisher.
func NewKafkaHealthPublisher(producer MessageProducer, topic string) repository.HealthPublisher {
	return &KafkaHealthPublisher{producer: producer, topic: topic}
}

func (p *KafkaHealthPublisher) PublishHealth(ctx context.Context, h *models.SystemHealth) error {
	if h == nil {
		return nil
	}
	return p.producer.Publish(ctx, p.topic, []byte(h.Status), h)
}

func (p *KafkaHealthPublisher) Close() error {
	return p.producer.Close()
}

// NopHealthPublisher drops every snapshot. Used when Kafka is disabled.
type NopHealthPublisher struct{}

func (NopHealthPublisher) PublishHealth(context.Context, *models.SystemHealth) error { return nil }
func (NopHealthPublisher) Close() error                                             { return nil }
