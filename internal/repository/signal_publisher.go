package repository

import (
	"context"

	"SignalPulse/internal/domain/models"
	"SignalPulse/internal/domain/repository"
	pkgkafka "SignalPulse/pkg/kafka"
)

// KafkaSignalPublisher emits one SignalEvent per signal of a completed cycle, keyed by symbol
// so a consumer sees each symbol's events in order.
type KafkaSignalPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaSignalPublisher creates the Kafka sink.
func NewKafkaSignalPublisher(producer *pkgkafka.Producer, topic string) repository.SignalSink {
	return &KafkaSignalPublisher{producer: producer, topic: topic}
}

func (p *KafkaSignalPublisher) Name() string { return "kafka" }

func (p *KafkaSignalPublisher) Publish(ctx context.Context, result *models.CycleResult) error {
	if result == nil || len(result.Signals) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(result.Signals))
	for i, s := range result.Signals {
		msgs[i] = pkgkafka.Message{
			Key:   []byte(s.Symbol),
			Value: models.NewSignalEvent(s),
		}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}
