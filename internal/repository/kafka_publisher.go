package repository

import (
	"context"

	"AlphaBlend/internal/domain/models"
	"AlphaBlend/internal/domain/repository"
	pkgkafka "AlphaBlend/pkg/kafka"
)

type publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// KafkaDecisionPublisher emits each decision to a topic keyed by symbol so a
// symbol's decisions stay ordered within one partition.
type KafkaDecisionPublisher struct {
	producer publisher
	topic    string
}

func NewKafkaDecisionPublisher(p *pkgkafka.Producer, topic string) *KafkaDecisionPublisher {
	return &KafkaDecisionPublisher{producer: p, topic: topic}
}

func (k *KafkaDecisionPublisher) Name() string { return "kafka" }

func (k *KafkaDecisionPublisher) Deliver(ctx context.Context, d *models.BlendedSignal) error {
	return k.producer.Publish(ctx, k.topic, []byte(d.Symbol), d)
}

var _ repository.DecisionSink = (*KafkaDecisionPublisher)(nil)
