package events

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaEmitter publishes envelopes to a Kafka topic keyed by event id.
type KafkaEmitter struct {
	writer *kafka.Writer
	log    *zap.Logger
}

// NewKafkaEmitter creates a writer for topic on brokers.
func NewKafkaEmitter(brokers []string, topic string, log *zap.Logger) *KafkaEmitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaEmitter{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		log: log.With(zap.String("module", "events.kafka")),
	}
}

// EmitEventEnvelope writes the envelope synchronously.
func (e *KafkaEmitter) EmitEventEnvelope(ctx context.Context, envelope *EventEnvelope) (string, error) {
	body, err := envelope.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(envelope.ID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(envelope.Type)},
		},
	}
	if err := e.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("kafka write: %w", err)
	}
	return envelope.ID, nil
}

// Close flushes and closes the writer.
func (e *KafkaEmitter) Close() error {
	return e.writer.Close()
}
