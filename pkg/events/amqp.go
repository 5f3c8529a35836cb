package events

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AMQPEmitter publishes envelopes to a RabbitMQ topic exchange, routed by event type.
type AMQPEmitter struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      *zap.Logger
}

// NewAMQPEmitter dials url and declares a durable topic exchange.
func NewAMQPEmitter(url, exchange string, log *zap.Logger) (*AMQPEmitter, error) {
	if log == nil {
		log = zap.NewNop()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp exchange declare: %w", err)
	}
	return &AMQPEmitter{
		conn:     conn,
		ch:       ch,
		exchange: exchange,
		log:      log.With(zap.String("module", "events.amqp")),
	}, nil
}

// EmitEventEnvelope publishes a persistent message.
func (e *AMQPEmitter) EmitEventEnvelope(ctx context.Context, envelope *EventEnvelope) (string, error) {
	body, err := envelope.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}
	err = e.ch.PublishWithContext(ctx, e.exchange, envelope.Type, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    envelope.ID,
		Type:         envelope.Type,
		Timestamp:    time.Unix(envelope.Timestamp, 0),
		Body:         body,
	})
	if err != nil {
		return "", fmt.Errorf("amqp publish: %w", err)
	}
	return envelope.ID, nil
}

// Close closes the channel and connection.
func (e *AMQPEmitter) Close() error {
	if err := e.ch.Close(); err != nil {
		e.log.Warn("failed to close amqp channel", zap.Error(err))
	}
	return e.conn.Close()
}
