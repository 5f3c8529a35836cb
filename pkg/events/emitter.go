package events

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// EventEmitter is the interface for emitting canonical EventEnvelope events.
type EventEmitter interface {
	EmitEventEnvelope(ctx context.Context, envelope *EventEnvelope) (string, error)
	Close() error
}

// Bus names accepted by New.
const (
	BusLog      = "log"
	BusKafka    = "kafka"
	BusRabbitMQ = "rabbitmq"
	BusRedis    = "redis"
)

// BusConfig selects and configures the event bus.
type BusConfig struct {
	Bus          string
	KafkaBrokers []string
	KafkaTopic   string
	AMQPURL      string
	AMQPExchange string
	RedisChannel string
}

// New builds the emitter named by cfg.Bus. The redis bus needs publisher.
func New(cfg BusConfig, publisher RedisPublisher, log *zap.Logger) (EventEmitter, error) {
	switch strings.ToLower(cfg.Bus) {
	case "", BusLog:
		return NewLogEmitter(log), nil
	case BusKafka:
		if len(cfg.KafkaBrokers) == 0 || cfg.KafkaTopic == "" {
			return nil, fmt.Errorf("kafka bus requires brokers and topic")
		}
		return NewKafkaEmitter(cfg.KafkaBrokers, cfg.KafkaTopic, log), nil
	case BusRabbitMQ:
		if cfg.AMQPURL == "" || cfg.AMQPExchange == "" {
			return nil, fmt.Errorf("rabbitmq bus requires url and exchange")
		}
		return NewAMQPEmitter(cfg.AMQPURL, cfg.AMQPExchange, log)
	case BusRedis:
		if publisher == nil || cfg.RedisChannel == "" {
			return nil, fmt.Errorf("redis bus requires a client and channel")
		}
		return NewRedisEmitter(publisher, cfg.RedisChannel, log), nil
	default:
		return nil, fmt.Errorf("unknown event bus %q", cfg.Bus)
	}
}

// ErrNoEmitter is returned when there is nothing to emit or nowhere to send it.
var ErrNoEmitter = errors.New("events: missing emitter or envelope")

// EmitEventWithLogging emits envelope and logs each failed attempt.
func EmitEventWithLogging(ctx context.Context, emitter EventEmitter, log *zap.Logger, envelope *EventEnvelope) error {
	if emitter == nil || envelope == nil {
		return ErrNoEmitter
	}
	if _, err := emitter.EmitEventEnvelope(ctx, envelope); err != nil {
		if log != nil {
			log.Warn("Failed to emit event",
				zap.String("event_type", envelope.Type),
				zap.String("event_id", envelope.ID),
				zap.Error(err),
			)
		}
		return err
	}
	return nil
}
