package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EmitToDLQ appends an undeliverable event to the dead-letter stream.
func EmitToDLQ(ctx context.Context, client *redis.Client, log *zap.Logger, eventType, eventID string, body []byte, err error) error {
	values := map[string]interface{}{
		"event_type": eventType,
		"event_id":   eventID,
		"event":      string(body),
		"error":      fmt.Sprintf("%v", err),
	}
	_, dlqErr := client.XAdd(ctx, &redis.XAddArgs{
		Stream: DLQStream,
		Values: values,
	}).Result()
	if dlqErr != nil && log != nil {
		log.Error("Failed to emit to DLQ", zap.Error(dlqErr), zap.String("event_type", eventType), zap.String("event_id", eventID))
	}
	return dlqErr
}
