package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"worklog-backend/internal/models"
)

// UserUpdatesChannel is the Redis pub/sub channel the websocket hub relays to
// a user's open connections.
func UserUpdatesChannel(userID uuid.UUID) string {
	return "user_updates:" + userID.String()
}

// RedisPublisher delivers timer updates over Redis pub/sub so that every
// server instance holding a websocket for the user can forward them.
type RedisPublisher struct {
	redis *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{redis: client}
}

func (p *RedisPublisher) PublishTimerUpdate(ctx context.Context, userID uuid.UUID, update models.TimerUpdate) error {
	data, err := json.Marshal(models.WSMessage{
		Type:    models.WSTypeTimerUpdate,
		Payload: update,
	})
	if err != nil {
		return fmt.Errorf("failed to encode timer update: %w", err)
	}
	if err := p.redis.Publish(ctx, UserUpdatesChannel(userID), data).Err(); err != nil {
		return fmt.Errorf("failed to publish timer update: %w", err)
	}
	return nil
}
