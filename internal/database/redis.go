package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClients keeps lock traffic and pub/sub on separate connections so a
// blocked subscriber never starves lock acquisition.
type RedisClients struct {
	Locks  *redis.Client
	PubSub *redis.Client
}

func NewRedisClients(redisURL string) (*RedisClients, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	locksClient := redis.NewClient(opt)
	if err := locksClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis (locks): %w", err)
	}

	pubsubOpt := *opt
	pubsubClient := redis.NewClient(&pubsubOpt)
	if err := pubsubClient.Ping(ctx).Err(); err != nil {
		locksClient.Close()
		return nil, fmt.Errorf("failed to ping Redis (pubsub): %w", err)
	}

	return &RedisClients{
		Locks:  locksClient,
		PubSub: pubsubClient,
	}, nil
}

func (r *RedisClients) Ping(ctx context.Context) error {
	if err := r.Locks.Ping(ctx).Err(); err != nil {
		return err
	}
	return r.PubSub.Ping(ctx).Err()
}

func (r *RedisClients) Close() {
	r.Locks.Close()
	r.PubSub.Close()
}
