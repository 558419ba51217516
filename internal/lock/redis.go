package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// releaseScript deletes the lock only if it still carries the caller's token,
// then wakes any waiters for that user.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("DEL", KEYS[1])
	redis.call("PUBLISH", ARGV[2], "released")
	return 1
end
return 0
`)

// RedisGate is a distributed per-user mutex for deployments where several
// instances share one database and the lock should not cost a database
// connection while waiting.
//
// The key carries a TTL so that a holder that dies without releasing blocks
// the user for at most that long. Waiters sleep on a per-user pub/sub channel
// and on a timer set to the key's remaining TTL; they never poll on a fixed
// interval.
type RedisGate struct {
	client *redis.Client
	ttl    time.Duration
	clock  clockwork.Clock
}

func NewRedisGate(client *redis.Client, ttl time.Duration) *RedisGate {
	return &RedisGate{
		client: client,
		ttl:    ttl,
		clock:  clockwork.NewRealClock(),
	}
}

// WithClock swaps the clock used for expiry wake-ups.
func (g *RedisGate) WithClock(clock clockwork.Clock) *RedisGate {
	g.clock = clock
	return g
}

// TxScoped is false: the lock lives in Redis, so it is taken before the
// store transaction opens.
func (g *RedisGate) TxScoped() bool { return false }

func lockKey(userID uuid.UUID) string {
	return "timer_lock:" + userID.String()
}

func releaseChannel(userID uuid.UUID) string {
	return "timer_lock_released:" + userID.String()
}

func (g *RedisGate) Acquire(ctx context.Context, _ Locker, userID uuid.UUID) (Release, error) {
	key := lockKey(userID)
	token := uuid.NewString()

	ok, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire timer lock: %w", err)
	}
	if !ok {
		if err := g.wait(ctx, key, token, userID); err != nil {
			return nil, err
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { g.release(key, token, userID) })
	}, nil
}

func (g *RedisGate) wait(ctx context.Context, key, token string, userID uuid.UUID) error {
	sub := g.client.Subscribe(ctx, releaseChannel(userID))
	defer sub.Close()

	// Confirm the subscription before retrying so a release published between
	// the first SETNX and SUBSCRIBE cannot be missed.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to timer lock releases: %w", err)
	}
	released := sub.Channel()

	for {
		ok, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
		if err != nil {
			return fmt.Errorf("failed to acquire timer lock: %w", err)
		}
		if ok {
			return nil
		}

		remaining, err := g.client.PTTL(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to read timer lock ttl: %w", err)
		}
		switch {
		case remaining == -2:
			// Key vanished between SETNX and PTTL.
			continue
		case remaining < 0:
			remaining = g.ttl
		}

		timer := g.clock.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case _, open := <-released:
			timer.Stop()
			if !open {
				return errors.New("timer lock release channel closed")
			}
		case <-timer.Chan():
		}
	}
}

func (g *RedisGate) release(key, token string, userID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := releaseScript.Run(ctx, g.client, []string{key}, token, releaseChannel(userID)).Err(); err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("failed to release timer lock")
	}
}
