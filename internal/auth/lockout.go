// AngelaMos | 2026
// lockout.go

package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LoginThrottle counts consecutive failed logins per username inside a
// sliding window. The account lock itself is persisted on the user row;
// this only decides when to flip it.
type LoginThrottle interface {
	RecordFailure(ctx context.Context, username string) (int, error)
	Reset(ctx context.Context, username string) error
}

type redisThrottle struct {
	client *redis.Client
	window time.Duration
}

func NewLoginThrottle(
	client *redis.Client,
	window time.Duration,
) LoginThrottle {
	return &redisThrottle{client: client, window: window}
}

func loginFailureKey(username string) string {
	return "login_failures:" + username
}

// RecordFailure increments the counter and returns the new count. Every
// failure re-arms the window, so the counter only clears after a full
// quiet period.
func (t *redisThrottle) RecordFailure(
	ctx context.Context,
	username string,
) (int, error) {
	key := loginFailureKey(username)

	pipe := t.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, t.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("record login failure: %w", err)
	}

	return int(incr.Val()), nil
}

func (t *redisThrottle) Reset(ctx context.Context, username string) error {
	if err := t.client.Del(ctx, loginFailureKey(username)).Err(); err != nil {
		return fmt.Errorf("reset login failures: %w", err)
	}
	return nil
}
