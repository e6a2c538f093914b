// AngelaMos | 2026
// otp.go

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelamos/clinica-identity/internal/core"
)

const otpDigits = 6

var (
	ErrCodeInvalid = errors.New("code does not match")
	ErrCodeExpired = errors.New("code expired or never issued")
)

// CodeStore manages the one-time codes for password resets. Codes are
// stored hashed; issuing a new code silently invalidates the previous one
// for the same email.
type CodeStore interface {
	AllowRequest(ctx context.Context, email string) error
	Issue(ctx context.Context, email string) (string, error)
	Verify(ctx context.Context, email, code string) error
}

type CodeStoreConfig struct {
	CodeTTL       time.Duration
	MaxVerifies   int
	MaxRequests   int
	RequestWindow time.Duration
}

type redisCodeStore struct {
	client *redis.Client
	cfg    CodeStoreConfig
}

func NewCodeStore(client *redis.Client, cfg CodeStoreConfig) CodeStore {
	return &redisCodeStore{client: client, cfg: cfg}
}

func resetCodeKey(email string) string {
	return "pwreset:code:" + email
}

func resetRequestKey(email string) string {
	return "pwreset:requests:" + email
}

// AllowRequest enforces the per-email issue limit. It is checked before
// the account lookup so the limit applies to unknown addresses too.
func (s *redisCodeStore) AllowRequest(
	ctx context.Context,
	email string,
) error {
	key := resetRequestKey(email)

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("count reset requests: %w", err)
	}

	if count == 1 {
		if err := s.client.Expire(ctx, key, s.cfg.RequestWindow).Err(); err != nil {
			return fmt.Errorf("set request window: %w", err)
		}
	}

	if int(count) > s.cfg.MaxRequests {
		return fmt.Errorf("reset requests: %w", core.ErrRateLimited)
	}

	return nil
}

func (s *redisCodeStore) Issue(
	ctx context.Context,
	email string,
) (string, error) {
	code, err := core.GenerateOTPCode(otpDigits)
	if err != nil {
		return "", fmt.Errorf("issue reset code: %w", err)
	}

	key := resetCodeKey(email)

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, "hash", core.HashToken(code), "attempts", 0)
	pipe.Expire(ctx, key, s.cfg.CodeTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("store reset code: %w", err)
	}

	return code, nil
}

func (s *redisCodeStore) Verify(ctx context.Context, email, code string) error {
	key := resetCodeKey(email)

	storedHash, err := s.client.HGet(ctx, key, "hash").Result()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("verify reset code: %w", ErrCodeExpired)
	}
	if err != nil {
		return fmt.Errorf("verify reset code: %w", err)
	}

	attempts, err := s.client.HIncrBy(ctx, key, "attempts", 1).Result()
	if err != nil {
		return fmt.Errorf("count verify attempts: %w", err)
	}

	if int(attempts) > s.cfg.MaxVerifies {
		//nolint:errcheck // code is burned either way
		_ = s.client.Del(ctx, key).Err()
		return fmt.Errorf("verify reset code: %w", core.ErrRateLimited)
	}

	if !core.CompareTokenHash(code, storedHash) {
		return fmt.Errorf("verify reset code: %w", ErrCodeInvalid)
	}

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("consume reset code: %w", err)
	}

	return nil
}
