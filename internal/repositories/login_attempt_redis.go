package repositories

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kestrelpay/onboard-auth/internal/models"
)

// RedisLoginAttemptStore keeps failure counters in Redis so lockout state is
// shared across instances. Records expire via TTL instead of a cleanup sweep.
type RedisLoginAttemptStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLoginAttemptStore creates a Redis-backed LoginAttemptStore. ttl
// should comfortably exceed the lockout duration so an active lockout never
// evaporates early.
func NewRedisLoginAttemptStore(client *redis.Client, ttl time.Duration) *RedisLoginAttemptStore {
	return &RedisLoginAttemptStore{
		client: client,
		ttl:    ttl,
	}
}

func attemptKey(email, origin string) string {
	return "la:" + strings.ToLower(email) + ":" + origin
}

func (s *RedisLoginAttemptStore) Get(ctx context.Context, email, origin string) (*models.LoginAttemptRecord, error) {
	fields, err := s.client.HGetAll(ctx, attemptKey(email, origin)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis unavailable: %w", err)
	}
	if len(fields) == 0 {
		return nil, models.ErrNotFound
	}

	return recordFromFields(email, origin, fields)
}

func (s *RedisLoginAttemptStore) Increment(ctx context.Context, email, origin string, identityID *string, at time.Time) (*models.LoginAttemptRecord, error) {
	key := attemptKey(email, origin)

	pipe := s.client.TxPipeline()
	countCmd := pipe.HIncrBy(ctx, key, "count", 1)
	pipe.HSet(ctx, key, "last_attempt", at.Unix())
	if identityID != nil {
		pipe.HSet(ctx, key, "identity_id", *identityID)
	}
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis unavailable: %w", err)
	}

	record := &models.LoginAttemptRecord{
		Email:         strings.ToLower(email),
		Origin:        origin,
		AttemptCount:  int(countCmd.Val()),
		LastAttemptAt: at,
		IdentityID:    identityID,
	}

	lockedUntil, err := s.client.HGet(ctx, key, "locked_until").Result()
	if err == nil {
		if unix, parseErr := strconv.ParseInt(lockedUntil, 10, 64); parseErr == nil {
			t := time.Unix(unix, 0)
			record.LockedUntil = &t
		}
	} else if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis unavailable: %w", err)
	}

	return record, nil
}

func (s *RedisLoginAttemptStore) SetLockout(ctx context.Context, email, origin string, until time.Time) error {
	key := attemptKey(email, origin)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "locked_until", until.Unix())
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis unavailable: %w", err)
	}
	return nil
}

func (s *RedisLoginAttemptStore) Delete(ctx context.Context, email, origin string) error {
	if err := s.client.Del(ctx, attemptKey(email, origin)).Err(); err != nil {
		return fmt.Errorf("redis unavailable: %w", err)
	}
	return nil
}

// DeleteExpired is a no-op: record lifetime is enforced by key TTL.
func (s *RedisLoginAttemptStore) DeleteExpired(ctx context.Context, lastAttemptBefore time.Time) (int64, error) {
	return 0, nil
}

func recordFromFields(email, origin string, fields map[string]string) (*models.LoginAttemptRecord, error) {
	record := &models.LoginAttemptRecord{
		Email:  strings.ToLower(email),
		Origin: origin,
	}

	if raw, ok := fields["count"]; ok {
		count, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt attempt count: %w", err)
		}
		record.AttemptCount = count
	}

	if raw, ok := fields["last_attempt"]; ok {
		unix, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt last_attempt: %w", err)
		}
		record.LastAttemptAt = time.Unix(unix, 0)
	}

	if raw, ok := fields["locked_until"]; ok {
		unix, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt locked_until: %w", err)
		}
		t := time.Unix(unix, 0)
		record.LockedUntil = &t
	}

	if raw, ok := fields["identity_id"]; ok && raw != "" {
		record.IdentityID = &raw
	}

	return record, nil
}
