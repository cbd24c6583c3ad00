/**
 * @description
 * This file contains the Redis-backed settlement idempotency reserver. It
 * claims an idempotency key with SETNX before the settlement row commits so
 * two identical requests racing against each other cannot both execute money
 * movement. The database unique constraint remains the durable backstop; this
 * guard only narrows the race window across service instances.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: Redis client.
 */

package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultReservationTTL = 10 * time.Minute

// RedisIdempotencyReserver implements IdempotencyReserver on top of Redis.
type RedisIdempotencyReserver struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisIdempotencyReserver(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisIdempotencyReserver {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "interpay:settlement_idem"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	if ttl <= 0 {
		ttl = defaultReservationTTL
	}

	return &RedisIdempotencyReserver{
		client: client,
		prefix: trimmedPrefix,
		ttl:    ttl,
	}
}

// Reserve claims the key. It returns true when this caller won the claim and
// false when another request already holds it.
func (r *RedisIdempotencyReserver) Reserve(ctx context.Context, key string) (bool, error) {
	if r == nil || r.client == nil {
		return true, nil
	}

	normalizedKey := strings.TrimSpace(key)
	if normalizedKey == "" {
		return true, nil
	}

	redisKey := fmt.Sprintf("%s:%s", r.prefix, normalizedKey)
	acquired, err := r.client.SetNX(ctx, redisKey, "1", r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency reservation failed: %w", err)
	}
	return acquired, nil
}

// Release drops a claim that never produced a settlement row.
func (r *RedisIdempotencyReserver) Release(ctx context.Context, key string) error {
	if r == nil || r.client == nil {
		return nil
	}

	normalizedKey := strings.TrimSpace(key)
	if normalizedKey == "" {
		return nil
	}

	if err := r.client.Del(ctx, fmt.Sprintf("%s:%s", r.prefix, normalizedKey)).Err(); err != nil {
		return fmt.Errorf("idempotency release failed: %w", err)
	}
	return nil
}
