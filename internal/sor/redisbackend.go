package sor

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCooldownBackend is an optional distributed alternative to
// CooldownRegistry's in-memory map, so multiple Router instances behind a
// load balancer share the same cooldown state. Keys use Redis's own TTL
// rather than a stored expiry timestamp.
type RedisCooldownBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisCooldownBackend wraps an existing client; prefix namespaces keys
// so the cooldown registry can share a Redis instance with other
// subsystems without key collisions.
func NewRedisCooldownBackend(client *redis.Client, prefix string) *RedisCooldownBackend {
	return &RedisCooldownBackend{client: client, prefix: prefix}
}

func (r *RedisCooldownBackend) key(venue, symbol, reason string) string {
	return fmt.Sprintf("%s:cooldown:%s:%s:%s", r.prefix, trimAndLower(venue), normalizeUpper(symbol), trimAndLower(reason))
}

// Trigger sets a cooldown key with the given TTL.
func (r *RedisCooldownBackend) Trigger(ctx context.Context, venue, symbol, reason string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, r.key(venue, symbol, reason), "1", ttl).Err()
}

// Check reports whether any cooldown reason is currently active for
// (venue, symbol), scanning the small, fixed reason set rather than
// issuing a KEYS/SCAN call on the hot path.
func (r *RedisCooldownBackend) Check(ctx context.Context, venue, symbol string, reasons []string) (string, time.Duration, bool, error) {
	for _, reason := range reasons {
		ttl, err := r.client.TTL(ctx, r.key(venue, symbol, reason)).Result()
		if err != nil {
			return "", 0, false, err
		}
		if ttl > 0 {
			return reason, ttl, true, nil
		}
	}
	return "", 0, false, nil
}

// RedisIntentWindowBackend is the distributed alternative to IntentWindow,
// used when multiple Router instances must dedup the same fingerprint.
type RedisIntentWindowBackend struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisIntentWindowBackend wraps an existing client.
func NewRedisIntentWindowBackend(client *redis.Client, prefix string, ttl time.Duration) *RedisIntentWindowBackend {
	return &RedisIntentWindowBackend{client: client, prefix: prefix, ttl: ttl}
}

// TouchIfAbsent atomically checks-and-sets the key, returning true if this
// call newly claimed it (i.e. not a duplicate) via Redis SETNX semantics.
func (r *RedisIntentWindowBackend) TouchIfAbsent(ctx context.Context, key string) (claimed bool, err error) {
	if r.ttl <= 0 {
		return true, nil
	}
	return r.client.SetNX(ctx, r.prefix+":intent:"+key, "1", r.ttl).Result()
}

// Forget removes key immediately.
func (r *RedisIntentWindowBackend) Forget(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+":intent:"+key).Err()
}
