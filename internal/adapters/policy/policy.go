// Package policy provides event-mode sources for the conquest gate. While an
// event is running, conquests stand alone and conflict resolution is off.
package policy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Provider kinds selectable from configuration.
const (
	KindStatic = "static"
	KindWindow = "window"
	KindRedis  = "redis"
)

// DefaultRedisKey holds the event-mode flag when no key is configured.
const DefaultRedisKey = "turf:event_mode"

// ErrInvalidFlag reports a stored event-mode value that is not a boolean.
var ErrInvalidFlag = errors.New("invalid event mode flag")

// Static reports a fixed event-mode setting.
type Static struct {
	EventMode bool
}

// IsConflictResolutionActive reports the inverse of the fixed event mode.
func (s Static) IsConflictResolutionActive(context.Context) (bool, error) {
	return !s.EventMode, nil
}

// Window runs event mode between StartsAt (inclusive) and EndsAt (exclusive).
// A zero bound leaves that side open; both zero means no event.
type Window struct {
	StartsAt time.Time
	EndsAt   time.Time
	Now      func() time.Time
}

// IsConflictResolutionActive reports whether now falls outside the window.
func (w Window) IsConflictResolutionActive(context.Context) (bool, error) {
	if w.StartsAt.IsZero() && w.EndsAt.IsZero() {
		return true, nil
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now()
	if !w.StartsAt.IsZero() && ts.Before(w.StartsAt) {
		return true, nil
	}
	if !w.EndsAt.IsZero() && !ts.Before(w.EndsAt) {
		return true, nil
	}
	return false, nil
}

// Redis reads the event-mode flag from a shared key so every instance sees
// the same setting. An absent key means no event.
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis wraps a client; an empty key selects DefaultRedisKey.
func NewRedis(client *redis.Client, key string) *Redis {
	key = strings.TrimSpace(key)
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{client: client, key: key}
}

// OpenRedis dials a Redis server for the event-mode flag.
func OpenRedis(addr, password string, db int, key string) (*Redis, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	return NewRedis(client, key), nil
}

// Key returns the flag key.
func (r *Redis) Key() string {
	return r.key
}

// IsConflictResolutionActive reads the flag; errors propagate so the gate
// fails closed.
func (r *Redis) IsConflictResolutionActive(ctx context.Context) (bool, error) {
	raw, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read event mode %s: %w", r.key, err)
	}
	eventMode, err := parseFlag(raw)
	if err != nil {
		return false, err
	}
	return !eventMode, nil
}

// SetEventMode stores the flag. A positive ttl ends the event automatically.
func (r *Redis) SetEventMode(ctx context.Context, on bool, ttl time.Duration) error {
	value := "0"
	if on {
		value = "1"
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, r.key, value, ttl).Err(); err != nil {
		return fmt.Errorf("write event mode %s: %w", r.key, err)
	}
	return nil
}

// Ping checks the Redis connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func parseFlag(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "on":
		return true, nil
	case "0", "false", "off", "":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrInvalidFlag, raw)
	}
}
