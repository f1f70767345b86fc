package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get and TTL when a key is absent or expired.
var ErrNotFound = errors.New("key not found")

// EphemeralStore is the TTL key/value facility shared by the slot lock
// manager, the active selection tracker and the availability day cache.
// Two backends exist: Redis and a durable-store transient table used when
// Redis is down. Both enforce expiry at read time for grouped records.
type EphemeralStore interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, keys ...string) error
	TTL(ctx context.Context, key string) (time.Duration, error)

	HSet(ctx context.Context, key, field, value string) error
	HDel(ctx context.Context, key string, fields ...string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	Ping(ctx context.Context) error
}

func SlotLockKey(date string, staffID int64, slot string) string {
	return fmt.Sprintf("lock:%s:%d:%s", date, staffID, slot)
}

func SlotLockPattern(date string, staffID int64) string {
	return fmt.Sprintf("lock:%s:%d:*", date, staffID)
}

// SelectionKey is the grouped record holding every active selection for one
// (date, staff) scope, so a poll tick reads the whole grid in one call.
func SelectionKey(date string, staffID int64) string {
	return fmt.Sprintf("sel:%s:%d", date, staffID)
}

const SelectionPattern = "sel:*"

func DayCacheKey(date string, staffID int64) string {
	return fmt.Sprintf("day:%s:%d", date, staffID)
}

func BookingRateKey(email string) string {
	return "rate:book:" + email
}

func LockRateKey(clientID string) string {
	return "rate:lock:" + clientID
}
