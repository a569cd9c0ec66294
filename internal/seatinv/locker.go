package seatinv

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/thanhphu2410/microservices-booking-app/pkg/redis"
)

// Locker is the per-seat mutual-exclusion primitive. The marker is the
// single source of truth for who may transition a seat right now; the
// durable status row is the source of truth for read queries.
type Locker interface {
	// Acquire sets the exclusive marker if absent, with expiry
	Acquire(ctx context.Context, showtimeID, seatID, userID string, ttl time.Duration) (bool, error)
	// Owner returns the current marker owner, or "" when no marker exists
	Owner(ctx context.Context, showtimeID, seatID string) (string, error)
	// Release deletes the marker only if userID owns it
	Release(ctx context.Context, showtimeID, seatID, userID string) (bool, error)
}

func lockKey(showtimeID, seatID string) string {
	return fmt.Sprintf("seat_lock:%s:%s", showtimeID, seatID)
}

// compareAndDelete removes the marker only when the caller still owns it
const compareAndDeleteScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// RedisLocker implements Locker over Redis SETNX markers
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker creates a Redis-backed seat locker
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// Acquire sets the marker atomically if absent
func (l *RedisLocker) Acquire(ctx context.Context, showtimeID, seatID, userID string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, lockKey(showtimeID, seatID), userID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire seat lock: %w", err)
	}
	return ok, nil
}

// Owner returns the current marker owner
func (l *RedisLocker) Owner(ctx context.Context, showtimeID, seatID string) (string, error) {
	owner, err := l.client.Get(ctx, lockKey(showtimeID, seatID)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read seat lock: %w", err)
	}
	return owner, nil
}

// Release deletes the marker only if userID owns it
func (l *RedisLocker) Release(ctx context.Context, showtimeID, seatID, userID string) (bool, error) {
	deleted, err := l.client.EvalWithFallback(ctx, "seat_lock_release", compareAndDeleteScript,
		[]string{lockKey(showtimeID, seatID)}, userID).Int()
	if err != nil {
		return false, fmt.Errorf("failed to release seat lock: %w", err)
	}
	return deleted == 1, nil
}

var _ Locker = (*RedisLocker)(nil)

// MemoryLocker is an in-memory Locker for testing
type MemoryLocker struct {
	mu      sync.Mutex
	markers map[string]memoryMarker
}

type memoryMarker struct {
	owner     string
	expiresAt time.Time
}

// NewMemoryLocker creates a new in-memory locker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{markers: make(map[string]memoryMarker)}
}

// Acquire sets the marker if absent or expired
func (l *MemoryLocker) Acquire(ctx context.Context, showtimeID, seatID, userID string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := lockKey(showtimeID, seatID)
	if marker, ok := l.markers[key]; ok && marker.expiresAt.After(time.Now()) {
		return false, nil
	}

	l.markers[key] = memoryMarker{owner: userID, expiresAt: time.Now().Add(ttl)}
	return true, nil
}

// Owner returns the current marker owner
func (l *MemoryLocker) Owner(ctx context.Context, showtimeID, seatID string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	marker, ok := l.markers[lockKey(showtimeID, seatID)]
	if !ok || !marker.expiresAt.After(time.Now()) {
		return "", nil
	}
	return marker.owner, nil
}

// Release deletes the marker only if userID owns it
func (l *MemoryLocker) Release(ctx context.Context, showtimeID, seatID, userID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := lockKey(showtimeID, seatID)
	marker, ok := l.markers[key]
	if !ok || marker.owner != userID {
		return false, nil
	}

	delete(l.markers, key)
	return true, nil
}

var _ Locker = (*MemoryLocker)(nil)
