// Package idempotency provides a record-and-check primitive that turns
// at-least-once message delivery into at-most-once effect application.
// Callers Begin an attempt under a (scope, key) pair; the first writer
// wins the in_progress slot, everyone else observes its status instead
// of re-executing the effect.
package idempotency

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrRecordNotFound is returned when no record exists for (scope, key)
	ErrRecordNotFound = errors.New("idempotency record not found")
)

// Status is the lifecycle state of one recorded attempt
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
)

// Record is one attempt at one logical operation
type Record struct {
	Scope        string     `json:"scope"`
	Key          string     `json:"key"`
	Status       Status     `json:"status"`
	ResponseJSON []byte     `json:"response_json,omitempty"`
	ErrorJSON    []byte     `json:"error_json,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Decision tells the caller whether it won the attempt slot
type Decision int

const (
	// Proceed means this caller inserted the in_progress record and must
	// execute the effect, then call Succeed or Fail.
	Proceed Decision = iota
	// Duplicate means another attempt exists; inspect the record status
	// and skip the effect.
	Duplicate
)

// Guard is the record-and-check surface used by event consumers
type Guard interface {
	// Begin claims the (scope, key) slot. On conflict the existing record
	// is returned with Decision Duplicate. A conflicting record whose
	// expiry has passed is reclaimed and treated as a fresh attempt.
	Begin(ctx context.Context, scope, key string, ttl time.Duration) (Decision, *Record, error)
	// Succeed transitions the record to its terminal succeeded state
	Succeed(ctx context.Context, scope, key string, responseJSON []byte) error
	// Fail transitions the record to its terminal failed state
	Fail(ctx context.Context, scope, key string, errorJSON []byte) error
}

// MemoryGuard is an in-memory Guard for testing
type MemoryGuard struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewMemoryGuard creates a new in-memory guard
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{records: make(map[string]*Record)}
}

func recordKey(scope, key string) string {
	return scope + "\x00" + key
}

// Begin claims the (scope, key) slot
func (g *MemoryGuard) Begin(ctx context.Context, scope, key string, ttl time.Duration) (Decision, *Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	if existing, ok := g.records[recordKey(scope, key)]; ok {
		if existing.ExpiresAt == nil || existing.ExpiresAt.After(now) {
			out := *existing
			return Duplicate, &out, nil
		}
		// Expired record: reclaim the slot below
	}

	record := &Record{
		Scope:     scope,
		Key:       key,
		Status:    StatusInProgress,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if ttl > 0 {
		expires := now.Add(ttl)
		record.ExpiresAt = &expires
	}

	g.records[recordKey(scope, key)] = record
	out := *record
	return Proceed, &out, nil
}

// Succeed transitions the record to succeeded
func (g *MemoryGuard) Succeed(ctx context.Context, scope, key string, responseJSON []byte) error {
	return g.finish(scope, key, StatusSucceeded, responseJSON, nil)
}

// Fail transitions the record to failed
func (g *MemoryGuard) Fail(ctx context.Context, scope, key string, errorJSON []byte) error {
	return g.finish(scope, key, StatusFailed, nil, errorJSON)
}

func (g *MemoryGuard) finish(scope, key string, status Status, responseJSON, errorJSON []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	record, ok := g.records[recordKey(scope, key)]
	if !ok {
		return ErrRecordNotFound
	}

	record.Status = status
	record.ResponseJSON = responseJSON
	record.ErrorJSON = errorJSON
	record.UpdatedAt = time.Now()
	return nil
}

var _ Guard = (*MemoryGuard)(nil)
