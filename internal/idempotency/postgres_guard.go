package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolationCode = "23505"

// PostgresGuard implements Guard over the idempotency_records table.
// First-writer-wins is enforced by the unique (scope, key) index: the
// losing insert surfaces as a unique violation and the loser reads the
// winner's record instead.
type PostgresGuard struct {
	pool *pgxpool.Pool
}

// NewPostgresGuard creates a PostgreSQL-backed guard
func NewPostgresGuard(pool *pgxpool.Pool) *PostgresGuard {
	return &PostgresGuard{pool: pool}
}

// Begin claims the (scope, key) slot
func (g *PostgresGuard) Begin(ctx context.Context, scope, key string, ttl time.Duration) (Decision, *Record, error) {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}

	// Two attempts: the second covers the race where the conflicting
	// record expired and was reclaimed between our insert and read.
	for attempt := 0; attempt < 2; attempt++ {
		record, err := g.insert(ctx, scope, key, expiresAt)
		if err == nil {
			return Proceed, record, nil
		}

		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolationCode {
			return Duplicate, nil, err
		}

		existing, err := g.get(ctx, scope, key)
		if err != nil {
			if errors.Is(err, ErrRecordNotFound) {
				continue
			}
			return Duplicate, nil, err
		}

		if existing.ExpiresAt != nil && !existing.ExpiresAt.After(time.Now()) {
			if err := g.reclaim(ctx, scope, key, *existing.ExpiresAt); err != nil {
				return Duplicate, nil, err
			}
			continue
		}

		return Duplicate, existing, nil
	}

	// Lost the reclaim race twice; report whatever record stands now
	existing, err := g.get(ctx, scope, key)
	if err != nil {
		return Duplicate, nil, fmt.Errorf("failed to resolve idempotency slot: %w", err)
	}
	return Duplicate, existing, nil
}

// Succeed transitions the record to succeeded
func (g *PostgresGuard) Succeed(ctx context.Context, scope, key string, responseJSON []byte) error {
	return g.finish(ctx, scope, key, StatusSucceeded, responseJSON, nil)
}

// Fail transitions the record to failed
func (g *PostgresGuard) Fail(ctx context.Context, scope, key string, errorJSON []byte) error {
	return g.finish(ctx, scope, key, StatusFailed, nil, errorJSON)
}

func (g *PostgresGuard) insert(ctx context.Context, scope, key string, expiresAt *time.Time) (*Record, error) {
	query := `
		INSERT INTO idempotency_records (scope, key, status, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING created_at, updated_at
	`

	record := &Record{
		Scope:     scope,
		Key:       key,
		Status:    StatusInProgress,
		ExpiresAt: expiresAt,
	}

	err := g.pool.QueryRow(ctx, query, scope, key, string(StatusInProgress), expiresAt).
		Scan(&record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (g *PostgresGuard) get(ctx context.Context, scope, key string) (*Record, error) {
	query := `
		SELECT scope, key, status, response_json, error_json, expires_at, created_at, updated_at
		FROM idempotency_records
		WHERE scope = $1 AND key = $2
	`

	var record Record
	var statusStr string
	err := g.pool.QueryRow(ctx, query, scope, key).Scan(
		&record.Scope,
		&record.Key,
		&statusStr,
		&record.ResponseJSON,
		&record.ErrorJSON,
		&record.ExpiresAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get idempotency record: %w", err)
	}

	record.Status = Status(statusStr)
	return &record, nil
}

// reclaim deletes an expired record so the slot can be re-claimed. The
// expires_at predicate keeps a concurrent fresh record intact.
func (g *PostgresGuard) reclaim(ctx context.Context, scope, key string, expiresAt time.Time) error {
	query := `
		DELETE FROM idempotency_records
		WHERE scope = $1 AND key = $2 AND expires_at = $3 AND expires_at <= NOW()
	`
	if _, err := g.pool.Exec(ctx, query, scope, key, expiresAt); err != nil {
		return fmt.Errorf("failed to reclaim expired record: %w", err)
	}
	return nil
}

func (g *PostgresGuard) finish(ctx context.Context, scope, key string, status Status, responseJSON, errorJSON []byte) error {
	query := `
		UPDATE idempotency_records
		SET status = $3, response_json = $4, error_json = $5, updated_at = NOW()
		WHERE scope = $1 AND key = $2
	`

	result, err := g.pool.Exec(ctx, query, scope, key, string(status), responseJSON, errorJSON)
	if err != nil {
		return fmt.Errorf("failed to finish idempotency record: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

var _ Guard = (*PostgresGuard)(nil)
