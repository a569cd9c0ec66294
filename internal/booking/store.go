package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrBookingNotFound is returned when no booking matches
	ErrBookingNotFound = errors.New("booking not found")
)

// Status is the booking lifecycle state
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusPaid     Status = "PAID"
	StatusBooked   Status = "BOOKED"
	StatusFailed   Status = "FAILED"
	StatusCanceled Status = "CANCELED"
)

// Booking is the slice of the booking ledger the timeout sweeper needs
type Booking struct {
	ID               string     `json:"id"`
	SagaID           string     `json:"sagaId,omitempty"`
	UserID           string     `json:"userId"`
	ShowtimeID       string     `json:"showtimeId"`
	SeatIDs          []string   `json:"seatIds"`
	Status           Status     `json:"status"`
	ConfirmExpiresAt *time.Time `json:"confirmExpiresAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Store is the booking persistence surface used by the sweeper
type Store interface {
	// ListExpiredPaid returns PAID bookings whose confirm window passed
	ListExpiredPaid(ctx context.Context, now time.Time, limit int) ([]*Booking, error)
	// MarkFailed flips a PAID booking to FAILED; a booking no longer PAID
	// is left untouched and reported via ErrBookingNotFound
	MarkFailed(ctx context.Context, id string) error
}

// PostgresStore implements Store over the bookings table
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed booking store
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// ListExpiredPaid returns PAID bookings whose confirm window passed
func (s *PostgresStore) ListExpiredPaid(ctx context.Context, now time.Time, limit int) ([]*Booking, error) {
	query := `
		SELECT id, saga_id, user_id, showtime_id, seat_ids, status, confirm_expires_at, created_at, updated_at
		FROM bookings
		WHERE status = $1 AND confirm_expires_at <= $2
		ORDER BY confirm_expires_at ASC
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.pool.Query(ctx, query, string(StatusPaid), now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*Booking
	for rows.Next() {
		var b Booking
		var statusStr string
		var sagaID *string

		err := rows.Scan(
			&b.ID,
			&sagaID,
			&b.UserID,
			&b.ShowtimeID,
			&b.SeatIDs,
			&statusStr,
			&b.ConfirmExpiresAt,
			&b.CreatedAt,
			&b.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}

		b.Status = Status(statusStr)
		if sagaID != nil {
			b.SagaID = *sagaID
		}
		bookings = append(bookings, &b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bookings: %w", err)
	}
	return bookings, nil
}

// MarkFailed flips a PAID booking to FAILED
func (s *PostgresStore) MarkFailed(ctx context.Context, id string) error {
	query := `
		UPDATE bookings
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`

	result, err := s.pool.Exec(ctx, query, id, string(StatusFailed), string(StatusPaid))
	if err != nil {
		return fmt.Errorf("failed to mark booking failed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrBookingNotFound
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)

// MemoryStore is an in-memory Store for testing
type MemoryStore struct {
	mu       sync.Mutex
	bookings map[string]*Booking
}

// NewMemoryStore creates a new in-memory booking store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bookings: make(map[string]*Booking)}
}

// Put stores a booking, overwriting any existing one (test setup helper)
func (s *MemoryStore) Put(b *Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *b
	s.bookings[b.ID] = &copied
}

// Get returns a booking by id (test inspection helper)
func (s *MemoryStore) Get(id string) (*Booking, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, false
	}
	copied := *b
	return &copied, true
}

// ListExpiredPaid returns PAID bookings whose confirm window passed
func (s *MemoryStore) ListExpiredPaid(ctx context.Context, now time.Time, limit int) ([]*Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*Booking
	for _, b := range s.bookings {
		if b.Status == StatusPaid && b.ConfirmExpiresAt != nil && !b.ConfirmExpiresAt.After(now) {
			copied := *b
			result = append(result, &copied)
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

// MarkFailed flips a PAID booking to FAILED
func (s *MemoryStore) MarkFailed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok || b.Status != StatusPaid {
		return ErrBookingNotFound
	}

	b.Status = StatusFailed
	b.UpdatedAt = time.Now()
	return nil
}

var _ Store = (*MemoryStore)(nil)
