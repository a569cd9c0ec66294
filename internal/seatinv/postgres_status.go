package seatinv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStatusStore implements StatusStore over the seat_status table
type PostgresStatusStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStatusStore creates a PostgreSQL-backed status store
func NewPostgresStatusStore(pool *pgxpool.Pool) *PostgresStatusStore {
	return &PostgresStatusStore{pool: pool}
}

// Get retrieves one seat's status row
func (s *PostgresStatusStore) Get(ctx context.Context, showtimeID, seatID string) (*SeatStatus, error) {
	query := `
		SELECT showtime_id, seat_id, status, user_id, booking_id, hold_expires_at, updated_at
		FROM seat_status
		WHERE showtime_id = $1 AND seat_id = $2
	`
	return scanSeatStatus(s.pool.QueryRow(ctx, query, showtimeID, seatID))
}

// ListByShowtime retrieves all tracked seats of a showtime
func (s *PostgresStatusStore) ListByShowtime(ctx context.Context, showtimeID string) ([]*SeatStatus, error) {
	query := `
		SELECT showtime_id, seat_id, status, user_id, booking_id, hold_expires_at, updated_at
		FROM seat_status
		WHERE showtime_id = $1
		ORDER BY seat_id ASC
	`

	rows, err := s.pool.Query(ctx, query, showtimeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list seat status: %w", err)
	}
	defer rows.Close()

	return scanSeatStatuses(rows)
}

// Hold upserts the row to HOLD with a fresh owner and expiry
func (s *PostgresStatusStore) Hold(ctx context.Context, showtimeID, seatID, userID string, expiresAt time.Time) error {
	query := `
		INSERT INTO seat_status (showtime_id, seat_id, status, user_id, booking_id, hold_expires_at, updated_at)
		VALUES ($1, $2, $3, $4, NULL, $5, NOW())
		ON CONFLICT (showtime_id, seat_id)
		DO UPDATE SET status = $3, user_id = $4, booking_id = NULL, hold_expires_at = $5, updated_at = NOW()
	`

	if _, err := s.pool.Exec(ctx, query, showtimeID, seatID, string(SeatHold), userID, expiresAt); err != nil {
		return fmt.Errorf("failed to hold seat: %w", err)
	}
	return nil
}

// Book transitions HOLD to BOOKED, guarded on the current state and owner
func (s *PostgresStatusStore) Book(ctx context.Context, showtimeID, seatID, userID, bookingID string) error {
	query := `
		UPDATE seat_status
		SET status = $5, booking_id = $4, hold_expires_at = NULL, updated_at = NOW()
		WHERE showtime_id = $1 AND seat_id = $2 AND user_id = $3 AND status = $6
	`

	result, err := s.pool.Exec(ctx, query, showtimeID, seatID, userID, bookingID, string(SeatBooked), string(SeatHold))
	if err != nil {
		return fmt.Errorf("failed to book seat: %w", err)
	}
	if result.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM seat_status WHERE showtime_id = $1 AND seat_id = $2)`,
			showtimeID, seatID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check seat status: %w", err)
		}
		if !exists {
			return ErrSeatNotTracked
		}
		return ErrSeatStateConflict
	}
	return nil
}

// Release transitions the row back to AVAILABLE and clears ownership
func (s *PostgresStatusStore) Release(ctx context.Context, showtimeID, seatID string) error {
	query := `
		UPDATE seat_status
		SET status = $3, user_id = NULL, booking_id = NULL, hold_expires_at = NULL, updated_at = NOW()
		WHERE showtime_id = $1 AND seat_id = $2
	`

	result, err := s.pool.Exec(ctx, query, showtimeID, seatID, string(SeatAvailable))
	if err != nil {
		return fmt.Errorf("failed to release seat: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrSeatNotTracked
	}
	return nil
}

// ListExpiredHolds returns HOLD rows whose expiry passed
func (s *PostgresStatusStore) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]*SeatStatus, error) {
	query := `
		SELECT showtime_id, seat_id, status, user_id, booking_id, hold_expires_at, updated_at
		FROM seat_status
		WHERE status = $1 AND hold_expires_at <= $2
		ORDER BY hold_expires_at ASC
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.pool.Query(ctx, query, string(SeatHold), now)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired holds: %w", err)
	}
	defer rows.Close()

	return scanSeatStatuses(rows)
}

func scanSeatStatus(row pgx.Row) (*SeatStatus, error) {
	var status SeatStatus
	var stateStr string
	var userID, bookingID *string

	err := row.Scan(
		&status.ShowtimeID,
		&status.SeatID,
		&stateStr,
		&userID,
		&bookingID,
		&status.HoldExpiresAt,
		&status.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSeatNotTracked
		}
		return nil, fmt.Errorf("failed to scan seat status: %w", err)
	}

	status.State = SeatState(stateStr)
	if userID != nil {
		status.UserID = *userID
	}
	if bookingID != nil {
		status.BookingID = *bookingID
	}
	return &status, nil
}

func scanSeatStatuses(rows pgx.Rows) ([]*SeatStatus, error) {
	var result []*SeatStatus
	for rows.Next() {
		var status SeatStatus
		var stateStr string
		var userID, bookingID *string

		err := rows.Scan(
			&status.ShowtimeID,
			&status.SeatID,
			&stateStr,
			&userID,
			&bookingID,
			&status.HoldExpiresAt,
			&status.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan seat status: %w", err)
		}

		status.State = SeatState(stateStr)
		if userID != nil {
			status.UserID = *userID
		}
		if bookingID != nil {
			status.BookingID = *bookingID
		}
		result = append(result, &status)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating seat status: %w", err)
	}
	return result, nil
}

var _ StatusStore = (*PostgresStatusStore)(nil)
