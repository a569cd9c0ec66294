package seatinv

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// LayoutSeat is one physical seat of a room
type LayoutSeat struct {
	ID         string  `json:"id"`
	RoomID     string  `json:"roomId"`
	RowLabel   string  `json:"rowLabel"`
	ColNumber  int     `json:"colNumber"`
	PriceRatio float64 `json:"priceRatio"`
}

// LayoutStore persists the physical seat layout of rooms
type LayoutStore interface {
	// GetLayout retrieves all seats of a room
	GetLayout(ctx context.Context, roomID string) ([]*LayoutSeat, error)
	// GetByIDs retrieves seats by id, in no particular order
	GetByIDs(ctx context.Context, seatIDs []string) ([]*LayoutSeat, error)
	// Seed creates a rows x cols grid for a room. Existing seats are kept.
	Seed(ctx context.Context, roomID string, rows, cols int, priceRatio float64) error
}

// PostgresLayoutStore implements LayoutStore over the seats table
type PostgresLayoutStore struct {
	pool *pgxpool.Pool
}

// NewPostgresLayoutStore creates a PostgreSQL-backed layout store
func NewPostgresLayoutStore(pool *pgxpool.Pool) *PostgresLayoutStore {
	return &PostgresLayoutStore{pool: pool}
}

// GetLayout retrieves all seats of a room
func (s *PostgresLayoutStore) GetLayout(ctx context.Context, roomID string) ([]*LayoutSeat, error) {
	query := `
		SELECT id, room_id, row_label, col_number, price_ratio
		FROM seats
		WHERE room_id = $1
		ORDER BY row_label ASC, col_number ASC
	`

	rows, err := s.pool.Query(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to get seat layout: %w", err)
	}
	defer rows.Close()

	var seats []*LayoutSeat
	for rows.Next() {
		var seat LayoutSeat
		if err := rows.Scan(&seat.ID, &seat.RoomID, &seat.RowLabel, &seat.ColNumber, &seat.PriceRatio); err != nil {
			return nil, fmt.Errorf("failed to scan seat: %w", err)
		}
		seats = append(seats, &seat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating seats: %w", err)
	}
	return seats, nil
}

// GetByIDs retrieves seats by id
func (s *PostgresLayoutStore) GetByIDs(ctx context.Context, seatIDs []string) ([]*LayoutSeat, error) {
	if len(seatIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, room_id, row_label, col_number, price_ratio
		FROM seats
		WHERE id = ANY($1)
	`

	rows, err := s.pool.Query(ctx, query, seatIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get seats: %w", err)
	}
	defer rows.Close()

	var seats []*LayoutSeat
	for rows.Next() {
		var seat LayoutSeat
		if err := rows.Scan(&seat.ID, &seat.RoomID, &seat.RowLabel, &seat.ColNumber, &seat.PriceRatio); err != nil {
			return nil, fmt.Errorf("failed to scan seat: %w", err)
		}
		seats = append(seats, &seat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating seats: %w", err)
	}
	return seats, nil
}

// Seed creates a rows x cols grid for a room
func (s *PostgresLayoutStore) Seed(ctx context.Context, roomID string, rows, cols int, priceRatio float64) error {
	if rows <= 0 || cols <= 0 {
		return fmt.Errorf("invalid layout dimensions %dx%d", rows, cols)
	}
	if priceRatio <= 0 {
		priceRatio = 1
	}

	query := `
		INSERT INTO seats (id, room_id, row_label, col_number, price_ratio)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`

	for r := 0; r < rows; r++ {
		label := rowLabel(r)
		for c := 1; c <= cols; c++ {
			id := fmt.Sprintf("%s:%s%d", roomID, label, c)
			if _, err := s.pool.Exec(ctx, query, id, roomID, label, c, priceRatio); err != nil {
				return fmt.Errorf("failed to seed seat %s: %w", id, err)
			}
		}
	}
	return nil
}

// rowLabel converts a zero-based row index to A..Z, AA..AZ, ...
func rowLabel(row int) string {
	label := ""
	for {
		label = string(rune('A'+row%26)) + label
		row = row/26 - 1
		if row < 0 {
			break
		}
	}
	return label
}

var _ LayoutStore = (*PostgresLayoutStore)(nil)

// MemoryLayoutStore is an in-memory LayoutStore for testing
type MemoryLayoutStore struct {
	mu    sync.Mutex
	seats map[string]*LayoutSeat
}

// NewMemoryLayoutStore creates a new in-memory layout store
func NewMemoryLayoutStore() *MemoryLayoutStore {
	return &MemoryLayoutStore{seats: make(map[string]*LayoutSeat)}
}

// GetLayout retrieves all seats of a room
func (s *MemoryLayoutStore) GetLayout(ctx context.Context, roomID string) ([]*LayoutSeat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var seats []*LayoutSeat
	for _, seat := range s.seats {
		if seat.RoomID == roomID {
			out := *seat
			seats = append(seats, &out)
		}
	}
	return seats, nil
}

// GetByIDs retrieves seats by id
func (s *MemoryLayoutStore) GetByIDs(ctx context.Context, seatIDs []string) ([]*LayoutSeat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var seats []*LayoutSeat
	for _, id := range seatIDs {
		if seat, ok := s.seats[id]; ok {
			out := *seat
			seats = append(seats, &out)
		}
	}
	return seats, nil
}

// Seed creates a rows x cols grid for a room
func (s *MemoryLayoutStore) Seed(ctx context.Context, roomID string, rows, cols int, priceRatio float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if priceRatio <= 0 {
		priceRatio = 1
	}
	for r := 0; r < rows; r++ {
		label := rowLabel(r)
		for c := 1; c <= cols; c++ {
			id := fmt.Sprintf("%s:%s%d", roomID, label, c)
			if _, ok := s.seats[id]; ok {
				continue
			}
			s.seats[id] = &LayoutSeat{
				ID:         id,
				RoomID:     roomID,
				RowLabel:   label,
				ColNumber:  c,
				PriceRatio: priceRatio,
			}
		}
	}
	return nil
}

var _ LayoutStore = (*MemoryLayoutStore)(nil)
