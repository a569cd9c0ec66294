package seatinv

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrSeatNotTracked is returned when no status row exists for the seat
	ErrSeatNotTracked = errors.New("seat status not tracked")
	// ErrSeatStateConflict is returned when a transition's state guard fails
	ErrSeatStateConflict = errors.New("seat is not in the expected state")
)

// SeatState is the durable state of one (showtime, seat) pair
type SeatState string

const (
	SeatAvailable SeatState = "AVAILABLE"
	SeatHold      SeatState = "HOLD"
	SeatBooked    SeatState = "BOOKED"
)

// SeatStatus is the durable record of one seat's state for one showtime
type SeatStatus struct {
	ShowtimeID    string     `json:"showtimeId"`
	SeatID        string     `json:"seatId"`
	State         SeatState  `json:"status"`
	UserID        string     `json:"userId,omitempty"`
	BookingID     string     `json:"bookingId,omitempty"`
	HoldExpiresAt *time.Time `json:"holdExpiresAt,omitempty"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// HoldExpired reports whether the row is a HOLD whose expiry has passed
func (s *SeatStatus) HoldExpired(now time.Time) bool {
	return s.State == SeatHold && s.HoldExpiresAt != nil && !s.HoldExpiresAt.After(now)
}

// StatusStore persists the durable seat state machine
type StatusStore interface {
	// Get retrieves one seat's status row
	Get(ctx context.Context, showtimeID, seatID string) (*SeatStatus, error)
	// ListByShowtime retrieves all tracked seats of a showtime
	ListByShowtime(ctx context.Context, showtimeID string) ([]*SeatStatus, error)
	// Hold upserts the row to HOLD with a fresh owner and expiry
	Hold(ctx context.Context, showtimeID, seatID, userID string, expiresAt time.Time) error
	// Book transitions HOLD to BOOKED, guarded on the current state
	Book(ctx context.Context, showtimeID, seatID, userID, bookingID string) error
	// Release transitions the row back to AVAILABLE and clears ownership
	Release(ctx context.Context, showtimeID, seatID string) error
	// ListExpiredHolds returns HOLD rows whose expiry passed, for sweeping
	ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]*SeatStatus, error)
}

// MemoryStatusStore is an in-memory StatusStore for testing
type MemoryStatusStore struct {
	mu    sync.Mutex
	seats map[string]*SeatStatus
}

// NewMemoryStatusStore creates a new in-memory status store
func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{seats: make(map[string]*SeatStatus)}
}

func seatKey(showtimeID, seatID string) string {
	return showtimeID + "\x00" + seatID
}

// Get retrieves one seat's status row
func (s *MemoryStatusStore) Get(ctx context.Context, showtimeID, seatID string) (*SeatStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, ok := s.seats[seatKey(showtimeID, seatID)]
	if !ok {
		return nil, ErrSeatNotTracked
	}
	out := *status
	return &out, nil
}

// ListByShowtime retrieves all tracked seats of a showtime
func (s *MemoryStatusStore) ListByShowtime(ctx context.Context, showtimeID string) ([]*SeatStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*SeatStatus
	for _, status := range s.seats {
		if status.ShowtimeID == showtimeID {
			out := *status
			result = append(result, &out)
		}
	}
	return result, nil
}

// Hold upserts the row to HOLD
func (s *MemoryStatusStore) Hold(ctx context.Context, showtimeID, seatID, userID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seats[seatKey(showtimeID, seatID)] = &SeatStatus{
		ShowtimeID:    showtimeID,
		SeatID:        seatID,
		State:         SeatHold,
		UserID:        userID,
		HoldExpiresAt: &expiresAt,
		UpdatedAt:     time.Now(),
	}
	return nil
}

// Book transitions HOLD to BOOKED
func (s *MemoryStatusStore) Book(ctx context.Context, showtimeID, seatID, userID, bookingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, ok := s.seats[seatKey(showtimeID, seatID)]
	if !ok {
		return ErrSeatNotTracked
	}
	if status.State != SeatHold || status.UserID != userID {
		return ErrSeatStateConflict
	}

	status.State = SeatBooked
	status.BookingID = bookingID
	status.HoldExpiresAt = nil
	status.UpdatedAt = time.Now()
	return nil
}

// Release transitions the row back to AVAILABLE
func (s *MemoryStatusStore) Release(ctx context.Context, showtimeID, seatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, ok := s.seats[seatKey(showtimeID, seatID)]
	if !ok {
		return ErrSeatNotTracked
	}

	status.State = SeatAvailable
	status.UserID = ""
	status.BookingID = ""
	status.HoldExpiresAt = nil
	status.UpdatedAt = time.Now()
	return nil
}

// ListExpiredHolds returns HOLD rows whose expiry passed
func (s *MemoryStatusStore) ListExpiredHolds(ctx context.Context, now time.Time, limit int) ([]*SeatStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*SeatStatus
	for _, status := range s.seats {
		if status.HoldExpired(now) {
			out := *status
			result = append(result, &out)
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

var _ StatusStore = (*MemoryStatusStore)(nil)
