package seatinv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/thanhphu2410/microservices-booking-app/internal/saga"
	"github.com/thanhphu2410/microservices-booking-app/pkg/kafka"
	"github.com/thanhphu2410/microservices-booking-app/pkg/logger"
	"github.com/thanhphu2410/microservices-booking-app/pkg/telemetry"
)

// DefaultHoldTTL is the hold duration applied when the caller passes none
const DefaultHoldTTL = 10 * time.Minute

// Publisher emits seat-service events to the orchestrator
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

// KafkaPublisher implements Publisher over a Kafka producer
type KafkaPublisher struct {
	producer *kafka.Producer
}

// NewKafkaPublisher creates a Kafka-backed publisher
func NewKafkaPublisher(producer *kafka.Producer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

// Publish produces the event as JSON
func (p *KafkaPublisher) Publish(ctx context.Context, topic, key string, value interface{}) error {
	return p.producer.ProduceJSON(ctx, topic, key, value, nil)
}

var _ Publisher = (*KafkaPublisher)(nil)

// HoldResult reports the per-seat outcome of one hold request
type HoldResult struct {
	Success       bool     `json:"success"`
	HeldSeatIDs   []string `json:"heldSeatIds"`
	FailedSeatIDs []string `json:"failedSeatIds"`
}

// OpResult reports the per-seat outcome of a book or release request
type OpResult struct {
	Success       bool     `json:"success"`
	SeatIDs       []string `json:"seatIds"`
	FailedSeatIDs []string `json:"failedSeatIds"`
}

// Service implements the seat hold/book/release protocol. The Redis
// marker serializes concurrent transitions per seat; the durable row is
// what read queries and the sweeper see.
type Service struct {
	locker    Locker
	store     StatusStore
	layout    LayoutStore
	publisher Publisher
	holdTTL   time.Duration
}

// NewService creates the seat inventory service
func NewService(locker Locker, store StatusStore, layout LayoutStore, publisher Publisher, holdTTL time.Duration) *Service {
	if holdTTL <= 0 {
		holdTTL = DefaultHoldTTL
	}
	return &Service{
		locker:    locker,
		store:     store,
		layout:    layout,
		publisher: publisher,
		holdTTL:   holdTTL,
	}
}

// GetSeatLayout returns the physical layout of a room
func (s *Service) GetSeatLayout(ctx context.Context, roomID string) ([]*LayoutSeat, error) {
	return s.layout.GetLayout(ctx, roomID)
}

// SeedLayout provisions the rows x cols grid for a room, keeping any
// seats that already exist, and returns the resulting layout
func (s *Service) SeedLayout(ctx context.Context, roomID string, rows, cols int, priceRatio float64) ([]*LayoutSeat, error) {
	ctx, span := telemetry.StartSpan(ctx, "seatinv.SeedLayout")
	defer span.End()

	if roomID == "" {
		return nil, errors.New("roomId is required")
	}
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("invalid layout dimensions %dx%d", rows, cols)
	}

	if err := s.layout.Seed(ctx, roomID, rows, cols, priceRatio); err != nil {
		return nil, err
	}

	logger.Get().Info("seat layout seeded",
		zap.String("room_id", roomID),
		zap.Int("rows", rows),
		zap.Int("cols", cols))
	return s.layout.GetLayout(ctx, roomID)
}

// GetSeatStatus returns the tracked seat states for a showtime
func (s *Service) GetSeatStatus(ctx context.Context, showtimeID string) ([]*SeatStatus, error) {
	return s.store.ListByShowtime(ctx, showtimeID)
}

// HoldSeats attempts to hold every requested seat for the user. Overall
// success requires every seat; on partial failure the already-held seats
// stay held and the caller reconciles with ReleaseSeats. The
// saga_seats_held event is emitted only on overall success.
func (s *Service) HoldSeats(ctx context.Context, showtimeID string, seatIDs []string, userID string, holdDuration time.Duration) (*HoldResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "seatinv.HoldSeats")
	defer span.End()

	if showtimeID == "" || userID == "" || len(seatIDs) == 0 {
		return nil, errors.New("showtimeId, userId and seatIds are required")
	}
	if holdDuration <= 0 {
		holdDuration = s.holdTTL
	}

	log := logger.Get()
	result := &HoldResult{}
	expiresAt := time.Now().Add(holdDuration)

	for _, seatID := range seatIDs {
		held, err := s.holdOne(ctx, showtimeID, seatID, userID, holdDuration, expiresAt)
		if err != nil {
			log.Error("hold attempt errored",
				zap.String("showtime_id", showtimeID),
				zap.String("seat_id", seatID),
				zap.Error(err))
			held = false
		}
		if held {
			result.HeldSeatIDs = append(result.HeldSeatIDs, seatID)
		} else {
			result.FailedSeatIDs = append(result.FailedSeatIDs, seatID)
		}
	}

	result.Success = len(result.FailedSeatIDs) == 0
	if !result.Success {
		log.Info("hold request partially failed",
			zap.String("showtime_id", showtimeID),
			zap.String("user_id", userID),
			zap.Strings("held", result.HeldSeatIDs),
			zap.Strings("failed", result.FailedSeatIDs))
		return result, nil
	}

	event := saga.SeatsHeldEvent{
		Seats:         s.describeSeats(ctx, seatIDs),
		ShowtimeID:    showtimeID,
		UserID:        userID,
		HoldExpiresAt: &expiresAt,
	}
	if err := s.publisher.Publish(ctx, string(saga.EventSeatsHeld), showtimeID, event); err != nil {
		// Seats stay held; the hold expiry bounds the damage if the
		// orchestrator never learns about them.
		log.Error("failed to emit seats held event",
			zap.String("showtime_id", showtimeID),
			zap.String("user_id", userID),
			zap.Error(err))
		return result, fmt.Errorf("failed to emit seats held event: %w", err)
	}

	log.Info("seats held",
		zap.String("showtime_id", showtimeID),
		zap.String("user_id", userID),
		zap.Strings("seat_ids", seatIDs))
	return result, nil
}

// holdOne runs the per-seat hold protocol: acquire the marker, verify
// the durable row is eligible (reclaiming an expired hold lazily), then
// write the HOLD row. Any ineligible outcome releases the marker.
func (s *Service) holdOne(ctx context.Context, showtimeID, seatID, userID string, ttl time.Duration, expiresAt time.Time) (bool, error) {
	acquired, err := s.locker.Acquire(ctx, showtimeID, seatID, userID, ttl)
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}

	status, err := s.store.Get(ctx, showtimeID, seatID)
	eligible := false
	switch {
	case errors.Is(err, ErrSeatNotTracked):
		eligible = true
	case err != nil:
		s.releaseMarker(ctx, showtimeID, seatID, userID)
		return false, err
	case status.State == SeatAvailable:
		eligible = true
	case status.HoldExpired(time.Now()):
		// Abandoned hold: reclaim it for the new owner
		eligible = true
	}

	if !eligible {
		s.releaseMarker(ctx, showtimeID, seatID, userID)
		return false, nil
	}

	if err := s.store.Hold(ctx, showtimeID, seatID, userID, expiresAt); err != nil {
		s.releaseMarker(ctx, showtimeID, seatID, userID)
		return false, err
	}
	return true, nil
}

// BookSeats finalizes HOLD to BOOKED for seats whose marker the caller
// still owns, clearing the marker afterwards
func (s *Service) BookSeats(ctx context.Context, showtimeID string, seatIDs []string, userID, bookingID string) (*OpResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "seatinv.BookSeats")
	defer span.End()

	if showtimeID == "" || userID == "" || len(seatIDs) == 0 {
		return nil, errors.New("showtimeId, userId and seatIds are required")
	}

	log := logger.Get()
	result := &OpResult{}

	for _, seatID := range seatIDs {
		if !s.ownsSeat(ctx, showtimeID, seatID, userID) {
			result.FailedSeatIDs = append(result.FailedSeatIDs, seatID)
			continue
		}

		if err := s.store.Book(ctx, showtimeID, seatID, userID, bookingID); err != nil {
			log.Warn("seat booking rejected",
				zap.String("showtime_id", showtimeID),
				zap.String("seat_id", seatID),
				zap.Error(err))
			result.FailedSeatIDs = append(result.FailedSeatIDs, seatID)
			continue
		}

		s.releaseMarker(ctx, showtimeID, seatID, userID)
		result.SeatIDs = append(result.SeatIDs, seatID)
	}

	result.Success = len(result.FailedSeatIDs) == 0
	return result, nil
}

// ReleaseSeats returns held seats to AVAILABLE, owner-gated like booking
func (s *Service) ReleaseSeats(ctx context.Context, showtimeID string, seatIDs []string, userID string) (*OpResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "seatinv.ReleaseSeats")
	defer span.End()

	if showtimeID == "" || userID == "" || len(seatIDs) == 0 {
		return nil, errors.New("showtimeId, userId and seatIds are required")
	}

	log := logger.Get()
	result := &OpResult{}

	for _, seatID := range seatIDs {
		if !s.ownsSeat(ctx, showtimeID, seatID, userID) {
			result.FailedSeatIDs = append(result.FailedSeatIDs, seatID)
			continue
		}

		if err := s.store.Release(ctx, showtimeID, seatID); err != nil {
			log.Warn("seat release rejected",
				zap.String("showtime_id", showtimeID),
				zap.String("seat_id", seatID),
				zap.Error(err))
			result.FailedSeatIDs = append(result.FailedSeatIDs, seatID)
			continue
		}

		s.releaseMarker(ctx, showtimeID, seatID, userID)
		result.SeatIDs = append(result.SeatIDs, seatID)
	}

	result.Success = len(result.FailedSeatIDs) == 0
	return result, nil
}

// ownsSeat reports whether the user may transition the seat right now:
// either the marker names them, or the marker expired and the durable
// HOLD row still names them.
func (s *Service) ownsSeat(ctx context.Context, showtimeID, seatID, userID string) bool {
	owner, err := s.locker.Owner(ctx, showtimeID, seatID)
	if err != nil {
		logger.Get().Error("failed to read seat marker",
			zap.String("showtime_id", showtimeID),
			zap.String("seat_id", seatID),
			zap.Error(err))
		return false
	}
	if owner != "" {
		return owner == userID
	}

	status, err := s.store.Get(ctx, showtimeID, seatID)
	if err != nil {
		return false
	}
	return status.State == SeatHold && status.UserID == userID
}

func (s *Service) releaseMarker(ctx context.Context, showtimeID, seatID, userID string) {
	if _, err := s.locker.Release(ctx, showtimeID, seatID, userID); err != nil {
		logger.Get().Error("failed to release seat marker",
			zap.String("showtime_id", showtimeID),
			zap.String("seat_id", seatID),
			zap.Error(err))
	}
}

// describeSeats resolves price ratios from the layout, defaulting to 1
// for seats the layout does not know
func (s *Service) describeSeats(ctx context.Context, seatIDs []string) []saga.Seat {
	ratios := make(map[string]float64, len(seatIDs))
	if s.layout != nil {
		if seats, err := s.layout.GetByIDs(ctx, seatIDs); err == nil {
			for _, seat := range seats {
				ratios[seat.ID] = seat.PriceRatio
			}
		}
	}

	out := make([]saga.Seat, len(seatIDs))
	for i, id := range seatIDs {
		ratio := ratios[id]
		if ratio <= 0 {
			ratio = 1
		}
		out[i] = saga.Seat{ID: id, PriceRatio: ratio}
	}
	return out
}
