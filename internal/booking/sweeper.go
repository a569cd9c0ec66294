package booking

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/thanhphu2410/microservices-booking-app/internal/saga"
	"github.com/thanhphu2410/microservices-booking-app/pkg/kafka"
	"github.com/thanhphu2410/microservices-booking-app/pkg/logger"
)

// Publisher emits booking-service events
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

const timeoutReason = "confirmation timeout"

// TimeoutSweeper force-fails PAID bookings whose confirmation window
// passed. Each stalled booking is flipped to FAILED, the orchestrator is
// told via booking_failed, and the seat service is told to release the
// seats via booking_canceled.
type TimeoutSweeper struct {
	store     Store
	publisher Publisher
	interval  time.Duration
	batch     int
}

// NewTimeoutSweeper creates the booking timeout sweeper
func NewTimeoutSweeper(store Store, publisher Publisher, interval time.Duration, batch int) *TimeoutSweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &TimeoutSweeper{
		store:     store,
		publisher: publisher,
		interval:  interval,
		batch:     batch,
	}
}

// Run sweeps until ctx is canceled
func (w *TimeoutSweeper) Run(ctx context.Context) error {
	log := logger.Get()
	log.Info("booking timeout sweeper started", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("booking timeout sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			if n := w.Sweep(ctx); n > 0 {
				log.Info("failed stalled bookings", zap.Int("count", n))
			}
		}
	}
}

// Sweep fails one batch of stalled bookings and returns the count
func (w *TimeoutSweeper) Sweep(ctx context.Context) int {
	log := logger.Get()

	expired, err := w.store.ListExpiredPaid(ctx, time.Now(), w.batch)
	if err != nil {
		log.Error("failed to list stalled bookings", zap.Error(err))
		return 0
	}

	failed := 0
	for _, b := range expired {
		if err := w.store.MarkFailed(ctx, b.ID); err != nil {
			// Lost the race to a confirmation or a concurrent sweep
			log.Debug("booking no longer stalled, skipping",
				zap.String("booking_id", b.ID), zap.Error(err))
			continue
		}
		w.notify(ctx, b)
		failed++
	}
	return failed
}

// notify tells the orchestrator and the seat service about the failure.
// Emission is best-effort: the booking row is already FAILED and a
// missed event only delays seat release until the hold expiry.
func (w *TimeoutSweeper) notify(ctx context.Context, b *Booking) {
	log := logger.Get()

	event := saga.BookingFailedEvent{
		BookingID: b.ID,
		SagaID:    b.SagaID,
		Reason:    timeoutReason,
	}
	if err := w.publisher.Publish(ctx, string(saga.EventBookingFailed), b.ID, event); err != nil {
		log.Error("failed to emit booking failed event",
			zap.String("booking_id", b.ID), zap.Error(err))
	}

	release := saga.BookingCanceledCommand{
		BookingID:  b.ID,
		SagaID:     b.SagaID,
		UserID:     b.UserID,
		SeatIDs:    b.SeatIDs,
		ShowtimeID: b.ShowtimeID,
		Reason:     timeoutReason,
	}
	if err := w.publisher.Publish(ctx, saga.TopicBookingCanceled, b.ID, release); err != nil {
		log.Error("failed to emit seat release command",
			zap.String("booking_id", b.ID), zap.Error(err))
	}

	log.Warn("booking timed out",
		zap.String("booking_id", b.ID),
		zap.String("saga_id", b.SagaID),
		zap.Strings("seat_ids", b.SeatIDs))
}
