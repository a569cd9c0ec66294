package seatinv

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/thanhphu2410/microservices-booking-app/pkg/logger"
)

// HoldSweeper periodically releases HOLD rows whose expiry passed but
// whose cleanup never ran, covering holders that crashed before
// releasing. Both the durable row and the marker are cleared.
type HoldSweeper struct {
	store    StatusStore
	locker   Locker
	interval time.Duration
	batch    int
}

// NewHoldSweeper creates the expired-hold sweeper
func NewHoldSweeper(store StatusStore, locker Locker, interval time.Duration, batch int) *HoldSweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	return &HoldSweeper{
		store:    store,
		locker:   locker,
		interval: interval,
		batch:    batch,
	}
}

// Run sweeps until ctx is canceled
func (w *HoldSweeper) Run(ctx context.Context) error {
	log := logger.Get()
	log.Info("hold sweeper started", zap.Duration("interval", w.interval))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("hold sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			if n := w.Sweep(ctx); n > 0 {
				log.Info("released expired holds", zap.Int("count", n))
			}
		}
	}
}

// Sweep releases one batch of expired holds and returns the count
func (w *HoldSweeper) Sweep(ctx context.Context) int {
	log := logger.Get()

	expired, err := w.store.ListExpiredHolds(ctx, time.Now(), w.batch)
	if err != nil {
		log.Error("failed to list expired holds", zap.Error(err))
		return 0
	}

	released := 0
	for _, status := range expired {
		if err := w.store.Release(ctx, status.ShowtimeID, status.SeatID); err != nil {
			log.Error("failed to release expired hold",
				zap.String("showtime_id", status.ShowtimeID),
				zap.String("seat_id", status.SeatID),
				zap.Error(err))
			continue
		}
		if _, err := w.locker.Release(ctx, status.ShowtimeID, status.SeatID, status.UserID); err != nil {
			log.Error("failed to clear marker of expired hold",
				zap.String("showtime_id", status.ShowtimeID),
				zap.String("seat_id", status.SeatID),
				zap.Error(err))
		}
		released++
	}
	return released
}
