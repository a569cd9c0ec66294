package saga

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/thanhphu2410/microservices-booking-app/pkg/telemetry"
)

// BookingFailedHandler reacts to a timed-out or force-failed booking by
// failing every step still in flight and the saga itself.
type BookingFailedHandler struct {
	handlerDeps
}

// NewBookingFailedHandler creates the booking_failed handler
func NewBookingFailedHandler(ledger Ledger, publisher CommandPublisher) *BookingFailedHandler {
	return &BookingFailedHandler{handlerDeps{ledger: ledger, publisher: publisher}}
}

// Handle fails all PENDING steps and marks the saga FAILED
func (h *BookingFailedHandler) Handle(ctx context.Context, raw []byte) error {
	ctx, span := telemetry.StartSpan(ctx, "saga.BookingFailed")
	defer span.End()

	var event BookingFailedEvent
	if err := decode(raw, &event); err != nil {
		return err
	}

	instance, err := h.findSaga(ctx, event.BookingID, event.SagaID)
	if err != nil {
		if errors.Is(err, ErrSagaNotFound) {
			return h.dropStale(EventBookingFailed, "saga not found",
				zap.String("booking_id", event.BookingID),
				zap.String("saga_id", event.SagaID))
		}
		return err
	}

	reason := event.Reason
	if reason == "" {
		reason = "booking failed"
	}

	for _, step := range instance.Steps {
		if step.Status != StepPending {
			continue
		}
		if err := h.completeStep(ctx, step, StepFailed, nil, reason); err != nil {
			h.log().Error("failed to fail pending step",
				zap.String("saga_id", instance.ID),
				zap.String("step_id", step.ID),
				zap.Error(err))
		}
	}

	if err := h.ledger.UpdateSagaStatus(ctx, instance.ID, StatusFailed, 0); err != nil {
		return err
	}

	h.log().Warn("booking saga failed",
		zap.String("saga_id", instance.ID),
		zap.String("booking_id", event.BookingID),
		zap.String("reason", reason))
	return nil
}

var _ Handler = (*BookingFailedHandler)(nil)
