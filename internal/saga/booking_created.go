package saga

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/thanhphu2410/microservices-booking-app/pkg/telemetry"
)

// BookingCreatedHandler records the booking id and amount reported by the
// booking service and closes the create_booking step. Payment happens
// out-of-band; the saga then waits for a payment event.
type BookingCreatedHandler struct {
	handlerDeps
}

// NewBookingCreatedHandler creates the saga_booking_created handler
func NewBookingCreatedHandler(ledger Ledger, publisher CommandPublisher) *BookingCreatedHandler {
	return &BookingCreatedHandler{handlerDeps{ledger: ledger, publisher: publisher}}
}

// Handle accumulates the learned facts and finalizes the create_booking step
func (h *BookingCreatedHandler) Handle(ctx context.Context, raw []byte) error {
	ctx, span := telemetry.StartSpan(ctx, "saga.BookingCreated")
	defer span.End()

	var event BookingCreatedEvent
	if err := decode(raw, &event); err != nil {
		return err
	}

	instance, err := h.ledger.GetByID(ctx, event.SagaID)
	if err != nil {
		if errors.Is(err, ErrSagaNotFound) {
			return h.dropStale(EventBookingCreated, "saga not found",
				zap.String("saga_id", event.SagaID))
		}
		return err
	}

	step := instance.FindPendingStep(StepCreateBooking)
	if step == nil {
		return h.dropStale(EventBookingCreated, "create_booking step not pending",
			zap.String("saga_id", instance.ID),
			zap.String("booking_id", event.BookingID))
	}

	if err := h.ledger.UpdatePayload(ctx, instance.ID, Payload{
		BookingID:   event.BookingID,
		SeatIDs:     event.SeatIDs,
		TotalAmount: event.TotalAmount,
	}); err != nil {
		return err
	}

	if err := h.completeStep(ctx, step, StepSuccess, raw, ""); err != nil {
		return err
	}

	h.log().Info("booking created, awaiting payment",
		zap.String("saga_id", instance.ID),
		zap.String("booking_id", event.BookingID),
		zap.Float64("total_amount", event.TotalAmount))
	return nil
}

var _ Handler = (*BookingCreatedHandler)(nil)
