package saga

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/thanhphu2410/microservices-booking-app/pkg/telemetry"
)

// SeatConfirmedHandler processes the seat service's reply to
// booking_confirmed. Success commands the booking service to record the
// final BOOKED status; failure ends the saga FAILED.
type SeatConfirmedHandler struct {
	handlerDeps
}

// NewSeatConfirmedHandler creates the saga_seat_confirmed handler
func NewSeatConfirmedHandler(ledger Ledger, publisher CommandPublisher) *SeatConfirmedHandler {
	return &SeatConfirmedHandler{handlerDeps{ledger: ledger, publisher: publisher}}
}

// Handle closes the seat_confirmation step and advances to seats_booked
func (h *SeatConfirmedHandler) Handle(ctx context.Context, raw []byte) error {
	ctx, span := telemetry.StartSpan(ctx, "saga.SeatConfirmed")
	defer span.End()

	var event SeatConfirmedEvent
	if err := decode(raw, &event); err != nil {
		return err
	}

	instance, err := h.findSaga(ctx, event.BookingID, event.SagaID)
	if err != nil {
		if errors.Is(err, ErrSagaNotFound) {
			return h.dropStale(EventSeatConfirmed, "saga not found",
				zap.String("booking_id", event.BookingID),
				zap.String("saga_id", event.SagaID))
		}
		return err
	}

	step := instance.FindPendingStep(StepSeatConfirmation)
	if step == nil {
		return h.dropStale(EventSeatConfirmed, "seat_confirmation step not pending",
			zap.String("saga_id", instance.ID))
	}

	if !event.Success {
		if err := h.completeStep(ctx, step, StepFailed, raw, event.Reason); err != nil {
			return err
		}
		h.log().Warn("seat finalization rejected",
			zap.String("saga_id", instance.ID),
			zap.String("booking_id", event.BookingID),
			zap.String("reason", event.Reason))
		return h.ledger.UpdateSagaStatus(ctx, instance.ID, StatusFailed, step.StepOrder)
	}

	if err := h.completeStep(ctx, step, StepSuccess, raw, ""); err != nil {
		return err
	}

	command := SeatsBookedCommand{
		BookingID: event.BookingID,
		SagaID:    instance.ID,
	}

	bookedStep, err := h.ledger.CreateStep(ctx, instance.ID, StepSeatsBooked, command)
	if err != nil {
		return err
	}

	if err := h.ledger.UpdateSagaStatus(ctx, instance.ID, StatusInProgress, bookedStep.StepOrder); err != nil {
		return err
	}

	if err := h.publisher.Publish(ctx, TopicSeatsBooked, instance.ID, command); err != nil {
		return err
	}

	h.log().Info("seats finalized, recording booked status",
		zap.String("saga_id", instance.ID),
		zap.String("booking_id", event.BookingID))
	return nil
}

var _ Handler = (*SeatConfirmedHandler)(nil)
