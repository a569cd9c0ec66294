package saga

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/thanhphu2410/microservices-booking-app/pkg/telemetry"
)

// BookingConfirmedHandler processes the booking service's reply to
// confirm_booking. Success advances to seat finalization; failure is a
// terminal saga outcome.
type BookingConfirmedHandler struct {
	handlerDeps
}

// NewBookingConfirmedHandler creates the saga_booking_confirmed handler
func NewBookingConfirmedHandler(ledger Ledger, publisher CommandPublisher) *BookingConfirmedHandler {
	return &BookingConfirmedHandler{handlerDeps{ledger: ledger, publisher: publisher}}
}

// Handle closes the confirm_booking step and, on success, commands the
// seat service to finalize the held seats
func (h *BookingConfirmedHandler) Handle(ctx context.Context, raw []byte) error {
	ctx, span := telemetry.StartSpan(ctx, "saga.BookingConfirmed")
	defer span.End()

	var event BookingConfirmedEvent
	if err := decode(raw, &event); err != nil {
		return err
	}

	instance, err := h.findSaga(ctx, event.BookingID, event.SagaID)
	if err != nil {
		if errors.Is(err, ErrSagaNotFound) {
			return h.dropStale(EventBookingConfirmed, "saga not found",
				zap.String("booking_id", event.BookingID),
				zap.String("saga_id", event.SagaID))
		}
		return err
	}

	step := instance.FindPendingStep(StepConfirmBooking)
	if step == nil {
		return h.dropStale(EventBookingConfirmed, "confirm_booking step not pending",
			zap.String("saga_id", instance.ID))
	}

	if !event.Success {
		if err := h.completeStep(ctx, step, StepFailed, raw, event.Reason); err != nil {
			return err
		}
		h.log().Warn("booking confirmation rejected",
			zap.String("saga_id", instance.ID),
			zap.String("booking_id", event.BookingID),
			zap.String("reason", event.Reason))
		return h.ledger.UpdateSagaStatus(ctx, instance.ID, StatusFailed, step.StepOrder)
	}

	if err := h.completeStep(ctx, step, StepSuccess, raw, ""); err != nil {
		return err
	}

	command := BookingConfirmedCommand{
		BookingID:  event.BookingID,
		SagaID:     instance.ID,
		SeatIDs:    instance.Payload.SeatIDs,
		ShowtimeID: instance.Payload.ShowtimeID,
		UserID:     instance.Payload.UserID,
	}
	if len(event.SeatIDs) > 0 {
		command.SeatIDs = event.SeatIDs
	}
	if event.ShowtimeID != "" {
		command.ShowtimeID = event.ShowtimeID
	}
	if event.UserID != "" {
		command.UserID = event.UserID
	}

	seatStep, err := h.ledger.CreateStep(ctx, instance.ID, StepSeatConfirmation, command)
	if err != nil {
		return err
	}

	if err := h.ledger.UpdateSagaStatus(ctx, instance.ID, StatusInProgress, seatStep.StepOrder); err != nil {
		return err
	}

	if err := h.publisher.Publish(ctx, TopicBookingConfirmed, instance.ID, command); err != nil {
		return err
	}

	h.log().Info("booking confirmed, finalizing seats",
		zap.String("saga_id", instance.ID),
		zap.String("booking_id", event.BookingID))
	return nil
}

var _ Handler = (*BookingConfirmedHandler)(nil)
