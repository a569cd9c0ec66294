package saga

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/thanhphu2410/microservices-booking-app/pkg/telemetry"
)

// BookingBookedHandler closes out a successful saga: the booking service
// reported the final BOOKED status, so the user is notified and the saga
// is marked COMPLETED.
type BookingBookedHandler struct {
	handlerDeps
}

// NewBookingBookedHandler creates the saga_booking_booked handler
func NewBookingBookedHandler(ledger Ledger, publisher CommandPublisher) *BookingBookedHandler {
	return &BookingBookedHandler{handlerDeps{ledger: ledger, publisher: publisher}}
}

// Handle finalizes the seats_booked step, notifies the user and completes
// the saga
func (h *BookingBookedHandler) Handle(ctx context.Context, raw []byte) error {
	ctx, span := telemetry.StartSpan(ctx, "saga.BookingBooked")
	defer span.End()

	var event BookingBookedEvent
	if err := decode(raw, &event); err != nil {
		return err
	}

	instance, err := h.findSaga(ctx, event.BookingID, event.SagaID)
	if err != nil {
		if errors.Is(err, ErrSagaNotFound) {
			return h.dropStale(EventBookingBooked, "saga not found",
				zap.String("booking_id", event.BookingID),
				zap.String("saga_id", event.SagaID))
		}
		return err
	}

	step := instance.FindPendingStep(StepSeatsBooked)
	if step == nil {
		return h.dropStale(EventBookingBooked, "seats_booked step not pending",
			zap.String("saga_id", instance.ID))
	}

	if err := h.completeStep(ctx, step, StepSuccess, raw, ""); err != nil {
		return err
	}

	command := BookingCompleteCommand{
		BookingID:  event.BookingID,
		SagaID:     instance.ID,
		UserID:     instance.Payload.UserID,
		SeatIDs:    instance.Payload.SeatIDs,
		ShowtimeID: instance.Payload.ShowtimeID,
	}

	notifyStep, err := h.ledger.CreateStep(ctx, instance.ID, StepBookingComplete, command)
	if err != nil {
		return err
	}

	if err := h.publisher.Publish(ctx, TopicBookingComplete, instance.ID, command); err != nil {
		if updateErr := h.completeStep(ctx, notifyStep, StepFailed, nil, err.Error()); updateErr != nil {
			h.log().Error("failed to mark notify step failed",
				zap.String("step_id", notifyStep.ID), zap.Error(updateErr))
		}
		return err
	}

	if err := h.completeStep(ctx, notifyStep, StepSuccess, command, ""); err != nil {
		return err
	}

	if err := h.ledger.UpdateSagaStatus(ctx, instance.ID, StatusCompleted, notifyStep.StepOrder); err != nil {
		return err
	}

	h.log().Info("booking saga completed",
		zap.String("saga_id", instance.ID),
		zap.String("booking_id", event.BookingID))
	return nil
}

var _ Handler = (*BookingBookedHandler)(nil)
