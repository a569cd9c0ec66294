package saga

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/thanhphu2410/microservices-booking-app/pkg/telemetry"
)

// PaymentFailedHandler fails the saga and runs the compensation chain:
// cancel the booking, release the held seats, notify the user. The three
// sub-steps are best-effort: each is created and terminally recorded even
// when a sibling fails, and the saga finishes COMPLETED once all three
// have been attempted.
type PaymentFailedHandler struct {
	handlerDeps
}

// NewPaymentFailedHandler creates the PAYMENT_FAILED handler
func NewPaymentFailedHandler(ledger Ledger, publisher CommandPublisher) *PaymentFailedHandler {
	return &PaymentFailedHandler{handlerDeps{ledger: ledger, publisher: publisher}}
}

// Handle marks the saga FAILED and attempts all compensation sub-steps
func (h *PaymentFailedHandler) Handle(ctx context.Context, raw []byte) error {
	ctx, span := telemetry.StartSpan(ctx, "saga.PaymentFailed")
	defer span.End()

	var event PaymentEvent
	if err := decode(raw, &event); err != nil {
		return err
	}

	instance, err := h.ledger.GetByBookingID(ctx, event.BookingID)
	if err != nil {
		if errors.Is(err, ErrSagaNotFound) {
			return h.dropStale(EventPaymentFailed, "no saga for booking",
				zap.String("booking_id", event.BookingID))
		}
		return err
	}

	if err := h.ledger.UpdateSagaStatus(ctx, instance.ID, StatusFailed, 0); err != nil {
		return err
	}

	h.log().Warn("payment failed, compensating",
		zap.String("saga_id", instance.ID),
		zap.String("booking_id", event.BookingID),
		zap.String("reason", event.Reason))

	h.compensate(ctx, instance, StepCancelBooking, TopicCancelBooking, CancelBookingCommand{
		BookingID: event.BookingID,
		SagaID:    instance.ID,
		Reason:    event.Reason,
	})

	h.compensate(ctx, instance, StepReleaseSeats, TopicBookingCanceled, BookingCanceledCommand{
		BookingID:  event.BookingID,
		SagaID:     instance.ID,
		UserID:     instance.Payload.UserID,
		SeatIDs:    instance.Payload.SeatIDs,
		ShowtimeID: instance.Payload.ShowtimeID,
		Reason:     event.Reason,
	})

	h.compensate(ctx, instance, StepNotifyFailure, TopicBookingCanceled, BookingCanceledCommand{
		BookingID: event.BookingID,
		SagaID:    instance.ID,
		UserID:    instance.Payload.UserID,
		Reason:    event.Reason,
	})

	// Compensation was attempted for every sub-step; whether each one
	// landed downstream is a monitoring concern, not a saga outcome.
	return h.ledger.UpdateSagaStatus(ctx, instance.ID, StatusCompleted, 0)
}

// compensate records one compensation sub-step. A sub-step failure is
// logged on its own step and never aborts the siblings.
func (h *PaymentFailedHandler) compensate(ctx context.Context, instance *Instance, stepName, topic string, command interface{}) {
	step, err := h.ledger.CreateStep(ctx, instance.ID, stepName, command)
	if err != nil {
		h.log().Error("failed to record compensation step",
			zap.String("saga_id", instance.ID),
			zap.String("step_name", stepName),
			zap.Error(err))
		return
	}

	if err := h.publisher.Publish(ctx, topic, instance.ID, command); err != nil {
		h.log().Error("compensation command failed",
			zap.String("saga_id", instance.ID),
			zap.String("step_name", stepName),
			zap.Error(err))
		if updateErr := h.completeStep(ctx, step, StepFailed, nil, err.Error()); updateErr != nil {
			h.log().Error("failed to mark compensation step failed",
				zap.String("step_id", step.ID), zap.Error(updateErr))
		}
		return
	}

	if err := h.completeStep(ctx, step, StepCompensated, command, ""); err != nil {
		h.log().Error("failed to finalize compensation step",
			zap.String("step_id", step.ID), zap.Error(err))
	}
}

var _ Handler = (*PaymentFailedHandler)(nil)
