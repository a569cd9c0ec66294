package saga

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/thanhphu2410/microservices-booking-app/pkg/telemetry"
)

// PaymentSuccessHandler reacts to a successful payment by recording it
// and commanding the booking service to confirm the booking.
type PaymentSuccessHandler struct {
	handlerDeps
}

// NewPaymentSuccessHandler creates the PAYMENT_SUCCESS handler
func NewPaymentSuccessHandler(ledger Ledger, publisher CommandPublisher) *PaymentSuccessHandler {
	return &PaymentSuccessHandler{handlerDeps{ledger: ledger, publisher: publisher}}
}

// Handle records the payment and opens the confirm_booking step
func (h *PaymentSuccessHandler) Handle(ctx context.Context, raw []byte) error {
	ctx, span := telemetry.StartSpan(ctx, "saga.PaymentSuccess")
	defer span.End()

	var event PaymentEvent
	if err := decode(raw, &event); err != nil {
		return err
	}

	instance, err := h.ledger.GetByBookingID(ctx, event.BookingID)
	if err != nil {
		if errors.Is(err, ErrSagaNotFound) {
			return h.dropStale(EventPaymentSuccess, "no saga for booking",
				zap.String("booking_id", event.BookingID))
		}
		return err
	}

	if instance.FindStep(StepPaymentSucceeded) != nil {
		return h.dropStale(EventPaymentSuccess, "payment already recorded",
			zap.String("saga_id", instance.ID),
			zap.String("booking_id", event.BookingID))
	}

	paymentStep, err := h.ledger.CreateStep(ctx, instance.ID, StepPaymentSucceeded, raw)
	if err != nil {
		return err
	}
	if err := h.completeStep(ctx, paymentStep, StepSuccess, raw, ""); err != nil {
		return err
	}

	command := ConfirmBookingCommand{
		BookingID: event.BookingID,
		SagaID:    instance.ID,
	}

	confirmStep, err := h.ledger.CreateStep(ctx, instance.ID, StepConfirmBooking, command)
	if err != nil {
		return err
	}

	if err := h.ledger.UpdateSagaStatus(ctx, instance.ID, StatusInProgress, confirmStep.StepOrder); err != nil {
		return err
	}

	if err := h.publisher.Publish(ctx, TopicConfirmBooking, instance.ID, command); err != nil {
		return err
	}

	h.log().Info("payment succeeded, confirming booking",
		zap.String("saga_id", instance.ID),
		zap.String("booking_id", event.BookingID),
		zap.String("transaction_id", event.TransactionID))
	return nil
}

var _ Handler = (*PaymentSuccessHandler)(nil)
