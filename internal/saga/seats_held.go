package saga

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/thanhphu2410/microservices-booking-app/pkg/telemetry"
)

// SeatsHeldHandler opens a new booking saga when the seat service reports
// a fully successful hold, and commands the booking service to create the
// PENDING booking.
type SeatsHeldHandler struct {
	handlerDeps
}

// NewSeatsHeldHandler creates the saga_seats_held handler
func NewSeatsHeldHandler(ledger Ledger, publisher CommandPublisher) *SeatsHeldHandler {
	return &SeatsHeldHandler{handlerDeps{ledger: ledger, publisher: publisher}}
}

// Handle creates the saga, records the seats_held step as done, opens the
// create_booking step and emits the create_booking command
func (h *SeatsHeldHandler) Handle(ctx context.Context, raw []byte) error {
	ctx, span := telemetry.StartSpan(ctx, "saga.SeatsHeld")
	defer span.End()

	var event SeatsHeldEvent
	if err := decode(raw, &event); err != nil {
		return err
	}
	if event.ShowtimeID == "" || event.UserID == "" || len(event.Seats) == 0 {
		return errors.New("seats held event missing showtimeId, userId or seats")
	}

	instance, err := h.ledger.CreateSaga(ctx, SagaTypeBooking, Payload{
		UserID:        event.UserID,
		ShowtimeID:    event.ShowtimeID,
		Seats:         event.Seats,
		SeatIDs:       event.SeatIDs(),
		HoldExpiresAt: event.HoldExpiresAt,
	})
	if err != nil {
		return err
	}

	heldStep, err := h.ledger.CreateStep(ctx, instance.ID, StepSeatsHeld, raw)
	if err != nil {
		return err
	}
	if err := h.completeStep(ctx, heldStep, StepSuccess, raw, ""); err != nil {
		return err
	}

	command := CreateBookingCommand{
		SagaID:        instance.ID,
		UserID:        event.UserID,
		ShowtimeID:    event.ShowtimeID,
		Seats:         event.Seats,
		HoldExpiresAt: event.HoldExpiresAt,
	}

	createStep, err := h.ledger.CreateStep(ctx, instance.ID, StepCreateBooking, command)
	if err != nil {
		return err
	}

	if err := h.ledger.UpdateSagaStatus(ctx, instance.ID, StatusInProgress, createStep.StepOrder); err != nil {
		return err
	}

	if err := h.publisher.Publish(ctx, TopicCreateBooking, instance.ID, command); err != nil {
		return err
	}

	h.log().Info("booking saga opened",
		zap.String("saga_id", instance.ID),
		zap.String("showtime_id", event.ShowtimeID),
		zap.String("user_id", event.UserID),
		zap.Int("seats", len(event.Seats)))
	return nil
}

var _ Handler = (*SeatsHeldHandler)(nil)
