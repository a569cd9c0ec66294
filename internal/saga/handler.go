package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/thanhphu2410/microservices-booking-app/pkg/logger"
)

// Handler processes one inbound event type. Implementations are pure
// transitions over the ledger: they mutate saga state and emit the next
// command, nothing else.
type Handler interface {
	Handle(ctx context.Context, raw []byte) error
}

// handlerDeps is the shared wiring every action handler needs
type handlerDeps struct {
	ledger    Ledger
	publisher CommandPublisher
}

func (d *handlerDeps) log() *zap.Logger {
	return logger.Get()
}

// decode unmarshals a raw event, surfacing a consistent error shape
func decode(raw []byte, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode event: %w", err)
	}
	return nil
}

// findSaga locates a saga by booking id, falling back to saga id. A miss
// is reported via ErrSagaNotFound so callers can drop the event as stale.
func (d *handlerDeps) findSaga(ctx context.Context, bookingID, sagaID string) (*Instance, error) {
	if bookingID != "" {
		instance, err := d.ledger.GetByBookingID(ctx, bookingID)
		if err == nil {
			return instance, nil
		}
		if !errors.Is(err, ErrSagaNotFound) {
			return nil, err
		}
	}
	if sagaID != "" {
		return d.ledger.GetByID(ctx, sagaID)
	}
	return nil, ErrSagaNotFound
}

// completeStep transitions a step to a terminal status, tolerating a
// concurrent duplicate that already finished it
func (d *handlerDeps) completeStep(ctx context.Context, step *Step, status StepStatus, response interface{}, errMsg string) error {
	err := d.ledger.UpdateStep(ctx, step.ID, status, response, errMsg)
	if errors.Is(err, ErrStepAlreadyFinal) {
		d.log().Debug("step already finalized, skipping",
			zap.String("step_id", step.ID),
			zap.String("step_name", step.StepName))
		return nil
	}
	return err
}

// dropStale logs a precondition miss and swallows the event. Stale or
// duplicate deliveries must never resurrect a terminal saga.
func (d *handlerDeps) dropStale(event EventType, reason string, fields ...zap.Field) error {
	fields = append(fields,
		zap.String("event_type", string(event)),
		zap.String("reason", reason))
	d.log().Warn("dropping stale event", fields...)
	return nil
}
