package saga

import (
	"context"

	"go.uber.org/zap"

	"github.com/thanhphu2410/microservices-booking-app/pkg/logger"
)

// Dispatcher routes inbound events to the one handler registered for
// their event type. It holds no business logic and no state beyond the
// lookup table; unknown event types are logged and dropped.
type Dispatcher struct {
	handlers map[EventType]Handler
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[EventType]Handler)}
}

// NewBookingDispatcher wires the full booking saga handler table
func NewBookingDispatcher(ledger Ledger, publisher CommandPublisher) *Dispatcher {
	d := NewDispatcher()
	d.Register(EventSeatsHeld, NewSeatsHeldHandler(ledger, publisher))
	d.Register(EventBookingCreated, NewBookingCreatedHandler(ledger, publisher))
	d.Register(EventPaymentSuccess, NewPaymentSuccessHandler(ledger, publisher))
	d.Register(EventPaymentFailed, NewPaymentFailedHandler(ledger, publisher))
	d.Register(EventBookingConfirmed, NewBookingConfirmedHandler(ledger, publisher))
	d.Register(EventSeatConfirmed, NewSeatConfirmedHandler(ledger, publisher))
	d.Register(EventBookingBooked, NewBookingBookedHandler(ledger, publisher))
	d.Register(EventBookingFailed, NewBookingFailedHandler(ledger, publisher))
	return d
}

// Register binds a handler to an event type
func (d *Dispatcher) Register(eventType EventType, handler Handler) {
	d.handlers[eventType] = handler
}

// Dispatch invokes the handler registered for the event type. An
// unregistered type is not an error: the event is logged and dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, eventType EventType, raw []byte) error {
	handler, ok := d.handlers[eventType]
	if !ok {
		logger.Get().Warn("no handler for event type, dropping",
			zap.String("event_type", string(eventType)))
		return nil
	}
	return handler.Handle(ctx, raw)
}
