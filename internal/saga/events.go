package saga

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies one kind of inbound orchestrator event. Event
// types double as the Kafka topic the event arrives on, except for
// payment events which share the payment_event topic.
type EventType string

const (
	EventSeatsHeld        EventType = "saga_seats_held"
	EventBookingCreated   EventType = "saga_booking_created"
	EventPaymentSuccess   EventType = "payment_success"
	EventPaymentFailed    EventType = "payment_failed"
	EventBookingConfirmed EventType = "saga_booking_confirmed"
	EventSeatConfirmed    EventType = "saga_seat_confirmed"
	EventBookingBooked    EventType = "saga_booking_booked"
	EventBookingFailed    EventType = "booking_failed"
)

// TopicPaymentEvent carries both payment outcomes in one envelope
const TopicPaymentEvent = "payment_event"

// Payment envelope event types inside TopicPaymentEvent
const (
	PaymentEventSuccess = "PAYMENT_SUCCESS"
	PaymentEventFailed  = "PAYMENT_FAILED"
)

// InboundTopics lists every topic the orchestrator consumes
func InboundTopics() []string {
	return []string{
		string(EventSeatsHeld),
		string(EventBookingCreated),
		TopicPaymentEvent,
		string(EventBookingConfirmed),
		string(EventSeatConfirmed),
		string(EventBookingBooked),
		string(EventBookingFailed),
	}
}

// ResolveEventType maps a topic and raw message to the event type that
// should handle it. Payment events are disambiguated by their envelope.
func ResolveEventType(topic string, raw []byte) (EventType, error) {
	if topic != TopicPaymentEvent {
		return EventType(topic), nil
	}

	var envelope struct {
		EventType string `json:"eventType"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", fmt.Errorf("failed to parse payment envelope: %w", err)
	}

	switch envelope.EventType {
	case PaymentEventSuccess:
		return EventPaymentSuccess, nil
	case PaymentEventFailed:
		return EventPaymentFailed, nil
	default:
		return "", fmt.Errorf("unknown payment event type %q", envelope.EventType)
	}
}

// SeatsHeldEvent is emitted by the seat service when every requested
// seat of a hold request was acquired
type SeatsHeldEvent struct {
	Seats         []Seat     `json:"seats"`
	ShowtimeID    string     `json:"showtimeId"`
	UserID        string     `json:"userId"`
	HoldExpiresAt *time.Time `json:"holdExpiresAt,omitempty"`
}

// SeatIDs returns the ids of the held seats
func (e *SeatsHeldEvent) SeatIDs() []string {
	ids := make([]string, len(e.Seats))
	for i, s := range e.Seats {
		ids[i] = s.ID
	}
	return ids
}

// BookingCreatedEvent is the booking service's reply to create_booking
type BookingCreatedEvent struct {
	BookingID   string   `json:"bookingId"`
	SagaID      string   `json:"sagaId"`
	UserID      string   `json:"userId"`
	SeatIDs     []string `json:"seatIds"`
	ShowtimeID  string   `json:"showtimeId"`
	TotalAmount float64  `json:"totalAmount"`
}

// PaymentEvent is the payment processor's outcome notification
type PaymentEvent struct {
	EventType     string  `json:"eventType"`
	BookingID     string  `json:"bookingId"`
	TransactionID string  `json:"transactionId,omitempty"`
	Amount        float64 `json:"amount"`
	Reason        string  `json:"reason,omitempty"`
}

// BookingConfirmedEvent is the booking service's reply to confirm_booking
type BookingConfirmedEvent struct {
	BookingID  string   `json:"bookingId"`
	SagaID     string   `json:"sagaId"`
	Success    bool     `json:"success"`
	SeatIDs    []string `json:"seatIds,omitempty"`
	ShowtimeID string   `json:"showtimeId,omitempty"`
	UserID     string   `json:"userId,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// SeatConfirmedEvent is the seat service's reply to booking_confirmed
type SeatConfirmedEvent struct {
	BookingID  string   `json:"bookingId"`
	SagaID     string   `json:"sagaId"`
	SeatIDs    []string `json:"seatIds"`
	ShowtimeID string   `json:"showtimeId"`
	UserID     string   `json:"userId"`
	Success    bool     `json:"success"`
	Reason     string   `json:"reason,omitempty"`
}

// BookingBookedEvent is the booking service's reply to seats_booked
type BookingBookedEvent struct {
	BookingID  string   `json:"bookingId"`
	SagaID     string   `json:"sagaId"`
	UserID     string   `json:"userId,omitempty"`
	SeatIDs    []string `json:"seatIds,omitempty"`
	ShowtimeID string   `json:"showtimeId,omitempty"`
}

// BookingFailedEvent signals a stalled or timed-out booking
type BookingFailedEvent struct {
	BookingID string `json:"bookingId"`
	SagaID    string `json:"sagaId,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// CorrelationKey extracts the natural dedup key of a raw event: the saga
// id when present, else the booking id. Returns "" when neither exists.
func CorrelationKey(raw []byte) string {
	var ids struct {
		SagaID    string `json:"sagaId"`
		BookingID string `json:"bookingId"`
	}
	if err := json.Unmarshal(raw, &ids); err != nil {
		return ""
	}
	if ids.SagaID != "" {
		return ids.SagaID
	}
	return ids.BookingID
}
