package saga

import (
	"context"
	"time"

	"github.com/thanhphu2410/microservices-booking-app/pkg/kafka"
)

// Outbound command topics
const (
	TopicCreateBooking    = "create_booking"    // booking service
	TopicConfirmBooking   = "confirm_booking"   // booking service
	TopicCancelBooking    = "cancel_booking"    // booking service
	TopicSeatsBooked      = "seats_booked"      // booking service
	TopicBookingConfirmed = "booking_confirmed" // seat service
	TopicBookingCanceled  = "booking_canceled"  // seat service + notification
	TopicBookingComplete  = "booking_complete"  // notification
)

// CommandPublisher emits orchestrator commands to downstream services
type CommandPublisher interface {
	Publish(ctx context.Context, topic, key string, command interface{}) error
}

// KafkaPublisher implements CommandPublisher over a Kafka producer
type KafkaPublisher struct {
	producer *kafka.Producer
}

// NewKafkaPublisher creates a Kafka-backed command publisher
func NewKafkaPublisher(producer *kafka.Producer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

// Publish produces the command as JSON keyed by the saga correlation id
func (p *KafkaPublisher) Publish(ctx context.Context, topic, key string, command interface{}) error {
	return p.producer.ProduceJSON(ctx, topic, key, command, nil)
}

var _ CommandPublisher = (*KafkaPublisher)(nil)

// CreateBookingCommand asks the booking service to open a PENDING booking
type CreateBookingCommand struct {
	SagaID        string     `json:"sagaId"`
	UserID        string     `json:"userId"`
	ShowtimeID    string     `json:"showtimeId"`
	Seats         []Seat     `json:"seats"`
	HoldExpiresAt *time.Time `json:"holdExpiresAt,omitempty"`
}

// ConfirmBookingCommand asks the booking service to flip PENDING to PAID
type ConfirmBookingCommand struct {
	BookingID string `json:"bookingId"`
	SagaID    string `json:"sagaId"`
}

// CancelBookingCommand asks the booking service to cancel a booking
type CancelBookingCommand struct {
	BookingID string `json:"bookingId"`
	SagaID    string `json:"sagaId"`
	Reason    string `json:"reason,omitempty"`
}

// SeatsBookedCommand asks the booking service to finalize status BOOKED
type SeatsBookedCommand struct {
	BookingID string `json:"bookingId"`
	SagaID    string `json:"sagaId"`
}

// BookingConfirmedCommand asks the seat service to finalize HOLD to BOOKED
type BookingConfirmedCommand struct {
	BookingID  string   `json:"bookingId"`
	SagaID     string   `json:"sagaId"`
	SeatIDs    []string `json:"seatIds"`
	ShowtimeID string   `json:"showtimeId"`
	UserID     string   `json:"userId"`
}

// BookingCanceledCommand tells the seat service to release seats and the
// notification service to inform the user. Consumers read the fields
// they need and ignore the rest.
type BookingCanceledCommand struct {
	BookingID  string   `json:"bookingId"`
	SagaID     string   `json:"sagaId"`
	UserID     string   `json:"userId,omitempty"`
	SeatIDs    []string `json:"seatIds,omitempty"`
	ShowtimeID string   `json:"showtimeId,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// BookingCompleteCommand tells the notification service the booking is done
type BookingCompleteCommand struct {
	BookingID  string   `json:"bookingId"`
	SagaID     string   `json:"sagaId"`
	UserID     string   `json:"userId"`
	SeatIDs    []string `json:"seatIds,omitempty"`
	ShowtimeID string   `json:"showtimeId,omitempty"`
}
