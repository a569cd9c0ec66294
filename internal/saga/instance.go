package saga

import (
	"errors"
	"time"
)

var (
	// ErrSagaNotFound is returned when a saga instance is not found
	ErrSagaNotFound = errors.New("saga instance not found")
	// ErrStepNotFound is returned when a saga step is not found
	ErrStepNotFound = errors.New("saga step not found")
	// ErrStepAlreadyFinal is returned when a step already holds a terminal status
	ErrStepAlreadyFinal = errors.New("saga step already in terminal status")
)

// Status represents the lifecycle state of a saga instance
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// StepStatus represents the lifecycle state of a single saga step
type StepStatus string

const (
	StepPending     StepStatus = "PENDING"
	StepSuccess     StepStatus = "SUCCESS"
	StepFailed      StepStatus = "FAILED"
	StepCompensated StepStatus = "COMPENSATED"
)

// IsTerminal reports whether the step status is final
func (s StepStatus) IsTerminal() bool {
	return s == StepSuccess || s == StepFailed || s == StepCompensated
}

// SagaTypeBooking is the saga type for the booking flow
const SagaTypeBooking = "booking"

// Step names within a booking saga
const (
	StepSeatsHeld        = "seats_held"
	StepCreateBooking    = "create_booking"
	StepPaymentSucceeded = "payment_succeeded"
	StepConfirmBooking   = "confirm_booking"
	StepSeatConfirmation = "seat_confirmation"
	StepSeatsBooked      = "seats_booked"
	StepBookingComplete  = "booking_complete"

	StepCancelBooking = "cancel_booking"
	StepReleaseSeats  = "release_seats"
	StepNotifyFailure = "notify_failure"
)

// Seat is one seat selection with its price weight
type Seat struct {
	ID         string  `json:"id"`
	PriceRatio float64 `json:"priceRatio"`
}

// PayloadSchemaVersion is the current payload schema version
const PayloadSchemaVersion = 1

// Payload accumulates the facts a booking saga learns as it progresses.
// Fields are only ever added or overwritten with fresher values, never
// cleared, so the payload doubles as an audit trail of what was known.
type Payload struct {
	SchemaVersion int        `json:"schemaVersion"`
	SagaID        string     `json:"sagaId,omitempty"`
	BookingID     string     `json:"bookingId,omitempty"`
	UserID        string     `json:"userId,omitempty"`
	ShowtimeID    string     `json:"showtimeId,omitempty"`
	Seats         []Seat     `json:"seats,omitempty"`
	SeatIDs       []string   `json:"seatIds,omitempty"`
	HoldExpiresAt *time.Time `json:"holdExpiresAt,omitempty"`
	TotalAmount   float64    `json:"totalAmount,omitempty"`
}

// Merge returns a copy of p with the non-zero fields of other applied
func (p Payload) Merge(other Payload) Payload {
	merged := p
	if merged.SchemaVersion == 0 {
		merged.SchemaVersion = PayloadSchemaVersion
	}
	if other.SagaID != "" {
		merged.SagaID = other.SagaID
	}
	if other.BookingID != "" {
		merged.BookingID = other.BookingID
	}
	if other.UserID != "" {
		merged.UserID = other.UserID
	}
	if other.ShowtimeID != "" {
		merged.ShowtimeID = other.ShowtimeID
	}
	if len(other.Seats) > 0 {
		merged.Seats = other.Seats
	}
	if len(other.SeatIDs) > 0 {
		merged.SeatIDs = other.SeatIDs
	}
	if other.HoldExpiresAt != nil {
		merged.HoldExpiresAt = other.HoldExpiresAt
	}
	if other.TotalAmount != 0 {
		merged.TotalAmount = other.TotalAmount
	}
	return merged
}

// Instance is the durable record of one booking's cross-service plan
type Instance struct {
	ID          string    `json:"id"`
	SagaType    string    `json:"saga_type"`
	Status      Status    `json:"status"`
	CurrentStep int       `json:"current_step"`
	Payload     Payload   `json:"payload"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Steps ordered by StepOrder, populated by ledger lookups
	Steps []*Step `json:"steps,omitempty"`
}

// Step is one recorded transition within a saga. A step is created
// PENDING and moves exactly once to a terminal status.
type Step struct {
	ID              string     `json:"id"`
	SagaID          string     `json:"saga_id"`
	StepOrder       int        `json:"step_order"`
	StepName        string     `json:"step_name"`
	Status          StepStatus `json:"status"`
	RequestPayload  []byte     `json:"request_payload,omitempty"`
	ResponsePayload []byte     `json:"response_payload,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// FindStep returns the latest step with the given name, or nil
func (i *Instance) FindStep(name string) *Step {
	for idx := len(i.Steps) - 1; idx >= 0; idx-- {
		if i.Steps[idx].StepName == name {
			return i.Steps[idx]
		}
	}
	return nil
}

// FindPendingStep returns the latest PENDING step with the given name, or nil
func (i *Instance) FindPendingStep(name string) *Step {
	for idx := len(i.Steps) - 1; idx >= 0; idx-- {
		if i.Steps[idx].StepName == name && i.Steps[idx].Status == StepPending {
			return i.Steps[idx]
		}
	}
	return nil
}
