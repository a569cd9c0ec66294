package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Ledger is the durable record-keeping surface for saga instances and
// their steps. All orchestration state lives here; handlers are stateless.
type Ledger interface {
	// CreateSaga persists a new saga instance with the given type and payload
	CreateSaga(ctx context.Context, sagaType string, payload Payload) (*Instance, error)
	// GetByID retrieves a saga with its steps ordered by step_order
	GetByID(ctx context.Context, id string) (*Instance, error)
	// GetByBookingID retrieves the saga whose payload recorded the booking id
	GetByBookingID(ctx context.Context, bookingID string) (*Instance, error)
	// UpdateSagaStatus transitions the saga status and current step ordinal
	UpdateSagaStatus(ctx context.Context, sagaID string, status Status, currentStep int) error
	// UpdatePayload merges newly learned facts into the saga payload
	UpdatePayload(ctx context.Context, sagaID string, facts Payload) error
	// CreateStep appends a PENDING step with step_order = max+1 under the saga
	CreateStep(ctx context.Context, sagaID, stepName string, requestPayload interface{}) (*Step, error)
	// UpdateStep transitions a step exactly once to a terminal status
	UpdateStep(ctx context.Context, stepID string, status StepStatus, responsePayload interface{}, errorMessage string) error
	// GetSteps retrieves all steps of a saga ordered by step_order
	GetSteps(ctx context.Context, sagaID string) ([]*Step, error)
}

// MemoryLedger is an in-memory Ledger for testing
type MemoryLedger struct {
	mu     sync.Mutex
	sagas  map[string]*Instance
	steps  map[string]*Step   // by step id
	bySaga map[string][]*Step // ordered by step_order
}

// NewMemoryLedger creates a new in-memory ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		sagas:  make(map[string]*Instance),
		steps:  make(map[string]*Step),
		bySaga: make(map[string][]*Step),
	}
}

// CreateSaga persists a new saga instance
func (l *MemoryLedger) CreateSaga(ctx context.Context, sagaType string, payload Payload) (*Instance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	instance := &Instance{
		ID:        uuid.NewString(),
		SagaType:  sagaType,
		Status:    StatusPending,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if instance.Payload.SchemaVersion == 0 {
		instance.Payload.SchemaVersion = PayloadSchemaVersion
	}
	instance.Payload.SagaID = instance.ID

	l.sagas[instance.ID] = instance
	return copyInstance(instance), nil
}

// GetByID retrieves a saga with its steps
func (l *MemoryLedger) GetByID(ctx context.Context, id string) (*Instance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	instance, ok := l.sagas[id]
	if !ok {
		return nil, ErrSagaNotFound
	}

	out := copyInstance(instance)
	out.Steps = copySteps(l.bySaga[id])
	return out, nil
}

// GetByBookingID retrieves the saga that recorded the booking id
func (l *MemoryLedger) GetByBookingID(ctx context.Context, bookingID string) (*Instance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var found *Instance
	for _, instance := range l.sagas {
		if instance.Payload.BookingID != bookingID {
			continue
		}
		if found == nil || instance.CreatedAt.After(found.CreatedAt) {
			found = instance
		}
	}
	if found == nil {
		return nil, ErrSagaNotFound
	}

	out := copyInstance(found)
	out.Steps = copySteps(l.bySaga[found.ID])
	return out, nil
}

// UpdateSagaStatus transitions the saga status
func (l *MemoryLedger) UpdateSagaStatus(ctx context.Context, sagaID string, status Status, currentStep int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	instance, ok := l.sagas[sagaID]
	if !ok {
		return ErrSagaNotFound
	}

	instance.Status = status
	if currentStep > 0 {
		instance.CurrentStep = currentStep
	}
	instance.UpdatedAt = time.Now()
	return nil
}

// UpdatePayload merges facts into the saga payload
func (l *MemoryLedger) UpdatePayload(ctx context.Context, sagaID string, facts Payload) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	instance, ok := l.sagas[sagaID]
	if !ok {
		return ErrSagaNotFound
	}

	instance.Payload = instance.Payload.Merge(facts)
	instance.UpdatedAt = time.Now()
	return nil
}

// CreateStep appends a PENDING step with the next step_order
func (l *MemoryLedger) CreateStep(ctx context.Context, sagaID, stepName string, requestPayload interface{}) (*Step, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.sagas[sagaID]; !ok {
		return nil, ErrSagaNotFound
	}

	request, err := marshalPayload(requestPayload)
	if err != nil {
		return nil, err
	}

	step := &Step{
		ID:             uuid.NewString(),
		SagaID:         sagaID,
		StepOrder:      len(l.bySaga[sagaID]) + 1,
		StepName:       stepName,
		Status:         StepPending,
		RequestPayload: request,
		StartedAt:      time.Now(),
	}

	l.steps[step.ID] = step
	l.bySaga[sagaID] = append(l.bySaga[sagaID], step)
	return copyStep(step), nil
}

// UpdateStep transitions a step to a terminal status exactly once
func (l *MemoryLedger) UpdateStep(ctx context.Context, stepID string, status StepStatus, responsePayload interface{}, errorMessage string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	step, ok := l.steps[stepID]
	if !ok {
		return ErrStepNotFound
	}
	if step.Status.IsTerminal() {
		return ErrStepAlreadyFinal
	}

	response, err := marshalPayload(responsePayload)
	if err != nil {
		return err
	}

	now := time.Now()
	step.Status = status
	step.ResponsePayload = response
	step.ErrorMessage = errorMessage
	step.FinishedAt = &now
	return nil
}

// GetSteps retrieves all steps of a saga ordered by step_order
func (l *MemoryLedger) GetSteps(ctx context.Context, sagaID string) ([]*Step, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.sagas[sagaID]; !ok {
		return nil, ErrSagaNotFound
	}
	return copySteps(l.bySaga[sagaID]), nil
}

func marshalPayload(v interface{}) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.([]byte); ok {
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal step payload: %w", err)
	}
	return data, nil
}

func copyInstance(in *Instance) *Instance {
	out := *in
	out.Steps = nil
	return &out
}

func copyStep(in *Step) *Step {
	out := *in
	return &out
}

func copySteps(in []*Step) []*Step {
	out := make([]*Step, len(in))
	for i, s := range in {
		out[i] = copyStep(s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepOrder < out[j].StepOrder })
	return out
}

var _ Ledger = (*MemoryLedger)(nil)
