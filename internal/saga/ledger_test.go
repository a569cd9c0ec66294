package saga

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryLedgerCreateSaga(t *testing.T) {
	ledger := NewMemoryLedger()
	ctx := context.Background()

	instance, err := ledger.CreateSaga(ctx, SagaTypeBooking, Payload{
		UserID:     "user-1",
		ShowtimeID: "show-1",
		Seats:      []Seat{{ID: "A1", PriceRatio: 1.5}},
	})
	if err != nil {
		t.Fatalf("CreateSaga failed: %v", err)
	}
	if instance.ID == "" {
		t.Error("Expected generated saga id")
	}
	if instance.Status != StatusPending {
		t.Errorf("Expected status PENDING, got %s", instance.Status)
	}
	if instance.Payload.SagaID != instance.ID {
		t.Errorf("Expected payload sagaId %s, got %s", instance.ID, instance.Payload.SagaID)
	}
	if instance.Payload.SchemaVersion != PayloadSchemaVersion {
		t.Errorf("Expected schema version %d, got %d", PayloadSchemaVersion, instance.Payload.SchemaVersion)
	}
}

func TestMemoryLedgerStepOrderMonotonic(t *testing.T) {
	ledger := NewMemoryLedger()
	ctx := context.Background()

	instance, err := ledger.CreateSaga(ctx, SagaTypeBooking, Payload{UserID: "user-1"})
	if err != nil {
		t.Fatalf("CreateSaga failed: %v", err)
	}

	names := []string{StepSeatsHeld, StepCreateBooking, StepPaymentSucceeded}
	for i, name := range names {
		step, err := ledger.CreateStep(ctx, instance.ID, name, nil)
		if err != nil {
			t.Fatalf("CreateStep %s failed: %v", name, err)
		}
		if step.StepOrder != i+1 {
			t.Errorf("Expected step_order %d for %s, got %d", i+1, name, step.StepOrder)
		}
		if step.Status != StepPending {
			t.Errorf("Expected new step PENDING, got %s", step.Status)
		}
	}
}

func TestMemoryLedgerStepOrderConcurrent(t *testing.T) {
	ledger := NewMemoryLedger()
	ctx := context.Background()

	instance, err := ledger.CreateSaga(ctx, SagaTypeBooking, Payload{UserID: "user-1"})
	if err != nil {
		t.Fatalf("CreateSaga failed: %v", err)
	}

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.CreateStep(ctx, instance.ID, StepSeatsHeld, nil); err != nil {
				t.Errorf("CreateStep failed: %v", err)
			}
		}()
	}
	wg.Wait()

	steps, err := ledger.GetSteps(ctx, instance.ID)
	if err != nil {
		t.Fatalf("GetSteps failed: %v", err)
	}
	if len(steps) != workers {
		t.Fatalf("Expected %d steps, got %d", workers, len(steps))
	}

	seen := make(map[int]bool)
	for _, step := range steps {
		if seen[step.StepOrder] {
			t.Errorf("Duplicate step_order %d", step.StepOrder)
		}
		seen[step.StepOrder] = true
	}
	for order := 1; order <= workers; order++ {
		if !seen[order] {
			t.Errorf("Missing step_order %d", order)
		}
	}
}

func TestMemoryLedgerUpdateStepExactlyOnce(t *testing.T) {
	ledger := NewMemoryLedger()
	ctx := context.Background()

	instance, _ := ledger.CreateSaga(ctx, SagaTypeBooking, Payload{UserID: "user-1"})
	step, err := ledger.CreateStep(ctx, instance.ID, StepCreateBooking, nil)
	if err != nil {
		t.Fatalf("CreateStep failed: %v", err)
	}

	if err := ledger.UpdateStep(ctx, step.ID, StepSuccess, nil, ""); err != nil {
		t.Fatalf("First UpdateStep failed: %v", err)
	}

	err = ledger.UpdateStep(ctx, step.ID, StepFailed, nil, "late failure")
	if !errors.Is(err, ErrStepAlreadyFinal) {
		t.Errorf("Expected ErrStepAlreadyFinal, got %v", err)
	}

	steps, _ := ledger.GetSteps(ctx, instance.ID)
	if steps[0].Status != StepSuccess {
		t.Errorf("Expected step to stay SUCCESS, got %s", steps[0].Status)
	}
	if steps[0].FinishedAt == nil {
		t.Error("Expected finished_at to be set")
	}
}

func TestMemoryLedgerUpdateStepNotFound(t *testing.T) {
	ledger := NewMemoryLedger()
	ctx := context.Background()

	err := ledger.UpdateStep(ctx, "missing-step", StepSuccess, nil, "")
	if !errors.Is(err, ErrStepNotFound) {
		t.Errorf("Expected ErrStepNotFound, got %v", err)
	}
}

func TestMemoryLedgerUpdatePayloadMerge(t *testing.T) {
	ledger := NewMemoryLedger()
	ctx := context.Background()

	instance, _ := ledger.CreateSaga(ctx, SagaTypeBooking, Payload{
		UserID:     "user-1",
		ShowtimeID: "show-1",
	})

	if err := ledger.UpdatePayload(ctx, instance.ID, Payload{
		BookingID:   "booking-1",
		TotalAmount: 42.5,
	}); err != nil {
		t.Fatalf("UpdatePayload failed: %v", err)
	}

	got, err := ledger.GetByID(ctx, instance.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Payload.UserID != "user-1" {
		t.Errorf("Merge must not clear userId, got %q", got.Payload.UserID)
	}
	if got.Payload.BookingID != "booking-1" {
		t.Errorf("Expected bookingId booking-1, got %q", got.Payload.BookingID)
	}
	if got.Payload.TotalAmount != 42.5 {
		t.Errorf("Expected totalAmount 42.5, got %f", got.Payload.TotalAmount)
	}
}

func TestMemoryLedgerGetByBookingID(t *testing.T) {
	ledger := NewMemoryLedger()
	ctx := context.Background()

	instance, _ := ledger.CreateSaga(ctx, SagaTypeBooking, Payload{UserID: "user-1"})
	if err := ledger.UpdatePayload(ctx, instance.ID, Payload{BookingID: "booking-7"}); err != nil {
		t.Fatalf("UpdatePayload failed: %v", err)
	}

	got, err := ledger.GetByBookingID(ctx, "booking-7")
	if err != nil {
		t.Fatalf("GetByBookingID failed: %v", err)
	}
	if got.ID != instance.ID {
		t.Errorf("Expected saga %s, got %s", instance.ID, got.ID)
	}

	if _, err := ledger.GetByBookingID(ctx, "missing"); !errors.Is(err, ErrSagaNotFound) {
		t.Errorf("Expected ErrSagaNotFound, got %v", err)
	}
}

func TestPayloadMergeKeepsExistingFacts(t *testing.T) {
	held := time.Now().Add(10 * time.Minute)
	base := Payload{
		SchemaVersion: PayloadSchemaVersion,
		SagaID:        "saga-1",
		UserID:        "user-1",
		SeatIDs:       []string{"A1", "A2"},
		HoldExpiresAt: &held,
	}

	merged := base.Merge(Payload{BookingID: "booking-1"})

	if merged.SagaID != "saga-1" || merged.UserID != "user-1" {
		t.Error("Merge cleared existing identity facts")
	}
	if len(merged.SeatIDs) != 2 {
		t.Errorf("Merge cleared seatIds, got %v", merged.SeatIDs)
	}
	if merged.HoldExpiresAt == nil {
		t.Error("Merge cleared holdExpiresAt")
	}
	if merged.BookingID != "booking-1" {
		t.Errorf("Expected bookingId booking-1, got %q", merged.BookingID)
	}
}

func TestInstanceFindPendingStep(t *testing.T) {
	instance := &Instance{
		Steps: []*Step{
			{ID: "s1", StepName: StepCreateBooking, StepOrder: 1, Status: StepFailed},
			{ID: "s2", StepName: StepCreateBooking, StepOrder: 2, Status: StepPending},
		},
	}

	step := instance.FindPendingStep(StepCreateBooking)
	if step == nil || step.ID != "s2" {
		t.Fatalf("Expected latest pending step s2, got %+v", step)
	}

	if instance.FindPendingStep(StepConfirmBooking) != nil {
		t.Error("Expected nil for absent step name")
	}
}
