package idempotency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGuardFirstWriterWins(t *testing.T) {
	guard := NewMemoryGuard()
	ctx := context.Background()

	decision, record, err := guard.Begin(ctx, "SAGA:payment_success", "booking-1", time.Hour)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if decision != Proceed {
		t.Fatalf("Expected Proceed for first attempt, got %v", decision)
	}
	if record.Status != StatusInProgress {
		t.Errorf("Expected in_progress record, got %s", record.Status)
	}

	decision, record, err = guard.Begin(ctx, "SAGA:payment_success", "booking-1", time.Hour)
	if err != nil {
		t.Fatalf("Second Begin failed: %v", err)
	}
	if decision != Duplicate {
		t.Errorf("Expected Duplicate for second attempt, got %v", decision)
	}
	if record.Status != StatusInProgress {
		t.Errorf("Duplicate must observe the winner's status, got %s", record.Status)
	}
}

func TestGuardScopesAreIndependent(t *testing.T) {
	guard := NewMemoryGuard()
	ctx := context.Background()

	if decision, _, _ := guard.Begin(ctx, "SAGA:payment_success", "booking-1", time.Hour); decision != Proceed {
		t.Fatalf("Expected Proceed, got %v", decision)
	}
	if decision, _, _ := guard.Begin(ctx, "SAGA:payment_failed", "booking-1", time.Hour); decision != Proceed {
		t.Errorf("Same key under another scope must Proceed, got %v", decision)
	}
}

func TestGuardConcurrentBeginOneWinner(t *testing.T) {
	guard := NewMemoryGuard()
	ctx := context.Background()

	const attempts = 32
	var wg sync.WaitGroup
	var proceeds int64
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			decision, _, err := guard.Begin(ctx, "SAGA:saga_seats_held", "show-1:user-1", time.Hour)
			if err != nil {
				t.Errorf("Begin failed: %v", err)
				return
			}
			if decision == Proceed {
				atomic.AddInt64(&proceeds, 1)
			}
		}()
	}
	wg.Wait()

	if proceeds != 1 {
		t.Errorf("Expected exactly one Proceed, got %d", proceeds)
	}
}

func TestGuardDuplicateObservesTerminalStatus(t *testing.T) {
	guard := NewMemoryGuard()
	ctx := context.Background()

	if _, _, err := guard.Begin(ctx, "SAGA:saga_booking_created", "saga-1", time.Hour); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := guard.Succeed(ctx, "SAGA:saga_booking_created", "saga-1", []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("Succeed failed: %v", err)
	}

	decision, record, err := guard.Begin(ctx, "SAGA:saga_booking_created", "saga-1", time.Hour)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if decision != Duplicate {
		t.Fatalf("Expected Duplicate, got %v", decision)
	}
	if record.Status != StatusSucceeded {
		t.Errorf("Expected succeeded status, got %s", record.Status)
	}
	if string(record.ResponseJSON) != `{"ok":true}` {
		t.Errorf("Expected recorded response, got %s", record.ResponseJSON)
	}
}

func TestGuardFailRecordsError(t *testing.T) {
	guard := NewMemoryGuard()
	ctx := context.Background()

	if _, _, err := guard.Begin(ctx, "SAGA:payment_failed", "booking-2", time.Hour); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := guard.Fail(ctx, "SAGA:payment_failed", "booking-2", []byte(`{"error":"saga not found"}`)); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	_, record, _ := guard.Begin(ctx, "SAGA:payment_failed", "booking-2", time.Hour)
	if record.Status != StatusFailed {
		t.Errorf("Expected failed status, got %s", record.Status)
	}
	if string(record.ErrorJSON) != `{"error":"saga not found"}` {
		t.Errorf("Expected recorded error, got %s", record.ErrorJSON)
	}
}

func TestGuardExpiredRecordIsReclaimed(t *testing.T) {
	guard := NewMemoryGuard()
	ctx := context.Background()

	decision, _, err := guard.Begin(ctx, "SAGA:booking_failed", "booking-3", time.Millisecond)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if decision != Proceed {
		t.Fatalf("Expected Proceed, got %v", decision)
	}

	time.Sleep(5 * time.Millisecond)

	decision, record, err := guard.Begin(ctx, "SAGA:booking_failed", "booking-3", time.Hour)
	if err != nil {
		t.Fatalf("Begin after expiry failed: %v", err)
	}
	if decision != Proceed {
		t.Errorf("Expected expired slot to be reclaimed, got %v", decision)
	}
	if record.Status != StatusInProgress {
		t.Errorf("Expected fresh in_progress record, got %s", record.Status)
	}
}

func TestGuardFinishWithoutBegin(t *testing.T) {
	guard := NewMemoryGuard()
	ctx := context.Background()

	err := guard.Succeed(ctx, "SAGA:payment_success", "missing", nil)
	if !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Expected ErrRecordNotFound, got %v", err)
	}
}
