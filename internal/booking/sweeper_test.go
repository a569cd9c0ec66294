package booking

import (
	"context"
	"testing"
	"time"

	"github.com/thanhphu2410/microservices-booking-app/internal/saga"
)

type publishedEvent struct {
	Topic string
	Key   string
	Value interface{}
}

// recordingPublisher captures emitted events
type recordingPublisher struct {
	events []publishedEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, topic, key string, value interface{}) error {
	p.events = append(p.events, publishedEvent{Topic: topic, Key: key, Value: value})
	return nil
}

func (p *recordingPublisher) byTopic(topic string) []publishedEvent {
	var out []publishedEvent
	for _, e := range p.events {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

var _ Publisher = (*recordingPublisher)(nil)

func paidBooking(id string, expiresIn time.Duration) *Booking {
	expires := time.Now().Add(expiresIn)
	return &Booking{
		ID:               id,
		SagaID:           "saga-" + id,
		UserID:           "user-1",
		ShowtimeID:       "show-1",
		SeatIDs:          []string{"A1", "A2"},
		Status:           StatusPaid,
		ConfirmExpiresAt: &expires,
	}
}

func TestSweepFailsStalledBookings(t *testing.T) {
	store := NewMemoryStore()
	publisher := &recordingPublisher{}
	sweeper := NewTimeoutSweeper(store, publisher, time.Second, 10)
	ctx := context.Background()

	store.Put(paidBooking("booking-1", -time.Minute))
	store.Put(paidBooking("booking-2", time.Hour))

	if n := sweeper.Sweep(ctx); n != 1 {
		t.Fatalf("Expected 1 failed booking, got %d", n)
	}

	stalled, _ := store.Get("booking-1")
	if stalled.Status != StatusFailed {
		t.Errorf("Expected booking-1 FAILED, got %s", stalled.Status)
	}
	live, _ := store.Get("booking-2")
	if live.Status != StatusPaid {
		t.Errorf("Booking inside its window must stay PAID, got %s", live.Status)
	}

	failedEvents := publisher.byTopic(string(saga.EventBookingFailed))
	if len(failedEvents) != 1 {
		t.Fatalf("Expected one booking failed event, got %d", len(failedEvents))
	}
	event := failedEvents[0].Value.(saga.BookingFailedEvent)
	if event.BookingID != "booking-1" || event.SagaID != "saga-booking-1" {
		t.Errorf("Event identity wrong: %+v", event)
	}
	if event.Reason == "" {
		t.Error("Expected a timeout reason on the event")
	}

	releases := publisher.byTopic(saga.TopicBookingCanceled)
	if len(releases) != 1 {
		t.Fatalf("Expected one seat release command, got %d", len(releases))
	}
	release := releases[0].Value.(saga.BookingCanceledCommand)
	if len(release.SeatIDs) != 2 || release.ShowtimeID != "show-1" {
		t.Errorf("Release command must carry the seats, got %+v", release)
	}
}

func TestSweepSkipsRaceLostBookings(t *testing.T) {
	store := NewMemoryStore()
	publisher := &recordingPublisher{}
	sweeper := NewTimeoutSweeper(store, publisher, time.Second, 10)
	ctx := context.Background()

	// Confirmed between listing and marking: no longer PAID
	b := paidBooking("booking-1", -time.Minute)
	store.Put(b)
	expired, err := store.ListExpiredPaid(ctx, time.Now(), 10)
	if err != nil || len(expired) != 1 {
		t.Fatalf("Setup listing failed: %v (%d rows)", err, len(expired))
	}
	b.Status = StatusBooked
	store.Put(b)

	if n := sweeper.Sweep(ctx); n != 0 {
		t.Errorf("Expected no failures after losing the race, got %d", n)
	}
	if len(publisher.events) != 0 {
		t.Errorf("Expected no events for race-lost bookings, got %d", len(publisher.events))
	}

	got, _ := store.Get("booking-1")
	if got.Status != StatusBooked {
		t.Errorf("Confirmed booking must stay BOOKED, got %s", got.Status)
	}
}

func TestSweepEmptyStore(t *testing.T) {
	sweeper := NewTimeoutSweeper(NewMemoryStore(), &recordingPublisher{}, time.Second, 10)
	if n := sweeper.Sweep(context.Background()); n != 0 {
		t.Errorf("Expected 0 on empty store, got %d", n)
	}
}

func TestMemoryStoreMarkFailedGuard(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	b := paidBooking("booking-1", -time.Minute)
	b.Status = StatusBooked
	store.Put(b)

	if err := store.MarkFailed(ctx, "booking-1"); err != ErrBookingNotFound {
		t.Errorf("Expected ErrBookingNotFound for non-PAID booking, got %v", err)
	}
	if err := store.MarkFailed(ctx, "missing"); err != ErrBookingNotFound {
		t.Errorf("Expected ErrBookingNotFound for missing booking, got %v", err)
	}
}
