package saga

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/thanhphu2410/microservices-booking-app/internal/idempotency"
)

// commitJournal records guard terminal writes and offset commits in the
// order they happen, and signals once the expected commits arrived
type commitJournal struct {
	mu          sync.Mutex
	entries     []string
	commits     int
	wantCommits int
	done        chan struct{}
}

func newCommitJournal(wantCommits int) *commitJournal {
	return &commitJournal{wantCommits: wantCommits, done: make(chan struct{})}
}

func (j *commitJournal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
	if strings.HasPrefix(entry, "commit:") {
		j.commits++
		if j.commits == j.wantCommits {
			close(j.done)
		}
	}
}

func (j *commitJournal) index(entry string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i, e := range j.entries {
		if e == entry {
			return i
		}
	}
	return -1
}

func (j *commitJournal) commitCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.commits
}

// stubSource serves canned record batches, then blocks until ctx ends
type stubSource struct {
	mu      sync.Mutex
	batches [][]*kgo.Record
	journal *commitJournal
}

func (s *stubSource) Poll(ctx context.Context) ([]*kgo.Record, error) {
	s.mu.Lock()
	if len(s.batches) > 0 {
		batch := s.batches[0]
		s.batches = s.batches[1:]
		s.mu.Unlock()
		return batch, nil
	}
	s.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *stubSource) CommitRecords(ctx context.Context, records ...*kgo.Record) error {
	for _, r := range records {
		s.journal.add(fmt.Sprintf("commit:%d", r.Offset))
	}
	return nil
}

// journalGuard wraps a guard and records its terminal writes
type journalGuard struct {
	inner   idempotency.Guard
	journal *commitJournal
}

func (g *journalGuard) Begin(ctx context.Context, scope, key string, ttl time.Duration) (idempotency.Decision, *idempotency.Record, error) {
	return g.inner.Begin(ctx, scope, key, ttl)
}

func (g *journalGuard) Succeed(ctx context.Context, scope, key string, responseJSON []byte) error {
	err := g.inner.Succeed(ctx, scope, key, responseJSON)
	if err == nil {
		g.journal.add("terminal:" + key)
	}
	return err
}

func (g *journalGuard) Fail(ctx context.Context, scope, key string, errorJSON []byte) error {
	err := g.inner.Fail(ctx, scope, key, errorJSON)
	if err == nil {
		g.journal.add("terminal:" + key)
	}
	return err
}

// timedHandler delays handling per correlation key
type timedHandler struct {
	delays map[string]time.Duration
}

func (h *timedHandler) Handle(ctx context.Context, raw []byte) error {
	if d := h.delays[CorrelationKey(raw)]; d > 0 {
		time.Sleep(d)
	}
	return nil
}

func heldRecord(offset int64, sagaID string) *kgo.Record {
	return &kgo.Record{
		Topic:     string(EventSeatsHeld),
		Partition: 0,
		Offset:    offset,
		Value:     []byte(fmt.Sprintf(`{"sagaId":%q}`, sagaID)),
	}
}

func runConsumer(t *testing.T, consumer *Consumer, journal *commitJournal) (cancelAndWait func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		consumer.Run(ctx)
		close(runDone)
	}()

	select {
	case <-journal.done:
	case <-time.After(2 * time.Second):
		cancel()
		<-runDone
		t.Fatal("Timed out waiting for offset commits")
	}

	return func() {
		cancel()
		<-runDone
	}
}

// A slow first record and a fast second record of the same partition:
// the second commit must still come after the first, and each commit
// only after the guard's terminal write. A committed offset advances
// the partition watermark past every earlier offset, so committing 6
// before 5 is processed would lose 5 on a crash.
func TestConsumerCommitsSamePartitionInOrder(t *testing.T) {
	journal := newCommitJournal(2)
	source := &stubSource{
		batches: [][]*kgo.Record{{
			heldRecord(5, "saga-5"),
			heldRecord(6, "saga-6"),
		}},
		journal: journal,
	}
	guard := &journalGuard{inner: idempotency.NewMemoryGuard(), journal: journal}

	dispatcher := NewDispatcher()
	dispatcher.Register(EventSeatsHeld, &timedHandler{
		delays: map[string]time.Duration{"saga-5": 80 * time.Millisecond},
	})

	consumer := NewConsumer(source, dispatcher, guard, &ConsumerConfig{
		Workers:        4,
		IdempotencyTTL: time.Hour,
	})
	wait := runConsumer(t, consumer, journal)
	defer wait()

	commit5 := journal.index("commit:5")
	commit6 := journal.index("commit:6")
	if commit5 == -1 || commit6 == -1 {
		t.Fatalf("Expected both offsets committed, journal %v", journal.entries)
	}
	if commit5 > commit6 {
		t.Errorf("Offset 6 committed before offset 5: %v", journal.entries)
	}
	if terminal := journal.index("terminal:saga-5"); terminal == -1 || terminal > commit5 {
		t.Errorf("Offset 5 committed before its terminal guard write: %v", journal.entries)
	}
	if terminal := journal.index("terminal:saga-6"); terminal == -1 || terminal > commit6 {
		t.Errorf("Offset 6 committed before its terminal guard write: %v", journal.entries)
	}
}

// unavailableGuard fails every Begin, as a down idempotency store would
type unavailableGuard struct {
	began chan struct{}
}

func (g *unavailableGuard) Begin(ctx context.Context, scope, key string, ttl time.Duration) (idempotency.Decision, *idempotency.Record, error) {
	select {
	case g.began <- struct{}{}:
	default:
	}
	return idempotency.Proceed, nil, errors.New("idempotency store unavailable")
}

func (g *unavailableGuard) Succeed(ctx context.Context, scope, key string, responseJSON []byte) error {
	return nil
}

func (g *unavailableGuard) Fail(ctx context.Context, scope, key string, errorJSON []byte) error {
	return nil
}

func TestConsumerLeavesOffsetUncommittedWhenGuardUnavailable(t *testing.T) {
	journal := newCommitJournal(1)
	source := &stubSource{
		batches: [][]*kgo.Record{{heldRecord(5, "saga-5")}},
		journal: journal,
	}
	guard := &unavailableGuard{began: make(chan struct{}, 1)}

	dispatcher := NewDispatcher()
	dispatcher.Register(EventSeatsHeld, &timedHandler{})

	consumer := NewConsumer(source, dispatcher, guard, &ConsumerConfig{
		Workers:        2,
		IdempotencyTTL: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		consumer.Run(ctx)
		close(runDone)
	}()

	select {
	case <-guard.began:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for guard Begin")
	}
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-runDone

	if got := journal.commitCount(); got != 0 {
		t.Errorf("Expected no commits while the guard is down, got %d", got)
	}
}

func TestPartitionWorkerIsStable(t *testing.T) {
	workers := 8
	rec := heldRecord(5, "saga-5")

	first := partitionWorker(rec, workers)
	if first < 0 || first >= workers {
		t.Fatalf("Worker index %d out of range", first)
	}
	for i := 0; i < 10; i++ {
		if got := partitionWorker(rec, workers); got != first {
			t.Fatalf("Worker index changed from %d to %d", first, got)
		}
	}

	other := &kgo.Record{Topic: rec.Topic, Partition: 1, Offset: 9}
	if got := partitionWorker(other, workers); got < 0 || got >= workers {
		t.Fatalf("Worker index %d out of range", got)
	}
}
