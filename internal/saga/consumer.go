package saga

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"hash/fnv"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/thanhphu2410/microservices-booking-app/internal/idempotency"
	"github.com/thanhphu2410/microservices-booking-app/pkg/logger"
)

// ConsumerConfig holds orchestrator consumer settings
type ConsumerConfig struct {
	Workers        int
	IdempotencyTTL time.Duration
}

// DefaultConsumerConfig returns default consumer settings
func DefaultConsumerConfig() *ConsumerConfig {
	return &ConsumerConfig{
		Workers:        8,
		IdempotencyTTL: 24 * time.Hour,
	}
}

// RecordSource is the transport the consumer drains. *kafka.Consumer
// satisfies it.
type RecordSource interface {
	Poll(ctx context.Context) ([]*kgo.Record, error)
	CommitRecords(ctx context.Context, records ...*kgo.Record) error
}

// Consumer pulls orchestrator events from Kafka and feeds them to a
// worker pool. Records are sharded to workers by partition, so the
// records of one partition are processed sequentially and their offsets
// committed in order. Group commits are per-partition watermarks: an
// out-of-order commit would advance the watermark past an unprocessed
// record and a crash would then lose it. Every event is bracketed by
// the idempotency guard, and the offset is committed only after the
// guard's terminal write, so a crash mid-effect leads to redelivery
// that the guard then deduplicates.
type Consumer struct {
	source     RecordSource
	dispatcher *Dispatcher
	guard      idempotency.Guard
	config     *ConsumerConfig
}

// NewConsumer creates the orchestrator event consumer
func NewConsumer(source RecordSource, dispatcher *Dispatcher, guard idempotency.Guard, config *ConsumerConfig) *Consumer {
	if config == nil {
		config = DefaultConsumerConfig()
	}
	return &Consumer{
		source:     source,
		dispatcher: dispatcher,
		guard:      guard,
		config:     config,
	}
}

// Run consumes until ctx is canceled
func (c *Consumer) Run(ctx context.Context) error {
	log := logger.Get()

	workers := c.config.Workers
	if workers <= 0 {
		workers = 1
	}

	jobs := make([]chan *kgo.Record, workers)
	var wg sync.WaitGroup
	for i := range jobs {
		jobs[i] = make(chan *kgo.Record)
		wg.Add(1)
		go func(ch <-chan *kgo.Record) {
			defer wg.Done()
			for record := range ch {
				c.process(ctx, record)
			}
		}(jobs[i])
	}

	log.Info("saga consumer started", zap.Int("workers", workers))

	for {
		records, err := c.source.Poll(ctx)
		if ctx.Err() != nil {
			break
		}
		if err != nil {
			log.Error("poll failed", zap.Error(err))
			continue
		}
		for _, record := range records {
			// Same partition, same worker: keeps processing and
			// commits ordered within the partition
			ch := jobs[partitionWorker(record, workers)]
			select {
			case ch <- record:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}
	}

	for _, ch := range jobs {
		close(ch)
	}
	wg.Wait()
	log.Info("saga consumer stopped")
	return ctx.Err()
}

// partitionWorker maps a record's (topic, partition) to a worker index
func partitionWorker(record *kgo.Record, workers int) int {
	h := fnv.New32a()
	h.Write([]byte(record.Topic))
	var part [4]byte
	binary.BigEndian.PutUint32(part[:], uint32(record.Partition))
	h.Write(part[:])
	return int(h.Sum32() % uint32(workers))
}

func (c *Consumer) process(ctx context.Context, record *kgo.Record) {
	log := logger.Get()

	eventType, err := ResolveEventType(record.Topic, record.Value)
	if err != nil {
		// Malformed envelope: a retry cannot help, drop it
		log.Error("unresolvable event, dropping",
			zap.String("topic", record.Topic), zap.Error(err))
		c.commit(ctx, record)
		return
	}

	scope := "SAGA:" + string(eventType)
	key := CorrelationKey(record.Value)
	if key == "" {
		sum := sha256.Sum256(record.Value)
		key = hex.EncodeToString(sum[:])
	}

	decision, existing, err := c.guard.Begin(ctx, scope, key, c.config.IdempotencyTTL)
	if err != nil {
		// Leave the offset uncommitted so the transport redelivers
		log.Error("idempotency begin failed",
			zap.String("scope", scope), zap.String("key", key), zap.Error(err))
		return
	}

	if decision == idempotency.Duplicate {
		log.Debug("duplicate event skipped",
			zap.String("scope", scope),
			zap.String("key", key),
			zap.String("status", string(existing.Status)))
		c.commit(ctx, record)
		return
	}

	if err := c.dispatcher.Dispatch(ctx, eventType, record.Value); err != nil {
		log.Error("event handling failed",
			zap.String("event_type", string(eventType)),
			zap.String("key", key),
			zap.Error(err))
		errJSON, _ := json.Marshal(map[string]string{"error": err.Error()})
		if failErr := c.guard.Fail(ctx, scope, key, errJSON); failErr != nil {
			log.Error("idempotency fail write failed", zap.Error(failErr))
			return
		}
		c.commit(ctx, record)
		return
	}

	if err := c.guard.Succeed(ctx, scope, key, nil); err != nil {
		log.Error("idempotency succeed write failed", zap.Error(err))
		return
	}
	c.commit(ctx, record)
}

func (c *Consumer) commit(ctx context.Context, record *kgo.Record) {
	if err := c.source.CommitRecords(ctx, record); err != nil {
		logger.Get().Error("offset commit failed",
			zap.String("topic", record.Topic), zap.Error(err))
	}
}
