package sink

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"firestige.xyz/flowscope/internal/core"
	"firestige.xyz/flowscope/internal/metrics"
)

const (
	defaultQueueSize     = 4096
	defaultBatchSize     = 256
	defaultFlushInterval = time.Second
	defaultRetryInterval = 100 * time.Millisecond
	closeFlushTimeout    = 5 * time.Second
)

// InserterConfig configures an AsyncInserter.
type InserterConfig struct {
	Table         string
	QueueSize     int           // Records held before the oldest is dropped (default 4096)
	BatchSize     int           // Rows per Insert call (default 256)
	FlushInterval time.Duration // Longest a partial batch waits (default 1s)
	MaxRetries    uint          // Retries after the first failed Insert
	RetryInterval time.Duration // Initial backoff interval (default 100ms)
}

// AsyncInserter decouples the capture worker from the sink. Enqueue never
// blocks: a full queue drops its oldest record. Run drains the queue in batches.
type AsyncInserter struct {
	sink   Sink
	config InserterConfig

	mu     sync.Mutex
	queue  []*core.AnalyzedRecord // ring buffer
	head   int
	size   int
	closed bool
	notify chan struct{}

	inserted atomic.Uint64
	dropped  atomic.Uint64
	failed   atomic.Uint64
}

// NewAsyncInserter creates an inserter in front of s.
func NewAsyncInserter(s Sink, cfg InserterConfig) *AsyncInserter {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	return &AsyncInserter{
		sink:   s,
		config: cfg,
		queue:  make([]*core.AnalyzedRecord, cfg.QueueSize),
		notify: make(chan struct{}, 1),
	}
}

// Enqueue adds a record without blocking.
func (a *AsyncInserter) Enqueue(rec *core.AnalyzedRecord) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		a.drop("closed", 1)
		return
	}
	overflow := a.size == len(a.queue)
	if overflow {
		a.queue[a.head] = nil
		a.head = (a.head + 1) % len(a.queue)
		a.size--
	}
	a.queue[(a.head+a.size)%len(a.queue)] = rec
	a.size++
	full := a.size >= a.config.BatchSize
	a.mu.Unlock()

	if overflow {
		a.drop("queue_full", 1)
	}
	if full {
		select {
		case a.notify <- struct{}{}:
		default:
		}
	}
}

// take removes up to n records from the head of the queue.
func (a *AsyncInserter) take(n int) []*core.AnalyzedRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	n = min(n, a.size)
	batch := make([]*core.AnalyzedRecord, n)
	for i := range batch {
		batch[i] = a.queue[a.head]
		a.queue[a.head] = nil
		a.head = (a.head + 1) % len(a.queue)
	}
	a.size -= n
	return batch
}

// Len returns the number of queued records.
func (a *AsyncInserter) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}

// Run drains the queue until ctx is cancelled, then flushes what is left,
// closes the sink and returns. Enqueue calls after that are dropped.
func (a *AsyncInserter) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.config.FlushInterval)
	defer ticker.Stop()

	slog.Info("sink inserter started",
		"sink", a.sink.Name(),
		"table", a.config.Table,
		"queue_size", a.config.QueueSize,
		"batch_size", a.config.BatchSize)

	for {
		select {
		case <-ctx.Done():
			return a.shutdown()
		case <-a.notify:
			a.flushFull(ctx)
		case <-ticker.C:
			a.flushAll(ctx)
		}
	}
}

func (a *AsyncInserter) shutdown() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), closeFlushTimeout)
	defer cancel()
	a.flushAll(ctx)

	err := a.sink.Close()
	slog.Info("sink inserter stopped",
		"sink", a.sink.Name(),
		"inserted", a.inserted.Load(),
		"dropped", a.dropped.Load(),
		"failed", a.failed.Load())
	return err
}

// flushFull sends complete batches only.
func (a *AsyncInserter) flushFull(ctx context.Context) {
	for a.Len() >= a.config.BatchSize {
		a.insert(ctx, a.take(a.config.BatchSize))
	}
}

// flushAll sends everything queued, the last batch possibly partial.
func (a *AsyncInserter) flushAll(ctx context.Context) {
	for a.Len() > 0 {
		a.insert(ctx, a.take(a.config.BatchSize))
	}
}

func (a *AsyncInserter) insert(ctx context.Context, batch []*core.AnalyzedRecord) {
	if len(batch) == 0 {
		return
	}
	rows := make([][]string, len(batch))
	for i, rec := range batch {
		rows[i] = rec.Values()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.config.RetryInterval

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := a.sink.Insert(ctx, a.config.Table, core.Columns(), rows)
		if errors.Is(err, core.ErrSinkClosed) {
			return struct{}{}, backoff.Permanent(err)
		}
		if err != nil {
			slog.Warn("sink insert failed", "sink", a.sink.Name(), "attempt", attempt, "rows", len(rows), "error", err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(a.config.MaxRetries+1))

	name := a.sink.Name()
	if err != nil {
		a.failed.Add(uint64(len(rows)))
		a.drop("insert_failed", len(rows))
		slog.Error("sink insert gave up", "sink", name, "rows", len(rows), "attempts", attempt, "error", err)
		return
	}
	a.inserted.Add(uint64(len(rows)))
	metrics.SinkInsertedTotal.WithLabelValues(name).Add(float64(len(rows)))
	metrics.SinkBatchSize.WithLabelValues(name).Observe(float64(len(rows)))
}

func (a *AsyncInserter) drop(reason string, n int) {
	if reason != "insert_failed" {
		a.dropped.Add(uint64(n))
	}
	metrics.SinkDroppedTotal.WithLabelValues(a.sink.Name(), reason).Add(float64(n))
}

// Stats returns the number of inserted, dropped (queue overflow or closed)
// and failed records.
func (a *AsyncInserter) Stats() (inserted, dropped, failed uint64) {
	return a.inserted.Load(), a.dropped.Load(), a.failed.Load()
}
