package db

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/crossing.report/internal/crossing"
	"github.com/banshee-data/crossing.report/internal/monitoring"
	"github.com/banshee-data/crossing.report/internal/timeutil"
)

var (
	// ErrWriterStopped is returned by PersistEvent once the writer has stopped.
	ErrWriterStopped = errors.New("event writer stopped")
	// ErrQueueFull is returned by PersistEvent when the queue has no room.
	// The event is dropped and counted in Stats.
	ErrQueueFull = errors.New("event writer queue full")
)

// EventInserter is the storage side of the writer. *DB implements it.
type EventInserter interface {
	InsertEvents(ctx context.Context, events []crossing.Event) (int, error)
}

// EventWriterConfig configures an EventWriter.
type EventWriterConfig struct {
	Store EventInserter
	// BatchSize triggers a write once this many events are pending.
	BatchSize int
	// Interval is the longest an event waits before being written.
	Interval time.Duration
	// QueueSize bounds the number of events accepted but not yet batched.
	// Events offered while it is full are dropped.
	QueueSize int
	// RetryAttempts is how many times a failed batch write is tried per flush.
	RetryAttempts int
	RetryBackoff  time.Duration
	// MaxPending bounds events held across failed flushes; the oldest are
	// dropped beyond it.
	MaxPending int
	Clock      timeutil.Clock
}

// EventWriterStats are cumulative writer counters.
type EventWriterStats struct {
	Written  uint64 `json:"written"`
	Failures uint64 `json:"failures"`
	Dropped  uint64 `json:"dropped"`
	Pending  int    `json:"pending"`
}

// EventWriter batches crossing events into the database. It implements
// engine.EventPersister. Run drives the periodic flush; Stop flushes what is
// left.
type EventWriter struct {
	store        EventInserter
	batchSize    int
	interval     time.Duration
	retries      int
	retryBackoff time.Duration
	maxPending   int
	clock        timeutil.Clock

	queue chan crossing.Event

	flushMu sync.Mutex
	pending []crossing.Event

	mu      sync.Mutex
	running bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	closed  chan struct{}

	written  atomic.Uint64
	failures atomic.Uint64
	dropped  atomic.Uint64
}

// NewEventWriter creates an EventWriter. Zero config fields take defaults.
func NewEventWriter(cfg EventWriterConfig) *EventWriter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.BatchSize * 4
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = cfg.BatchSize * 64
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &EventWriter{
		store:        cfg.Store,
		batchSize:    cfg.BatchSize,
		interval:     cfg.Interval,
		retries:      cfg.RetryAttempts,
		retryBackoff: cfg.RetryBackoff,
		maxPending:   cfg.MaxPending,
		clock:        cfg.Clock,
		queue:        make(chan crossing.Event, cfg.QueueSize),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
		closed:       make(chan struct{}),
	}
}

// PersistEvent queues an event for the next batch. It never blocks: when
// the queue is full the event is dropped and ErrQueueFull is returned.
func (w *EventWriter) PersistEvent(ctx context.Context, e crossing.Event) error {
	select {
	case <-w.closed:
		return ErrWriterStopped
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case w.queue <- e:
		return nil
	default:
		w.dropped.Add(1)
		return ErrQueueFull
	}
}

// Run drains the queue and writes batches until ctx is cancelled or Stop is
// called, then writes whatever is still queued.
func (w *EventWriter) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running || w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.stopped = true
		w.mu.Unlock()
		close(w.doneCh)
	}()

	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	monitoring.Logf("EventWriter started: batch=%d interval=%v", w.batchSize, w.interval)

	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("EventWriter stopping due to context cancellation")
			w.flushFinal()
			return nil
		case <-w.stopCh:
			monitoring.Logf("EventWriter stopping due to Stop() call")
			w.flushFinal()
			return nil
		case e := <-w.queue:
			w.flushMu.Lock()
			w.pending = append(w.pending, e)
			full := len(w.pending) >= w.batchSize
			w.flushMu.Unlock()
			if full {
				w.flush(ctx)
			}
		case <-ticker.C():
			w.flush(ctx)
		}
	}
}

// Stop requests the writer to stop and waits for the final flush. It is
// safe to call multiple times.
func (w *EventWriter) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	w.mu.Unlock()

	<-w.doneCh
}

// IsRunning reports whether Run is active.
func (w *EventWriter) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// FlushNow writes every queued and pending event immediately.
func (w *EventWriter) FlushNow(ctx context.Context) error {
	return w.flush(ctx)
}

// Stats returns the cumulative counters.
func (w *EventWriter) Stats() EventWriterStats {
	w.flushMu.Lock()
	pending := len(w.pending) + len(w.queue)
	w.flushMu.Unlock()
	return EventWriterStats{
		Written:  w.written.Load(),
		Failures: w.failures.Load(),
		Dropped:  w.dropped.Load(),
		Pending:  pending,
	}
}

func (w *EventWriter) drainQueue() {
	for {
		select {
		case e := <-w.queue:
			w.pending = append(w.pending, e)
		default:
			return
		}
	}
}

func (w *EventWriter) flush(ctx context.Context) error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.drainQueue()
	if len(w.pending) == 0 || w.store == nil {
		return nil
	}

	var err error
	for attempt := 0; attempt < w.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-w.clock.After(w.retryBackoff << (attempt - 1)):
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				err = ctx.Err()
				break
			}
		}
		var n int
		n, err = w.store.InsertEvents(ctx, w.pending)
		if err == nil {
			w.written.Add(uint64(n))
			w.pending = w.pending[:0]
			return nil
		}
		w.failures.Add(1)
		monitoring.Logf("EventWriter: error writing %d events (attempt %d/%d): %v", len(w.pending), attempt+1, w.retries, err)
	}

	if over := len(w.pending) - w.maxPending; over > 0 {
		w.dropped.Add(uint64(over))
		monitoring.Logf("EventWriter: dropping %d oldest events", over)
		w.pending = append(w.pending[:0], w.pending[over:]...)
	}
	return err
}

func (w *EventWriter) flushFinal() {
	close(w.closed)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.flush(ctx); err != nil {
		monitoring.Logf("EventWriter: error during final flush: %v", err)
	}
}
