package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/crossing.report/internal/crossing"
	"github.com/banshee-data/crossing.report/internal/monitoring"
	"github.com/banshee-data/crossing.report/internal/source"
	"github.com/banshee-data/crossing.report/internal/timeutil"
)

// State is the lifecycle state of a worker.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateRetrying State = "retrying"
	StateFailed   State = "failed"
	StateStopped  State = "stopped"
	StateFinished State = "finished"
)

// RetryPolicy is the exponential backoff applied to transient source
// failures. MaxAttempts of zero retries forever.
type RetryPolicy struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultRetryPolicy matches the configuration defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Initial: 500 * time.Millisecond, Max: 30 * time.Second, MaxAttempts: 10}
}

// Backoff returns the delay before retry number attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.Initial
	if d <= 0 {
		d = 500 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

// Status is a snapshot of one worker, served by the status endpoints.
type Status struct {
	SourceID            string    `json:"source_id"`
	FrameSource         string    `json:"frame_source"`
	Line                string    `json:"line"`
	State               State     `json:"state"`
	Frames              uint64    `json:"frames"`
	Events              uint64    `json:"events"`
	Rejected            uint64    `json:"rejected"`
	Errors              uint64    `json:"errors"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
	LastFrameAt         time.Time `json:"last_frame_at,omitempty"`
	StartedAt           time.Time `json:"started_at,omitempty"`
	Restarts            int       `json:"restarts"`
	Tracked             int       `json:"tracked"`
	LatencyP50Ms        float64   `json:"latency_p50_ms"`
	LatencyP95Ms        float64   `json:"latency_p95_ms"`
}

// OpenFunc opens the frame source named by a URI.
type OpenFunc func(uri string) (source.FrameSource, error)

// Worker runs the acquire, detect, track, emit loop of one source. The
// tracker is owned by the goroutine executing Run.
type Worker struct {
	spec     SourceSpec
	tracker  *crossing.Tracker
	open     OpenFunc
	detector source.Detector
	sink     Sink
	retry    RetryPolicy
	clock    timeutil.Clock
	logf     func(format string, v ...interface{})

	mu      sync.RWMutex
	status  Status
	latency *latencyWindow
	active  bool
}

func newWorker(spec SourceSpec, tracker *crossing.Tracker, open OpenFunc, det source.Detector, sink Sink, retry RetryPolicy, clock timeutil.Clock) *Worker {
	return &Worker{
		spec:     spec,
		tracker:  tracker,
		open:     open,
		detector: det,
		sink:     sink,
		retry:    retry,
		clock:    clock,
		logf:     monitoring.Prefixed("source=" + spec.ID),
		latency:  newLatencyWindow(latencyWindowSize),
		status: Status{
			SourceID:    spec.ID,
			FrameSource: spec.FrameSource,
			Line:        fmt.Sprint(tracker.Detector()),
			State:       StateIdle,
		},
	}
}

// ID returns the source id.
func (w *Worker) ID() string { return w.spec.ID }

// Status returns a copy of the worker status.
func (w *Worker) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	st := w.status
	st.LatencyP50Ms, st.LatencyP95Ms = w.latency.quantiles()
	return st
}

func (w *Worker) setActive(v bool) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if v && w.active {
		return false
	}
	w.active = v
	return true
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.status.State = s
	w.mu.Unlock()
}

func (w *Worker) recordError(err error, consecutive int) {
	w.mu.Lock()
	w.status.Errors++
	w.status.LastError = err.Error()
	w.status.ConsecutiveFailures = consecutive
	w.mu.Unlock()
}

func (w *Worker) recordFrame(f source.Frame, events int, took time.Duration) {
	stats := w.tracker.Stats()
	w.mu.Lock()
	w.status.Frames++
	w.status.Events += uint64(events)
	w.status.Rejected = stats.Rejected
	w.status.Tracked = stats.Tracked
	w.status.ConsecutiveFailures = 0
	w.status.LastFrameAt = f.Timestamp
	w.latency.add(took)
	w.mu.Unlock()
}

// Run processes frames until ctx is cancelled, the source ends, or the
// source fails permanently, and returns the terminal state. Frames are
// handled strictly in acquisition order. Events handed to the sink are never
// rolled back.
func (w *Worker) Run(ctx context.Context) State {
	w.mu.Lock()
	if !w.status.StartedAt.IsZero() {
		w.status.Restarts++
	}
	w.status.StartedAt = w.clock.Now()
	w.status.State = StateStarting
	w.mu.Unlock()

	var src source.FrameSource
	defer func() {
		if src != nil {
			src.Close()
		}
	}()

	failures := 0
	for {
		if ctx.Err() != nil {
			return w.finish(StateStopped)
		}

		if src == nil {
			s, err := w.open(w.spec.FrameSource)
			if err != nil {
				if st, done := w.failure(ctx, &failures, fmt.Errorf("open: %w", err)); done {
					return st
				}
				continue
			}
			src = s
			w.setState(StateRunning)
			w.logf("frame source %s open", w.spec.FrameSource)
		}

		frame, err := src.Next(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return w.finish(StateStopped)
			case errors.Is(err, io.EOF):
				w.logf("frame source exhausted")
				return w.finish(StateFinished)
			}
			src.Close()
			src = nil
			if st, done := w.failure(ctx, &failures, fmt.Errorf("acquire: %w", err)); done {
				return st
			}
			continue
		}
		failures = 0
		w.handle(ctx, frame)
	}
}

func (w *Worker) handle(ctx context.Context, frame source.Frame) {
	start := w.clock.Now()

	dets, err := w.detector.Detect(ctx, frame)
	if err != nil {
		w.logf("skipping frame %d: %v", frame.Seq, err)
		w.recordError(err, 0)
		return
	}

	events, err := w.tracker.Process(dets)
	if err != nil {
		w.logf("frame %d: rejected detections: %v", frame.Seq, err)
	}
	for _, e := range events {
		w.sink.Record(ctx, e)
	}
	w.recordFrame(frame, len(events), w.clock.Since(start))
}

// failure records a failed acquisition and either waits out the backoff or
// retires the worker.
func (w *Worker) failure(ctx context.Context, failures *int, err error) (State, bool) {
	*failures++
	w.recordError(err, *failures)

	if source.IsPermanent(err) {
		w.logf("permanent failure, retiring worker: %v", err)
		return w.finish(StateFailed), true
	}
	if w.retry.MaxAttempts > 0 && *failures > w.retry.MaxAttempts {
		w.logf("giving up after %d consecutive failures: %v", *failures, err)
		return w.finish(StateFailed), true
	}

	delay := w.retry.Backoff(*failures)
	w.logf("transient failure (attempt %d), retrying in %s: %v", *failures, delay, err)
	w.setState(StateRetrying)
	select {
	case <-ctx.Done():
		return w.finish(StateStopped), true
	case <-w.clock.After(delay):
		return "", false
	}
}

func (w *Worker) finish(s State) State {
	w.setState(s)
	return s
}
