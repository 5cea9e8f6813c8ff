// Package engine runs one worker per video source and feeds their crossing
// events into a shared aggregation store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/crossing.report/internal/aggregate"
	"github.com/banshee-data/crossing.report/internal/config"
	"github.com/banshee-data/crossing.report/internal/crossing"
	"github.com/banshee-data/crossing.report/internal/monitoring"
	"github.com/banshee-data/crossing.report/internal/source"
	"github.com/banshee-data/crossing.report/internal/timeutil"
)

var (
	// ErrNoSources is returned by New when no enabled source is configured.
	ErrNoSources = errors.New("no enabled sources configured")
	// ErrUnknownSource is returned for a source id the engine does not run.
	ErrUnknownSource = errors.New("unknown source")
	// ErrWorkerActive is returned when restarting a worker that is still running.
	ErrWorkerActive = errors.New("worker is still running")
	// ErrNotRunning is returned when restarting a worker before Start or after Stop.
	ErrNotRunning = errors.New("engine is not running")
)

// SourceSpec declares one video source.
type SourceSpec struct {
	ID          string        `json:"id"`
	Line        [4]float64    `json:"line"`
	FrameSource string        `json:"frame_source"`
	Cooldown    time.Duration `json:"cooldown,omitempty"` // 0 uses Config.DefaultCooldown
	Enabled     bool          `json:"enabled"`
}

// Config holds engine-wide settings.
type Config struct {
	DefaultCooldown time.Duration
	Retry           RetryPolicy
	Clock           timeutil.Clock
}

// ConfigFrom maps the configuration file onto engine settings.
func ConfigFrom(c *config.EngineConfig) Config {
	return Config{
		DefaultCooldown: c.GetDefaultCooldown(),
		Retry: RetryPolicy{
			Initial:     c.GetRetryInitial(),
			Max:         c.GetRetryMax(),
			MaxAttempts: c.GetRetryAttempts(),
		},
	}
}

// SpecsFromConfig returns the sources declared in the configuration file.
func SpecsFromConfig(c *config.EngineConfig) []SourceSpec {
	specs := make([]SourceSpec, 0, len(c.Sources))
	for _, s := range c.Sources {
		specs = append(specs, SourceSpec{
			ID:          strings.TrimSpace(s.ID),
			Line:        s.Line,
			FrameSource: s.FrameSource,
			Cooldown:    s.GetCooldown(),
			Enabled:     s.IsEnabled(),
		})
	}
	return specs
}

// Deps are the collaborators the engine is wired to. Every field is
// optional.
type Deps struct {
	Store         *aggregate.Store
	Persister     EventPersister
	Detector      source.Detector
	Open          OpenFunc
	SourceOptions source.Options
}

// Engine supervises the per-source workers.
type Engine struct {
	store   *aggregate.Store
	workers []*Worker
	byID    map[string]*Worker

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

// New validates every enabled source and builds its worker. Any invalid
// source fails the whole engine before a worker is started.
func New(cfg Config, specs []SourceSpec, deps Deps) (*Engine, error) {
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	if cfg.DefaultCooldown <= 0 {
		cfg.DefaultCooldown = crossing.DefaultCooldown
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}
	if deps.Store == nil {
		deps.Store = aggregate.NewStore()
	}
	if deps.Detector == nil {
		deps.Detector = source.JSONDetector{}
	}
	if deps.Open == nil {
		opts := deps.SourceOptions
		if opts.Clock == nil {
			opts.Clock = cfg.Clock
		}
		deps.Open = func(uri string) (source.FrameSource, error) { return source.Open(uri, opts) }
	}

	e := &Engine{store: deps.Store, byID: make(map[string]*Worker)}
	sink := &StoreSink{Store: deps.Store, Persister: deps.Persister}

	for _, spec := range specs {
		if !spec.Enabled {
			continue
		}
		if spec.ID == "" {
			return nil, errors.New("source with empty id")
		}
		if _, dup := e.byID[spec.ID]; dup {
			return nil, fmt.Errorf("source %q: duplicate id", spec.ID)
		}
		det, err := crossing.NewDetector(spec.Line)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", spec.ID, err)
		}
		if err := source.Validate(spec.FrameSource); err != nil {
			return nil, fmt.Errorf("source %q: %w", spec.ID, err)
		}
		cooldown := spec.Cooldown
		if cooldown <= 0 {
			cooldown = cfg.DefaultCooldown
		}
		tracker := crossing.NewTracker(crossing.TrackerConfig{
			SourceID: spec.ID,
			Detector: det,
			Cooldown: cooldown,
			Clock:    cfg.Clock,
		})
		w := newWorker(spec, tracker, deps.Open, deps.Detector, sink, cfg.Retry, cfg.Clock)
		e.workers = append(e.workers, w)
		e.byID[spec.ID] = w
	}
	if len(e.workers) == 0 {
		return nil, ErrNoSources
	}

	for _, w := range e.workers {
		deps.Store.Register(w.ID())
	}
	return e, nil
}

// Start launches every worker in its own goroutine and returns immediately.
// Cancelling ctx has the same effect as Stop without the wait.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx != nil {
		return errors.New("engine already started")
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	for _, w := range e.workers {
		e.launch(w)
	}
	monitoring.Logf("engine started with %d sources", len(e.workers))
	return nil
}

// launch must be called with e.mu held.
func (e *Engine) launch(w *Worker) bool {
	if !w.setActive(true) {
		return false
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer w.setActive(false)
		switch st := w.Run(e.ctx); st {
		case StateFailed:
			monitoring.Logf("degraded: source %s stopped after failure (%s); its totals remain available", w.ID(), w.Status().LastError)
		case StateFinished:
			monitoring.Logf("source %s finished", w.ID())
		}
	}()
	return true
}

// Stop cancels every worker and waits for all of them to return.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopped = true
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// Restart relaunches a worker that failed or finished. The worker keeps its
// tracker state and counters.
func (e *Engine) Restart(id string) error {
	w, ok := e.byID[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSource, id)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx == nil || e.stopped || e.ctx.Err() != nil {
		return ErrNotRunning
	}
	if !e.launch(w) {
		return fmt.Errorf("source %q: %w", id, ErrWorkerActive)
	}
	monitoring.Logf("source %s restarted", id)
	return nil
}

// Status returns the status of one worker.
func (e *Engine) Status(id string) (Status, error) {
	w, ok := e.byID[id]
	if !ok {
		return Status{}, fmt.Errorf("%w: %q", ErrUnknownSource, id)
	}
	return w.Status(), nil
}

// Statuses returns every worker status in configuration order.
func (e *Engine) Statuses() []Status {
	out := make([]Status, len(e.workers))
	for i, w := range e.workers {
		out[i] = w.Status()
	}
	return out
}

// Store returns the aggregation store readers query.
func (e *Engine) Store() *aggregate.Store { return e.store }
