package crossing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/crossing.report/internal/timeutil"
)

// DefaultCooldown is how long an object that just crossed is ignored by the
// detector, which absorbs detector jitter around the line.
const DefaultCooldown = 3 * time.Second

var (
	// ErrMissingPosition rejects a detection without a usable position.
	ErrMissingPosition = errors.New("missing position")
	// ErrMissingObjectID rejects a decoded detection that carries no id.
	ErrMissingObjectID = errors.New("missing object id")
	// ErrDuplicateDetection rejects a second detection of the same object id
	// within one batch.
	ErrDuplicateDetection = errors.New("duplicate object id in batch")
)

// Detection is one object's identity and position in a single frame.
type Detection struct {
	ObjectID int64  `json:"id"`
	Position *Point `json:"pos"`
	// Err marks an entry that could not be decoded. Process rejects it.
	Err error `json:"-"`
}

// UnmarshalJSON decodes {"id": n, "pos": [x, y]}. Both fields are required.
// When the id decodes but the position does not, ObjectID is still set and
// the error wraps ErrMissingPosition.
func (d *Detection) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID  *int64          `json:"id"`
		Pos json.RawMessage `json:"pos"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("detection: %w", err)
	}
	if raw.ID == nil {
		return ErrMissingObjectID
	}
	d.ObjectID = *raw.ID
	d.Position = nil
	if len(raw.Pos) == 0 || bytes.Equal(raw.Pos, []byte("null")) {
		return ErrMissingPosition
	}
	var p Point
	if err := p.UnmarshalJSON(raw.Pos); err != nil {
		return fmt.Errorf("%w: %v", ErrMissingPosition, err)
	}
	d.Position = &p
	return nil
}

// hasID reports whether the entry identifies a real object even though it
// may have been rejected.
func (d Detection) hasID() bool {
	return d.Err == nil || errors.Is(d.Err, ErrMissingPosition)
}

func (d Detection) validate() error {
	if d.Err != nil {
		return d.Err
	}
	if d.Position == nil {
		return ErrMissingPosition
	}
	if !d.Position.finite() {
		return fmt.Errorf("%w: non-finite coordinates %v", ErrMissingPosition, *d.Position)
	}
	return nil
}

// RejectedDetection describes a detection that Process refused. The rest of
// the batch is still processed.
type RejectedDetection struct {
	Index    int
	ObjectID int64
	Err      error
}

func (r *RejectedDetection) Error() string {
	return fmt.Sprintf("detection %d (object %d): %v", r.Index, r.ObjectID, r.Err)
}

func (r *RejectedDetection) Unwrap() error { return r.Err }

// Event is a recorded crossing of the reference line by one object.
type Event struct {
	ID        uuid.UUID `json:"id"`
	SourceID  string    `json:"source_id"`
	ObjectID  int64     `json:"object_id"`
	Direction Direction `json:"direction"`
	Timestamp time.Time `json:"timestamp"`
}

// TrackerConfig configures a Tracker for one source.
type TrackerConfig struct {
	SourceID string
	Detector Detector
	// Cooldown defaults to DefaultCooldown when zero.
	Cooldown time.Duration
	// Clock defaults to timeutil.RealClock.
	Clock timeutil.Clock
}

// TrackerStats are cumulative counters for one tracker.
type TrackerStats struct {
	Batches    uint64 `json:"batches"`
	Detections uint64 `json:"detections"`
	Rejected   uint64 `json:"rejected"`
	Events     uint64 `json:"events"`
	Tracked    int    `json:"tracked"`
}

// Tracker is the per-source crossing state machine. It is not safe for
// concurrent use: exactly one goroutine (the source's worker) may call
// Process.
type Tracker struct {
	sourceID string
	detector Detector
	cooldown time.Duration
	clock    timeutil.Clock

	positions map[int64]Point
	cooldowns map[int64]time.Time // cooldown start, present only while cooling down
	present   map[int64]struct{}  // scratch set reused across batches
	held      map[int64]struct{}  // ids seen only through a rejected entry this batch

	stats TrackerStats
}

// NewTracker creates a tracker. A nil Detector is a programming error.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.Detector == nil {
		panic("crossing: NewTracker with nil Detector")
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Tracker{
		sourceID:  cfg.SourceID,
		detector:  cfg.Detector,
		cooldown:  cfg.Cooldown,
		clock:     cfg.Clock,
		positions: make(map[int64]Point),
		cooldowns: make(map[int64]time.Time),
		present:   make(map[int64]struct{}),
		held:      make(map[int64]struct{}),
	}
}

// SourceID returns the source this tracker belongs to.
func (t *Tracker) SourceID() string { return t.sourceID }

// Detector returns the line predicate in use.
func (t *Tracker) Detector() Detector { return t.detector }

// Cooldown returns the configured cooldown period.
func (t *Tracker) Cooldown() time.Duration { return t.cooldown }

// Process feeds one detection batch through the tracker and returns the
// crossings it produced.
//
// Malformed entries are skipped and reported together in the returned error
// (a join of *RejectedDetection values); the events are valid whether or not
// err is nil. An entry rejected for its position still counts as present:
// the object keeps its last position and cooldown but is not evaluated.
// Entries without a usable id count for nothing. After Process returns, only
// object ids present in dets are tracked.
func (t *Tracker) Process(dets []Detection) ([]Event, error) {
	now := t.clock.Now()
	clear(t.present)
	clear(t.held)

	var (
		events []Event
		errs   []error
	)
	for i, d := range dets {
		if err := d.validate(); err != nil {
			errs = append(errs, &RejectedDetection{Index: i, ObjectID: d.ObjectID, Err: err})
			if d.hasID() {
				t.held[d.ObjectID] = struct{}{}
			}
			continue
		}
		id := d.ObjectID
		if _, dup := t.present[id]; dup {
			errs = append(errs, &RejectedDetection{Index: i, ObjectID: id, Err: ErrDuplicateDetection})
			continue
		}
		t.present[id] = struct{}{}
		cur := *d.Position

		prev, known := t.positions[id]
		if !known {
			t.positions[id] = cur
			continue
		}

		if started, cooling := t.cooldowns[id]; cooling {
			if now.Sub(started) < t.cooldown {
				t.positions[id] = cur
				continue
			}
			delete(t.cooldowns, id)
		}

		if dir := t.detector.Classify(prev, cur); dir != None {
			events = append(events, Event{
				ID:        uuid.New(),
				SourceID:  t.sourceID,
				ObjectID:  id,
				Direction: dir,
				Timestamp: now,
			})
			t.cooldowns[id] = now
		}
		t.positions[id] = cur
	}

	// Disappearance is a hard reset: position and cooldown both go.
	for id := range t.positions {
		_, ok := t.present[id]
		if _, held := t.held[id]; !ok && !held {
			delete(t.positions, id)
			delete(t.cooldowns, id)
		}
	}

	t.stats.Batches++
	t.stats.Detections += uint64(len(dets))
	t.stats.Rejected += uint64(len(errs))
	t.stats.Events += uint64(len(events))
	t.stats.Tracked = len(t.positions)

	return events, errors.Join(errs...)
}

// Len returns the number of currently tracked objects.
func (t *Tracker) Len() int { return len(t.positions) }

// InCooldown reports whether the object id holds a cooldown entry. An
// expired entry is only cleared when the object is next evaluated.
func (t *Tracker) InCooldown(id int64) bool {
	_, ok := t.cooldowns[id]
	return ok
}

// Position returns the last known position of an object id.
func (t *Tracker) Position(id int64) (Point, bool) {
	p, ok := t.positions[id]
	return p, ok
}

// Stats returns a copy of the cumulative tracker counters.
func (t *Tracker) Stats() TrackerStats { return t.stats }
