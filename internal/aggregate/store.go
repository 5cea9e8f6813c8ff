// Package aggregate holds the cumulative crossing counters shared by every
// source worker and every reader.
package aggregate

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/crossing.report/internal/crossing"
)

// Key identifies one counter.
type Key struct {
	SourceID  string
	Direction crossing.Direction
}

// Counts is a point-in-time copy of every counter.
type Counts map[Key]uint64

// Totals are the per-direction counts of one source, as served to readers.
type Totals struct {
	Forward  uint64 `json:"forward"`
	Backward uint64 `json:"backward"`
}

// Sum returns forward + backward.
func (t Totals) Sum() uint64 { return t.Forward + t.Backward }

// Totals regroups the counts per source. Every source present in c appears in
// the result, including ones with only zero counters.
func (c Counts) Totals() map[string]Totals {
	out := make(map[string]Totals)
	for k, v := range c {
		t := out[k.SourceID]
		switch k.Direction {
		case crossing.Forward:
			t.Forward = v
		case crossing.Backward:
			t.Backward = v
		}
		out[k.SourceID] = t
	}
	return out
}

// Total returns the sum of all counters.
func (c Counts) Total() uint64 {
	var n uint64
	for _, v := range c {
		n += v
	}
	return n
}

// Store is the concurrency-safe counter table.
//
// Increments take the read lock and bump an atomic counter, so writers on
// different sources never serialise against each other. Snapshot takes the
// write lock for the duration of the copy so a reader sees every increment
// either fully before or fully after the snapshot.
type Store struct {
	mu       sync.RWMutex
	counters map[Key]*atomic.Uint64
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{counters: make(map[Key]*atomic.Uint64)}
}

// Register creates zero counters for every direction of sourceID so the
// source is reported before its first event. Registering twice is a no-op.
func (s *Store) Register(sourceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range crossing.Directions {
		k := Key{SourceID: sourceID, Direction: d}
		if _, ok := s.counters[k]; !ok {
			s.counters[k] = new(atomic.Uint64)
		}
	}
}

// Increment adds one to the (sourceID, dir) counter and returns its new
// value. Unknown keys are created on first use. None is not counted.
func (s *Store) Increment(sourceID string, dir crossing.Direction) uint64 {
	if dir == crossing.None {
		return 0
	}
	k := Key{SourceID: sourceID, Direction: dir}

	s.mu.RLock()
	c, ok := s.counters[k]
	if ok {
		n := c.Add(1)
		s.mu.RUnlock()
		return n
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok = s.counters[k]
	if !ok {
		c = new(atomic.Uint64)
		s.counters[k] = c
	}
	return c.Add(1)
}

// Get returns the current value of one counter.
func (s *Store) Get(sourceID string, dir crossing.Direction) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.counters[Key{SourceID: sourceID, Direction: dir}]; ok {
		return c.Load()
	}
	return 0
}

// Snapshot copies every counter.
func (s *Store) Snapshot() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(Counts, len(s.counters))
	for k, c := range s.counters {
		out[k] = c.Load()
	}
	return out
}

// Totals is Snapshot().Totals().
func (s *Store) Totals() map[string]Totals {
	return s.Snapshot().Totals()
}

// Sources returns the known source ids in sorted order.
func (s *Store) Sources() []string {
	s.mu.RLock()
	seen := make(map[string]struct{})
	for k := range s.counters {
		seen[k.SourceID] = struct{}{}
	}
	s.mu.RUnlock()

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
