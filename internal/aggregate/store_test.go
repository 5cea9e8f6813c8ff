package aggregate

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/crossing.report/internal/crossing"
)

func TestStore_RegisterReportsZeroTotals(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Register("cam-1")
	s.Register("cam-2")
	s.Register("cam-1")

	want := map[string]Totals{
		"cam-1": {},
		"cam-2": {},
	}
	if diff := cmp.Diff(want, s.Totals()); diff != "" {
		t.Errorf("Totals() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"cam-1", "cam-2"}, s.Sources())
}

func TestStore_Increment(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Register("cam-1")

	assert.Equal(t, uint64(1), s.Increment("cam-1", crossing.Forward))
	assert.Equal(t, uint64(2), s.Increment("cam-1", crossing.Forward))
	assert.Equal(t, uint64(1), s.Increment("cam-1", crossing.Backward))
	assert.Equal(t, uint64(0), s.Increment("cam-1", crossing.None))

	// Unregistered sources are created on demand.
	assert.Equal(t, uint64(1), s.Increment("late", crossing.Backward))

	want := Counts{
		{SourceID: "cam-1", Direction: crossing.Forward}:  2,
		{SourceID: "cam-1", Direction: crossing.Backward}: 1,
		{SourceID: "late", Direction: crossing.Backward}:  1,
	}
	if diff := cmp.Diff(want, s.Snapshot()); diff != "" {
		t.Errorf("Snapshot() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, uint64(4), s.Snapshot().Total())
	assert.Equal(t, Totals{Forward: 0, Backward: 1}, s.Totals()["late"])
	assert.Equal(t, uint64(2), s.Get("cam-1", crossing.Forward))
	assert.Equal(t, uint64(0), s.Get("nope", crossing.Forward))
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.Increment("a", crossing.Forward)
	snap := s.Snapshot()
	s.Increment("a", crossing.Forward)

	assert.Equal(t, uint64(1), snap[Key{SourceID: "a", Direction: crossing.Forward}])
	assert.Equal(t, uint64(2), s.Get("a", crossing.Forward))
}

// Concurrent writers on several sources plus a concurrent reader: the final
// totals equal the number of increments, and no snapshot ever goes
// backwards.
func TestStore_ConcurrentIncrementsAndSnapshots(t *testing.T) {
	t.Parallel()

	const (
		sources    = 4
		perWorker  = 2000
		writersPer = 3
	)
	ids := []string{"s0", "s1", "s2", "s3"}
	s := NewStore()
	for _, id := range ids {
		s.Register(id)
	}

	var writers sync.WaitGroup
	for i := 0; i < sources; i++ {
		for w := 0; w < writersPer; w++ {
			writers.Add(1)
			go func(id string, dir crossing.Direction) {
				defer writers.Done()
				for n := 0; n < perWorker; n++ {
					s.Increment(id, dir)
				}
			}(ids[i], crossing.Directions[w%2])
		}
	}

	done := make(chan struct{})
	readerErr := make(chan string, 1)
	go func() {
		defer close(readerErr)
		var last uint64
		for {
			select {
			case <-done:
				return
			default:
			}
			total := s.Snapshot().Total()
			if total < last {
				readerErr <- "snapshot total went backwards"
				return
			}
			last = total
		}
	}()

	writers.Wait()
	close(done)
	if msg, ok := <-readerErr; ok {
		t.Fatal(msg)
	}

	totals := s.Totals()
	require.Len(t, totals, sources)
	for _, id := range ids {
		// Writers 0 and 2 count forward, writer 1 counts backward.
		assert.Equal(t, Totals{Forward: 2 * perWorker, Backward: perWorker}, totals[id], id)
	}
	assert.Equal(t, uint64(sources*writersPer*perWorker), s.Snapshot().Total())
}
