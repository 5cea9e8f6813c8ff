package engine

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/crossing.report/internal/crossing"
	"github.com/banshee-data/crossing.report/internal/source"
	"github.com/banshee-data/crossing.report/internal/timeutil"
)

var t0 = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

type step struct {
	frame source.Frame
	err   error
}

// scriptedSource replays prepared steps and reports io.EOF once the script
// is closed and drained.
type scriptedSource struct {
	steps  chan step
	seq    uint64
	closed atomic.Bool
}

func newScripted(capacity int) *scriptedSource {
	return &scriptedSource{steps: make(chan step, capacity)}
}

func (s *scriptedSource) push(t *testing.T, dets ...crossing.Detection) {
	t.Helper()
	s.seq++
	b, err := json.Marshal(source.Payload{Frame: s.seq, Detections: dets})
	require.NoError(t, err)
	s.steps <- step{frame: source.Frame{Seq: s.seq, Payload: b}}
}

func (s *scriptedSource) fail(err error) { s.steps <- step{err: err} }

func (s *scriptedSource) end() { close(s.steps) }

func (s *scriptedSource) Next(ctx context.Context) (source.Frame, error) {
	select {
	case <-ctx.Done():
		return source.Frame{}, ctx.Err()
	case st, ok := <-s.steps:
		if !ok {
			return source.Frame{}, io.EOF
		}
		return st.frame, st.err
	}
}

func (s *scriptedSource) Close() error {
	s.closed.Store(true)
	return nil
}

func at(id int64, x float64) crossing.Detection {
	return crossing.Detection{ObjectID: id, Position: &crossing.Point{X: x, Y: 100}}
}

// openers maps a source URI to a queue of open results.
type openers struct {
	mu      sync.Mutex
	results map[string][]func() (source.FrameSource, error)
	calls   map[string]int
}

func newOpeners() *openers {
	return &openers{
		results: make(map[string][]func() (source.FrameSource, error)),
		calls:   make(map[string]int),
	}
}

func (o *openers) add(uri string, fn func() (source.FrameSource, error)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results[uri] = append(o.results[uri], fn)
}

func (o *openers) source(uri string, src source.FrameSource) {
	o.add(uri, func() (source.FrameSource, error) { return src, nil })
}

func (o *openers) err(uri string, err error) {
	o.add(uri, func() (source.FrameSource, error) { return nil, err })
}

func (o *openers) open(uri string) (source.FrameSource, error) {
	o.mu.Lock()
	o.calls[uri]++
	q := o.results[uri]
	if len(q) == 0 {
		o.mu.Unlock()
		return nil, io.ErrUnexpectedEOF
	}
	fn := q[0]
	if len(q) > 1 {
		o.results[uri] = q[1:]
	}
	o.mu.Unlock()
	return fn()
}

func (o *openers) count(uri string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[uri]
}

// releaseBackoff waits for the worker to block on the mock clock and then
// advances past the longest possible backoff.
func releaseBackoff(t *testing.T, clock *timeutil.MockClock) {
	t.Helper()
	require.Eventually(t, func() bool { return clock.Waiters() > 0 }, 2*time.Second, time.Millisecond)
	clock.Advance(time.Minute)
}

func spec(id, uri string) SourceSpec {
	return SourceSpec{ID: id, Line: [4]float64{150, 0, 150, 480}, FrameSource: uri, Enabled: true}
}
