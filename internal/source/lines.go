package source

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/banshee-data/crossing.report/internal/timeutil"
)

// maxLineSize bounds a single newline-delimited frame.
const maxLineSize = 1 << 20

// lineSource yields one frame per non-empty line of r. The blocking scan
// runs in its own goroutine so Next can honour ctx cancellation.
type lineSource struct {
	closer io.Closer
	clock  timeutil.Clock
	atEnd  error

	lines chan []byte
	errc  chan error
	done  chan struct{}
	once  sync.Once
	seq   uint64
}

func newLineSource(rc io.ReadCloser, atEnd error, clock timeutil.Clock) *lineSource {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	s := &lineSource{
		closer: rc,
		clock:  clock,
		atEnd:  atEnd,
		lines:  make(chan []byte),
		errc:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	go s.scan(rc)
	return s
}

func (s *lineSource) scan(r io.Reader) {
	defer close(s.lines)
	scan := bufio.NewScanner(r)
	scan.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scan.Scan() {
		line := bytes.TrimSpace(scan.Bytes())
		if len(line) == 0 {
			continue
		}
		select {
		case s.lines <- append([]byte(nil), line...):
		case <-s.done:
			return
		}
	}
	if err := scan.Err(); err != nil {
		s.errc <- err
	}
}

// Next implements FrameSource.
func (s *lineSource) Next(ctx context.Context) (Frame, error) {
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case line, ok := <-s.lines:
		if !ok {
			select {
			case err := <-s.errc:
				return Frame{}, err
			default:
			}
			return Frame{}, s.atEnd
		}
		s.seq++
		return Frame{Seq: s.seq, Timestamp: s.clock.Now(), Payload: line}, nil
	}
}

// Close implements FrameSource.
func (s *lineSource) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.closer.Close()
	})
	return err
}
