// Package source acquires frames for a video source and turns them into
// detection batches.
//
// A FrameSource is addressed by URI:
//
//	udp://host:port                     JSON frame per datagram
//	pcap:///path/to/capture.pcap?port=N replay of captured UDP datagrams
//	serial:///dev/ttyUSB0?baud=N        newline-delimited JSON frames
//	file:///path/to/frames.ndjson       newline-delimited JSON frames
//	synthetic://?objects=N&fps=F&line=X generated traffic
//
// Every scheme carries the same JSON frame payload, decoded by JSONDetector.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/banshee-data/crossing.report/internal/crossing"
	"github.com/banshee-data/crossing.report/internal/timeutil"
)

// ErrUnsupportedScheme is returned for a frame source URI with an unknown
// scheme.
var ErrUnsupportedScheme = errors.New("unsupported frame source scheme")

// Frame is one unit of acquired input.
type Frame struct {
	Seq       uint64
	Timestamp time.Time
	Payload   []byte
}

// FrameSource produces frames in acquisition order. Next blocks until a
// frame is available or ctx is done. A source with a natural end (file or
// capture replay, bounded synthetic run) returns io.EOF.
type FrameSource interface {
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// Detector turns one frame into the detections it contains.
type Detector interface {
	Detect(ctx context.Context, f Frame) ([]crossing.Detection, error)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked with
// Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Options tune how Open builds sources.
type Options struct {
	// BaseDir, when set, confines file and pcap paths to this directory.
	BaseDir string
	// Clock paces synthetic and real-time replay sources and stamps frames.
	Clock timeutil.Clock
	// SerialOpener opens serial ports. Defaults to go.bug.st/serial.
	SerialOpener SerialOpener
}

func (o Options) clock() timeutil.Clock {
	if o.Clock == nil {
		return timeutil.RealClock{}
	}
	return o.Clock
}

// Validate checks that uri names a supported scheme with the parameters it
// needs, without opening anything.
func Validate(uri string) error {
	u, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("frame source %q: %w", uri, err)
	}
	switch u.Scheme {
	case "udp":
		if u.Host == "" {
			return fmt.Errorf("frame source %q: missing host:port", uri)
		}
	case "file", "pcap", "serial":
		if u.Path == "" {
			return fmt.Errorf("frame source %q: missing path", uri)
		}
		if u.Scheme == "pcap" {
			if _, err := pcapPort(u); err != nil {
				return fmt.Errorf("frame source %q: %w", uri, err)
			}
		}
		if u.Scheme == "serial" {
			if _, err := serialOptions(u); err != nil {
				return fmt.Errorf("frame source %q: %w", uri, err)
			}
		}
	case "synthetic":
		if _, err := syntheticConfig(u); err != nil {
			return fmt.Errorf("frame source %q: %w", uri, err)
		}
	default:
		return fmt.Errorf("frame source %q: %w %q", uri, ErrUnsupportedScheme, u.Scheme)
	}
	return nil
}

// Open opens the frame source named by uri. Malformed URIs are returned as
// permanent errors; failures to reach the underlying device or socket are
// not.
func Open(uri string, opts Options) (FrameSource, error) {
	if err := Validate(uri); err != nil {
		return nil, Permanent(err)
	}
	u, _ := url.Parse(uri)
	switch u.Scheme {
	case "udp":
		return OpenUDP(u.Host, opts.clock())
	case "file":
		return OpenFile(u.Path, opts)
	case "pcap":
		port, _ := pcapPort(u)
		return OpenPCAP(u.Path, port, queryBool(u, "realtime"), opts)
	case "serial":
		po, _ := serialOptions(u)
		return OpenSerial(u.Path, po, opts)
	default:
		cfg, _ := syntheticConfig(u)
		return NewSynthetic(cfg, opts.clock()), nil
	}
}

func queryInt(u *url.URL, key string, def int) (int, error) {
	v := u.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func queryFloat(u *url.URL, key string, def float64) (float64, error) {
	v := u.Query().Get(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func queryBool(u *url.URL, key string) bool {
	b, _ := strconv.ParseBool(u.Query().Get(key))
	return b
}
