// Package crossing turns per-frame object positions into directional line
// crossing events.
//
// A Detector is a pure predicate over two consecutive positions of one
// object. A Tracker holds the per-source state (last position and cooldown
// per object id) and drives a Detector for every detection batch.
package crossing

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Direction labels which way an object crossed the reference line.
type Direction string

const (
	None     Direction = ""
	Forward  Direction = "forward"
	Backward Direction = "backward"
)

// Directions lists every countable direction in reporting order.
var Directions = []Direction{Forward, Backward}

// ErrDegenerateLine is returned when both endpoints of a line coincide.
var ErrDegenerateLine = errors.New("degenerate line: endpoints coincide")

// Point is a 2D image-space coordinate. It is encoded as a two-element JSON
// array, [x, y], which is how upstream detectors report positions.
type Point struct {
	X float64
	Y float64
}

func (p Point) finite() bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}

// MarshalJSON encodes the point as [x, y].
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.X, p.Y})
}

// UnmarshalJSON decodes a point from [x, y].
func (p *Point) UnmarshalJSON(b []byte) error {
	var xy []float64
	if err := json.Unmarshal(b, &xy); err != nil {
		return fmt.Errorf("point: %w", err)
	}
	if len(xy) != 2 {
		return fmt.Errorf("point: want 2 coordinates, got %d", len(xy))
	}
	p.X, p.Y = xy[0], xy[1]
	return nil
}

// Detector classifies the transition of one object between two positions.
// Implementations must be pure and deterministic.
type Detector interface {
	Classify(prev, cur Point) Direction
}

// Axis selects which coordinate a Threshold compares.
type Axis int

const (
	AxisX Axis = iota
	AxisY
)

func (a Axis) String() string {
	if a == AxisY {
		return "y"
	}
	return "x"
}

// Threshold is a reference line expressed as a scalar threshold on one axis.
// Moving from strictly below Value to on-or-above it is Forward; the mirror
// transition is Backward.
type Threshold struct {
	Axis  Axis
	Value float64
}

func (t Threshold) coord(p Point) float64 {
	if t.Axis == AxisY {
		return p.Y
	}
	return p.X
}

// Classify implements Detector.
func (t Threshold) Classify(prev, cur Point) Direction {
	a, b := t.coord(prev), t.coord(cur)
	switch {
	case a < t.Value && b >= t.Value:
		return Forward
	case a > t.Value && b <= t.Value:
		return Backward
	}
	return None
}

func (t Threshold) String() string {
	return fmt.Sprintf("%s=%g", t.Axis, t.Value)
}

// Segment is an arbitrary reference segment from A to B. Moving from the
// negative side onto or past the positive side, through the segment span, is
// Forward. For A=(150,0) B=(150,480) the positive side is x > 150, so the
// result matches Threshold{AxisX, 150} for movements inside the span.
type Segment struct {
	A Point
	B Point
}

// side returns the signed distance-like value of p relative to the segment:
// negative on the left of A→B, positive on the right.
func (s Segment) side(p Point) float64 {
	return (s.B.Y-s.A.Y)*(p.X-s.A.X) - (s.B.X-s.A.X)*(p.Y-s.A.Y)
}

// within reports whether the movement prev→cur intersects the segment span.
func (s Segment) within(prev, cur Point) bool {
	dx, dy := cur.X-prev.X, cur.Y-prev.Y
	ex, ey := s.B.X-s.A.X, s.B.Y-s.A.Y
	denom := ex*dy - ey*dx
	if denom == 0 {
		return false
	}
	u := ((prev.X-s.A.X)*dy - (prev.Y-s.A.Y)*dx) / denom
	return u >= 0 && u <= 1
}

// Classify implements Detector.
func (s Segment) Classify(prev, cur Point) Direction {
	a, b := s.side(prev), s.side(cur)
	var dir Direction
	switch {
	case a < 0 && b >= 0:
		dir = Forward
	case a > 0 && b <= 0:
		dir = Backward
	default:
		return None
	}
	if !s.within(prev, cur) {
		return None
	}
	return dir
}

func (s Segment) String() string {
	return fmt.Sprintf("(%g,%g)-(%g,%g)", s.A.X, s.A.Y, s.B.X, s.B.Y)
}

// NewDetector builds the detector for a configured line [x1, y1, x2, y2].
// Vertical and horizontal lines become a Threshold on the X or Y axis; any
// other orientation becomes a Segment.
func NewDetector(line [4]float64) (Detector, error) {
	a := Point{X: line[0], Y: line[1]}
	b := Point{X: line[2], Y: line[3]}
	if !a.finite() || !b.finite() {
		return nil, fmt.Errorf("line %v: coordinates must be finite", line)
	}
	switch {
	case a == b:
		return nil, fmt.Errorf("line %v: %w", line, ErrDegenerateLine)
	case a.X == b.X:
		return Threshold{Axis: AxisX, Value: a.X}, nil
	case a.Y == b.Y:
		return Threshold{Axis: AxisY, Value: a.Y}, nil
	}
	return Segment{A: a, B: b}, nil
}
