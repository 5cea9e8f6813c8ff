package crossing

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreshold_Classify(t *testing.T) {
	t.Parallel()

	line := Threshold{Axis: AxisX, Value: 150}
	tests := []struct {
		name string
		prev Point
		cur  Point
		want Direction
	}{
		{"forward across", Point{140, 200}, Point{160, 205}, Forward},
		{"forward onto line", Point{149, 0}, Point{150, 0}, Forward},
		{"backward across", Point{160, 205}, Point{140, 200}, Backward},
		{"backward onto line", Point{151, 0}, Point{150, 0}, Backward},
		{"stays left", Point{100, 0}, Point{120, 0}, None},
		{"stays right", Point{160, 0}, Point{190, 0}, None},
		{"leaves line forward", Point{150, 0}, Point{160, 0}, None},
		{"leaves line backward", Point{150, 0}, Point{140, 0}, None},
		{"no movement", Point{150, 0}, Point{150, 0}, None},
		{"y movement ignored", Point{140, 0}, Point{140, 900}, None},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, line.Classify(tt.prev, tt.cur))
		})
	}
}

func TestThreshold_YAxis(t *testing.T) {
	t.Parallel()

	line := Threshold{Axis: AxisY, Value: 100}
	assert.Equal(t, Forward, line.Classify(Point{0, 90}, Point{0, 110}))
	assert.Equal(t, Backward, line.Classify(Point{0, 110}, Point{0, 90}))
	assert.Equal(t, None, line.Classify(Point{90, 0}, Point{110, 0}))
	assert.Equal(t, "y=100", line.String())
}

func TestSegment_MatchesThresholdInsideSpan(t *testing.T) {
	t.Parallel()

	seg := Segment{A: Point{150, 0}, B: Point{150, 480}}
	thr := Threshold{Axis: AxisX, Value: 150}

	moves := [][2]Point{
		{{140, 200}, {160, 205}},
		{{160, 205}, {140, 200}},
		{{149, 10}, {150, 10}},
		{{100, 10}, {120, 10}},
		{{150, 10}, {160, 10}},
	}
	for _, m := range moves {
		assert.Equal(t, thr.Classify(m[0], m[1]), seg.Classify(m[0], m[1]), "move %v", m)
	}
}

func TestSegment_OutsideSpan(t *testing.T) {
	t.Parallel()

	seg := Segment{A: Point{0, 0}, B: Point{100, 100}}
	// Crosses the infinite line y=x, but beyond the segment end.
	assert.Equal(t, None, seg.Classify(Point{200, 150}, Point{150, 200}))
	// Same movement shifted into the span.
	assert.NotEqual(t, None, seg.Classify(Point{60, 40}, Point{40, 60}))
}

func TestSegment_Diagonal(t *testing.T) {
	t.Parallel()

	seg := Segment{A: Point{0, 0}, B: Point{100, 100}}
	forward := seg.Classify(Point{40, 60}, Point{60, 40})
	backward := seg.Classify(Point{60, 40}, Point{40, 60})
	require.NotEqual(t, None, forward)
	assert.NotEqual(t, forward, backward)
	assert.Contains(t, Directions, forward)
	assert.Contains(t, Directions, backward)
}

func TestNewDetector(t *testing.T) {
	t.Parallel()

	d, err := NewDetector([4]float64{150, 0, 150, 480})
	require.NoError(t, err)
	assert.Equal(t, Threshold{Axis: AxisX, Value: 150}, d)

	d, err = NewDetector([4]float64{0, 240, 640, 240})
	require.NoError(t, err)
	assert.Equal(t, Threshold{Axis: AxisY, Value: 240}, d)

	d, err = NewDetector([4]float64{0, 0, 640, 480})
	require.NoError(t, err)
	assert.Equal(t, Segment{A: Point{0, 0}, B: Point{640, 480}}, d)

	_, err = NewDetector([4]float64{10, 10, 10, 10})
	assert.ErrorIs(t, err, ErrDegenerateLine)

	_, err = NewDetector([4]float64{math.NaN(), 0, 10, 10})
	assert.Error(t, err)
}

func TestDetection_UnmarshalJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		in     string
		is     error
		wantID int64
	}{
		{"missing pos", `{"id":7}`, ErrMissingPosition, 7},
		{"null pos", `{"id":7,"pos":null}`, ErrMissingPosition, 7},
		{"short pos", `{"id":102,"pos":[1]}`, ErrMissingPosition, 102},
		{"object pos", `{"id":102,"pos":{"x":1}}`, ErrMissingPosition, 102},
		{"missing id", `{"pos":[160,200]}`, ErrMissingObjectID, 0},
		{"null id", `{"id":null,"pos":[160,200]}`, ErrMissingObjectID, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Detection
			err := d.UnmarshalJSON([]byte(tt.in))
			require.ErrorIs(t, err, tt.is)
			assert.Equal(t, tt.wantID, d.ObjectID)
			assert.Nil(t, d.Position)
		})
	}

	var d Detection
	err := d.UnmarshalJSON([]byte(`{"id":"abc","pos":[1,2]}`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMissingPosition)
}

func TestPoint_JSON(t *testing.T) {
	t.Parallel()

	var d Detection
	require.NoError(t, json.Unmarshal([]byte(`{"id":101,"pos":[140,200]}`), &d))
	require.NotNil(t, d.Position)
	assert.Equal(t, int64(101), d.ObjectID)
	assert.Equal(t, Point{140, 200}, *d.Position)

	b, err := json.Marshal(Point{1.5, 2})
	require.NoError(t, err)
	assert.JSONEq(t, `[1.5,2]`, string(b))

	b, err = json.Marshal(Detection{ObjectID: 3, Position: &Point{1, 2}, Err: ErrMissingPosition})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":3,"pos":[1,2]}`, string(b))

	var p Point
	assert.Error(t, json.Unmarshal([]byte(`[1,2,3]`), &p))
	assert.Error(t, json.Unmarshal([]byte(`{"x":1}`), &p))
}
