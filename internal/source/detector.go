package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/banshee-data/crossing.report/internal/crossing"
)

// Payload is the JSON frame exchanged with upstream detectors:
//
//	{"frame": 42, "ts": 1718000000000, "detections": [{"id": 101, "pos": [140, 200]}]}
type Payload struct {
	Frame      uint64               `json:"frame"`
	TS         int64                `json:"ts"` // unix milliseconds
	Detections []crossing.Detection `json:"detections"`
}

// Time returns the payload timestamp, or the zero time when unset.
func (p Payload) Time() time.Time {
	if p.TS == 0 {
		return time.Time{}
	}
	return time.UnixMilli(p.TS).UTC()
}

// JSONDetector decodes detections already computed upstream and carried in
// the frame payload. Each entry is decoded on its own: an entry that fails
// is returned with Err set so the tracker rejects it alone. Only a payload
// that is not a frame object fails the whole frame.
type JSONDetector struct{}

type wirePayload struct {
	Frame      uint64            `json:"frame"`
	TS         int64             `json:"ts"`
	Detections []json.RawMessage `json:"detections"`
}

// Detect implements Detector.
func (JSONDetector) Detect(_ context.Context, f Frame) ([]crossing.Detection, error) {
	var p wirePayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		return nil, fmt.Errorf("frame %d: decode payload: %w", f.Seq, err)
	}
	dets := make([]crossing.Detection, len(p.Detections))
	for i, raw := range p.Detections {
		if err := dets[i].UnmarshalJSON(raw); err != nil {
			dets[i].Err = err
		}
	}
	return dets, nil
}
