package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/url"
	"time"

	"github.com/banshee-data/crossing.report/internal/crossing"
	"github.com/banshee-data/crossing.report/internal/timeutil"
)

// SyntheticConfig shapes generated traffic: Objects walkers move
// horizontally back and forth across a vertical line at LineX.
type SyntheticConfig struct {
	Objects int     // concurrent objects
	FPS     float64 // frame rate; 0 generates frames as fast as they are read
	LineX   float64 // x coordinate the objects cross
	Width   float64 // scene width; objects leave and re-enter at the edges
	Speed   float64 // pixels per frame
	Frames  int     // stop with io.EOF after this many frames; 0 runs forever
	Seed    uint64
}

func syntheticConfig(u *url.URL) (SyntheticConfig, error) {
	var (
		cfg SyntheticConfig
		err error
	)
	if cfg.Objects, err = queryInt(u, "objects", 5); err != nil {
		return cfg, err
	}
	if cfg.FPS, err = queryFloat(u, "fps", 10); err != nil {
		return cfg, err
	}
	if cfg.LineX, err = queryFloat(u, "line", 150); err != nil {
		return cfg, err
	}
	if cfg.Width, err = queryFloat(u, "width", 2*cfg.LineX); err != nil {
		return cfg, err
	}
	if cfg.Speed, err = queryFloat(u, "speed", 7); err != nil {
		return cfg, err
	}
	if cfg.Frames, err = queryInt(u, "frames", 0); err != nil {
		return cfg, err
	}
	seed, err := queryInt(u, "seed", 1)
	if err != nil {
		return cfg, err
	}
	cfg.Seed = uint64(seed)

	switch {
	case cfg.Objects < 0:
		return cfg, fmt.Errorf("objects must be non-negative, got %d", cfg.Objects)
	case cfg.FPS < 0:
		return cfg, fmt.Errorf("fps must be non-negative, got %g", cfg.FPS)
	case cfg.Width <= cfg.LineX || cfg.LineX <= 0:
		return cfg, fmt.Errorf("line %g must lie inside the scene width %g", cfg.LineX, cfg.Width)
	case cfg.Speed <= 0:
		return cfg, fmt.Errorf("speed must be positive, got %g", cfg.Speed)
	}
	return cfg, nil
}

type walker struct {
	id   int64
	x, y float64
	vx   float64
}

// Synthetic generates JSON frames of objects walking across a vertical
// line. An object that leaves the scene is replaced by a new id.
type Synthetic struct {
	cfg     SyntheticConfig
	clock   timeutil.Clock
	ticker  timeutil.Ticker
	rng     *rand.Rand
	walkers []walker
	nextID  int64
	seq     uint64
}

// NewSynthetic creates a generator.
func NewSynthetic(cfg SyntheticConfig, clock timeutil.Clock) *Synthetic {
	g := &Synthetic{
		cfg:    cfg,
		clock:  clock,
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		nextID: 1,
	}
	if cfg.FPS > 0 {
		g.ticker = clock.NewTicker(time.Duration(float64(time.Second) / cfg.FPS))
	}
	for i := 0; i < cfg.Objects; i++ {
		g.walkers = append(g.walkers, g.spawn())
	}
	return g
}

func (g *Synthetic) spawn() walker {
	w := walker{
		id: g.nextID,
		y:  g.rng.Float64() * 480,
		vx: g.cfg.Speed * (0.5 + g.rng.Float64()),
	}
	g.nextID++
	if g.rng.IntN(2) == 0 {
		w.x = g.rng.Float64() * g.cfg.LineX * 0.5
	} else {
		w.x = g.cfg.Width - g.rng.Float64()*(g.cfg.Width-g.cfg.LineX)*0.5
		w.vx = -w.vx
	}
	return w
}

func (g *Synthetic) step() {
	for i := range g.walkers {
		w := &g.walkers[i]
		w.x += w.vx
		w.y += g.rng.NormFloat64()
		if w.x < 0 || w.x > g.cfg.Width {
			g.walkers[i] = g.spawn()
		}
	}
}

// Next implements FrameSource.
func (g *Synthetic) Next(ctx context.Context) (Frame, error) {
	if g.cfg.Frames > 0 && g.seq >= uint64(g.cfg.Frames) {
		return Frame{}, io.EOF
	}
	if g.ticker != nil {
		select {
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		case <-g.ticker.C():
		}
	} else if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	if g.seq > 0 {
		g.step()
	}
	g.seq++
	now := g.clock.Now()

	p := Payload{Frame: g.seq, TS: now.UnixMilli(), Detections: make([]crossing.Detection, len(g.walkers))}
	for i, w := range g.walkers {
		p.Detections[i] = crossing.Detection{ObjectID: w.id, Position: &crossing.Point{X: w.x, Y: w.y}}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Seq: g.seq, Timestamp: now, Payload: b}, nil
}

// Close implements FrameSource.
func (g *Synthetic) Close() error {
	if g.ticker != nil {
		g.ticker.Stop()
	}
	return nil
}
