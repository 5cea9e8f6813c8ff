package api

import (
	"bytes"
	"fmt"
	"image/color"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/crossing.report/internal/aggregate"
	"github.com/banshee-data/crossing.report/internal/httputil"
)

var (
	forwardColor  = color.RGBA{R: 0x31, G: 0x68, B: 0x8e, A: 0xff}
	backwardColor = color.RGBA{R: 0xb5, G: 0xde, B: 0x2b, A: 0xff}
)

// handleTotalsChart renders per-source totals as an HTML bar chart.
// Query params:
//   - scope (optional; live or lifetime, default live)
func (s *Server) handleTotalsChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	totals, status, err := s.totals(r)
	if err != nil {
		httputil.WriteJSONError(w, status, err.Error())
		return
	}

	ids := sortedIDs(totals)
	forward := make([]opts.BarData, len(ids))
	backward := make([]opts.BarData, len(ids))
	var sum uint64
	for i, id := range ids {
		t := totals[id]
		forward[i] = opts.BarData{Value: t.Forward}
		backward[i] = opts.BarData{Value: t.Backward}
		sum += t.Sum()
	}

	scope := r.URL.Query().Get("scope")
	if scope == "" {
		scope = "live"
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Line Crossings", Width: "900px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "Line Crossings", Subtitle: fmt.Sprintf("scope=%s sources=%d total=%d", scope, len(ids), sum)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "crossings"}),
	)
	bar.SetXAxis(ids).
		AddSeries("forward", forward).
		AddSeries("backward", backward)

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleTotalsPNG renders the same chart as a static PNG.
func (s *Server) handleTotalsPNG(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	totals, status, err := s.totals(r)
	if err != nil {
		httputil.WriteJSONError(w, status, err.Error())
		return
	}
	if len(totals) == 0 {
		httputil.NotFound(w, "no sources to plot")
		return
	}

	buf, err := renderTotalsPNG(totals)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

func renderTotalsPNG(totals map[string]aggregate.Totals) (*bytes.Buffer, error) {
	ids := sortedIDs(totals)
	fwd := make(plotter.Values, len(ids))
	bwd := make(plotter.Values, len(ids))
	for i, id := range ids {
		fwd[i] = float64(totals[id].Forward)
		bwd[i] = float64(totals[id].Backward)
	}

	p := plot.New()
	p.Title.Text = "Line Crossings"
	p.Y.Label.Text = "crossings"
	p.Y.Min = 0

	width := vg.Points(18)
	fwdBars, err := plotter.NewBarChart(fwd, width)
	if err != nil {
		return nil, err
	}
	fwdBars.Color = forwardColor
	fwdBars.LineStyle.Width = vg.Length(0)
	fwdBars.Offset = -width / 2

	bwdBars, err := plotter.NewBarChart(bwd, width)
	if err != nil {
		return nil, err
	}
	bwdBars.Color = backwardColor
	bwdBars.LineStyle.Width = vg.Length(0)
	bwdBars.Offset = width / 2

	p.Add(fwdBars, bwdBars)
	p.Legend.Add("forward", fwdBars)
	p.Legend.Add("backward", bwdBars)
	p.Legend.Top = true
	p.NominalX(ids...)

	wt, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, err
	}
	return &buf, nil
}
