// Package api serves the HTTP reporting surface: live and lifetime totals,
// per-source status, manual restarts and charts.
package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/banshee-data/crossing.report/internal/aggregate"
	"github.com/banshee-data/crossing.report/internal/engine"
	"github.com/banshee-data/crossing.report/internal/httputil"
	"github.com/banshee-data/crossing.report/internal/monitoring"
)

// ANSI escape codes for the request log
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Engine is the part of *engine.Engine the handlers use.
type Engine interface {
	Store() *aggregate.Store
	Statuses() []engine.Status
	Restart(id string) error
}

// LifetimeReader returns totals across every run. *db.DB implements it.
type LifetimeReader interface {
	LifetimeTotals(ctx context.Context) (map[string]aggregate.Totals, error)
}

type Server struct {
	engine   Engine
	lifetime LifetimeReader
}

// NewServer creates a Server. lifetime may be nil when no database is
// configured; lifetime queries then answer 503.
func NewServer(e Engine, lifetime LifetimeReader) *Server {
	return &Server{engine: e, lifetime: lifetime}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status/live", s.handleLive)
	mux.HandleFunc("/api/totals", s.handleTotals)
	mux.HandleFunc("/api/sources", s.handleSources)
	mux.HandleFunc("/api/sources/{id}/restart", s.handleRestart)
	mux.HandleFunc("/api/charts/totals", s.handleTotalsChart)
	mux.HandleFunc("/api/charts/totals.png", s.handleTotalsPNG)
	return mux
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "ok", "message": "API is live"})
}

// lifetimeSummary is the response shape of /api/totals?scope=lifetime.
type lifetimeSummary struct {
	Status string       `json:"status"`
	Data   lifetimeData `json:"data"`
}

type lifetimeData struct {
	TotalForward  uint64                      `json:"total_forward"`
	TotalBackward uint64                      `json:"total_backward"`
	Sources       map[string]aggregate.Totals `json:"sources"`
}

// totals returns per-source totals for scope "live" (default) or
// "lifetime". Live totals include every registered source, zero or not.
func (s *Server) totals(r *http.Request) (map[string]aggregate.Totals, int, error) {
	switch scope := r.URL.Query().Get("scope"); scope {
	case "", "live":
		return s.engine.Store().Totals(), http.StatusOK, nil
	case "lifetime":
		if s.lifetime == nil {
			return nil, http.StatusServiceUnavailable, errors.New("lifetime totals require a database")
		}
		totals, err := s.lifetime.LifetimeTotals(r.Context())
		if err != nil {
			monitoring.Logf("failed to read lifetime totals: %v", err)
			return nil, http.StatusInternalServerError, errors.New("failed to read lifetime totals")
		}
		return totals, http.StatusOK, nil
	default:
		return nil, http.StatusBadRequest, errors.New("invalid 'scope' parameter: want live or lifetime")
	}
}

func (s *Server) handleTotals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	totals, status, err := s.totals(r)
	if err != nil {
		httputil.WriteJSONError(w, status, err.Error())
		return
	}
	if r.URL.Query().Get("scope") != "lifetime" {
		httputil.WriteJSONOK(w, totals)
		return
	}

	resp := lifetimeSummary{Status: "success", Data: lifetimeData{Sources: totals}}
	for _, t := range totals {
		resp.Data.TotalForward += t.Forward
		resp.Data.TotalBackward += t.Backward
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, s.engine.Statuses())
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	id := r.PathValue("id")
	err := s.engine.Restart(id)
	switch {
	case err == nil:
		httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "restarted", "source_id": id})
	case errors.Is(err, engine.ErrUnknownSource):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, engine.ErrWorkerActive):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, engine.ErrNotRunning):
		httputil.ServiceUnavailable(w, err.Error())
	default:
		httputil.InternalServerError(w, err.Error())
	}
}

func sortedIDs(totals map[string]aggregate.Totals) []string {
	ids := make([]string, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
