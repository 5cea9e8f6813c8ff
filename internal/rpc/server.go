package rpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/crossing.report/internal/aggregate"
	"github.com/banshee-data/crossing.report/internal/monitoring"
	"github.com/banshee-data/crossing.report/internal/timeutil"
)

const (
	defaultWatchInterval = time.Second
	minWatchInterval     = 100 * time.Millisecond
)

// Ensure Server implements the gRPC interface.
var _ TotalsServer = (*Server)(nil)

// Server implements TotalsServer over an aggregation store.
type Server struct {
	store *aggregate.Store
	clock timeutil.Clock

	// closed on shutdown so open watch streams return before GracefulStop
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewServer creates a Server. A nil clock uses the real clock.
func NewServer(store *aggregate.Store, clock timeutil.Clock) *Server {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Server{store: store, clock: clock, shutdown: make(chan struct{})}
}

// GetTotals implements TotalsServer.
func (s *Server) GetTotals(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	out, err := EncodeTotals(s.store.Totals())
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode totals: %v", err)
	}
	return out, nil
}

// Live implements TotalsServer.
func (s *Server) Live(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{"status": "ok", "message": "API is live"})
}

// WatchTotals sends the current totals, then a new snapshot on every tick
// where any counter changed. A zero interval means one second; anything
// under 100ms is rejected.
func (s *Server) WatchTotals(req *durationpb.Duration, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	interval := defaultWatchInterval
	if req != nil && (req.GetSeconds() != 0 || req.GetNanos() != 0) {
		if err := req.CheckValid(); err != nil {
			return status.Errorf(codes.InvalidArgument, "interval: %v", err)
		}
		interval = req.AsDuration()
	}
	if interval < minWatchInterval {
		return status.Errorf(codes.InvalidArgument, "interval %v is below the %v minimum", interval, minWatchInterval)
	}

	ctx := stream.Context()
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	var last aggregate.Counts
	send := func() error {
		snap := s.store.Snapshot()
		if last != nil && countsEqual(last, snap) {
			return nil
		}
		last = snap
		msg, err := EncodeTotals(snap.Totals())
		if err != nil {
			return status.Errorf(codes.Internal, "encode totals: %v", err)
		}
		return stream.Send(msg)
	}

	if err := send(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.shutdown:
			return nil
		case <-ticker.C():
			if err := send(); err != nil {
				return err
			}
		}
	}
}

func countsEqual(a, b aggregate.Counts) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// ListenAndServe serves the Totals service on addr until ctx is cancelled,
// then stops gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	g := grpc.NewServer()
	RegisterTotalsServer(g, s)

	errc := make(chan error, 1)
	go func() {
		monitoring.Logf("[gRPC] Totals service listening on %s", lis.Addr())
		errc <- g.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		s.shutdownOnce.Do(func() { close(s.shutdown) })
		g.GracefulStop()
		<-errc
		return nil
	case err := <-errc:
		return err
	}
}
