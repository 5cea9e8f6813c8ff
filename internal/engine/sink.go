package engine

import (
	"context"

	"github.com/banshee-data/crossing.report/internal/aggregate"
	"github.com/banshee-data/crossing.report/internal/crossing"
	"github.com/banshee-data/crossing.report/internal/monitoring"
)

// EventPersister durably records crossing events.
type EventPersister interface {
	PersistEvent(ctx context.Context, e crossing.Event) error
}

// Sink receives every crossing event a worker produces.
type Sink interface {
	Record(ctx context.Context, e crossing.Event)
}

// StoreSink counts events in the aggregation store, then hands them to the
// optional persister. A persistence failure is logged and never undoes the
// in-memory count.
type StoreSink struct {
	Store     *aggregate.Store
	Persister EventPersister
}

// Record implements Sink.
func (s *StoreSink) Record(ctx context.Context, e crossing.Event) {
	s.Store.Increment(e.SourceID, e.Direction)
	if s.Persister == nil {
		return
	}
	if err := s.Persister.PersistEvent(ctx, e); err != nil && ctx.Err() == nil {
		monitoring.Logf("[source=%s] failed to persist event %s: %v", e.SourceID, e.ID, err)
	}
}
