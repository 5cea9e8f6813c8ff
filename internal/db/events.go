package db

import (
	"context"
	"fmt"

	"github.com/banshee-data/crossing.report/internal/aggregate"
	"github.com/banshee-data/crossing.report/internal/crossing"
)

// InsertEvents stores a batch of events in one transaction and bumps the
// lifetime summary for every event that was not already stored. Replaying
// an event id is a no-op.
func (db *DB) InsertEvents(ctx context.Context, events []crossing.Event) (inserted int, err error) {
	if len(events) == 0 {
		return 0, nil
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	insertStmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO crossing_events (event_id, source_id, object_id, direction, event_unix_nanos)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare event insert: %w", err)
	}
	defer insertStmt.Close()

	summaryStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO lifetime_event_summary (source_id, direction, total, last_event_unix_nanos)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(source_id, direction) DO UPDATE SET
			total = total + 1,
			last_event_unix_nanos = MAX(COALESCE(last_event_unix_nanos, 0), excluded.last_event_unix_nanos)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare summary upsert: %w", err)
	}
	defer summaryStmt.Close()

	for _, e := range events {
		if e.Direction != crossing.Forward && e.Direction != crossing.Backward {
			continue
		}
		ts := e.Timestamp.UnixNano()
		res, err := insertStmt.ExecContext(ctx, e.ID.String(), e.SourceID, e.ObjectID, string(e.Direction), ts)
		if err != nil {
			return 0, fmt.Errorf("failed to insert event %s: %w", e.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		if n == 0 {
			continue
		}
		if _, err := summaryStmt.ExecContext(ctx, e.SourceID, string(e.Direction), ts); err != nil {
			return 0, fmt.Errorf("failed to update lifetime summary: %w", err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit events: %w", err)
	}
	return inserted, nil
}

// LifetimeTotals returns the per-source totals across every run.
func (db *DB) LifetimeTotals(ctx context.Context) (map[string]aggregate.Totals, error) {
	rows, err := db.QueryContext(ctx, `SELECT source_id, direction, total FROM lifetime_event_summary`)
	if err != nil {
		return nil, fmt.Errorf("failed to query lifetime totals: %w", err)
	}
	defer rows.Close()

	out := make(map[string]aggregate.Totals)
	for rows.Next() {
		var (
			sourceID, direction string
			total               uint64
		)
		if err := rows.Scan(&sourceID, &direction, &total); err != nil {
			return nil, err
		}
		t := out[sourceID]
		switch crossing.Direction(direction) {
		case crossing.Forward:
			t.Forward = total
		case crossing.Backward:
			t.Backward = total
		}
		out[sourceID] = t
	}
	return out, rows.Err()
}
