package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/banshee-data/crossing.report/internal/config"
)

// ListSources returns the source catalogue ordered by id. Rows use the same
// shape as the configuration file so both feed the engine the same way.
func (db *DB) ListSources(ctx context.Context) ([]config.SourceConfig, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT source_id, frame_source, line_x1, line_y1, line_x2, line_y2, cooldown_ms, enabled
		FROM sources
		ORDER BY source_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	defer rows.Close()

	var out []config.SourceConfig
	for rows.Next() {
		var (
			s          config.SourceConfig
			cooldownMS sql.NullInt64
			enabled    bool
		)
		if err := rows.Scan(&s.ID, &s.FrameSource, &s.Line[0], &s.Line[1], &s.Line[2], &s.Line[3], &cooldownMS, &enabled); err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		if cooldownMS.Valid {
			cd := (time.Duration(cooldownMS.Int64) * time.Millisecond).String()
			s.Cooldown = &cd
		}
		s.Enabled = &enabled
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpsertSource inserts or replaces one catalogue entry.
func (db *DB) UpsertSource(ctx context.Context, s config.SourceConfig) error {
	if s.ID == "" {
		return fmt.Errorf("source id is required")
	}
	var cooldownMS sql.NullInt64
	if cd := s.GetCooldown(); cd > 0 {
		cooldownMS = sql.NullInt64{Int64: cd.Milliseconds(), Valid: true}
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO sources (source_id, frame_source, line_x1, line_y1, line_x2, line_y2, cooldown_ms, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			frame_source = excluded.frame_source,
			line_x1 = excluded.line_x1,
			line_y1 = excluded.line_y1,
			line_x2 = excluded.line_x2,
			line_y2 = excluded.line_y2,
			cooldown_ms = excluded.cooldown_ms,
			enabled = excluded.enabled`,
		s.ID, s.FrameSource, s.Line[0], s.Line[1], s.Line[2], s.Line[3], cooldownMS, s.IsEnabled())
	if err != nil {
		return fmt.Errorf("failed to upsert source %q: %w", s.ID, err)
	}
	return nil
}
