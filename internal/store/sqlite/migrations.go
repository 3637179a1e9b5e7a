package sqlite

import (
	"context"
	"fmt"
)

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS campaigns (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			config_json TEXT NOT NULL DEFAULT '{}',
			total INTEGER NOT NULL DEFAULT 0,
			completed INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			pending INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			completed_at INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS task_outcomes (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			campaign_id TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL,
			status TEXT NOT NULL,
			domain TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			retry_count INTEGER NOT NULL DEFAULT 0,
			detail TEXT NOT NULL DEFAULT '',
			at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_task_outcomes_campaign ON task_outcomes (campaign_id, at_ms);`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value_json TEXT NOT NULL DEFAULT '{}',
			updated_at INTEGER NOT NULL
		);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
