package database

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateGINIndexes creates JSONB GIN indexes for PostgreSQL. These
// enable efficient containment queries on audit payloads and golden
// path content.
func CreateGINIndexes(ctx context.Context, db *sql.DB) error {
	// GIN index for audit payload containment queries
	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_audit_events_payload_gin
		ON audit_events USING gin(payload)`)
	if err != nil {
		return fmt.Errorf("failed to create audit payload GIN index: %w", err)
	}

	// GIN index for golden path document queries
	_, err = db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_golden_paths_path_gin
		ON golden_paths USING gin(path)`)
	if err != nil {
		return fmt.Errorf("failed to create golden path GIN index: %w", err)
	}

	return nil
}
