package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

const runColumns = `id, profile, started_at, finished_at, added, patched, removed, resynced,
	skipped, failed, issues, records, changed, catalog_url, error`

// SyncRunRepository stores the history of sync cycles
type SyncRunRepository struct {
	db *DB
}

var _ RunRepository = (*SyncRunRepository)(nil)

func NewRunRepository(db *DB) *SyncRunRepository {
	return &SyncRunRepository{db: db}
}

func (r *SyncRunRepository) InsertRun(ctx context.Context, run Run) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO sync_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), run.ID, run.Profile, run.StartedAt.UTC(), run.FinishedAt.UTC(),
		run.Added, run.Patched, run.Removed, run.Resynced,
		run.Skipped, run.Failed, run.Issues, run.Records,
		run.Changed, run.CatalogURL, run.Error)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	return run.ID, nil
}

// GetLatestRun returns nil when the profile has never run
func (r *SyncRunRepository) GetLatestRun(ctx context.Context, profile string) (*Run, error) {
	runs, err := r.ListRuns(ctx, profile, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

func (r *SyncRunRepository) ListRuns(ctx context.Context, profile string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.QueryContext(ctx, r.db.Rebind(`
		SELECT `+runColumns+`
		FROM sync_runs
		WHERE profile = ?
		ORDER BY started_at DESC
		LIMIT ?
	`), profile, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}

	return runs, nil
}

func (r *SyncRunRepository) GetRunCount(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_runs`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return count, nil
}

func scanRun(rows *sql.Rows) (Run, error) {
	var run Run
	err := rows.Scan(
		&run.ID, &run.Profile, &run.StartedAt, &run.FinishedAt,
		&run.Added, &run.Patched, &run.Removed, &run.Resynced,
		&run.Skipped, &run.Failed, &run.Issues, &run.Records,
		&run.Changed, &run.CatalogURL, &run.Error,
	)
	return run, err
}
