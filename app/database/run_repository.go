package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type runRepository struct {
	db *DB
}

func NewRunRepository(db *DB) RunRepository {
	return &runRepository{db: db}
}

func (r *runRepository) CreateRun() (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		Status:    RunRunning,
		StartedAt: time.Now().UTC(),
	}

	_, err := r.db.Exec(
		"INSERT INTO scrape_runs (id, status, started_at) VALUES (?, ?, ?)",
		run.ID, run.Status, run.StartedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to create run record: %w", err)
	}

	return run, nil
}

func (r *runRepository) UpdateRunProgress(id string, pagesScraped, found, new, updated int) error {
	_, err := r.db.Exec(`
		UPDATE scrape_runs SET
			pages_scraped = ?,
			listings_found = ?,
			listings_new = ?,
			listings_updated = ?
		WHERE id = ?
	`, pagesScraped, found, new, updated, id)
	if err != nil {
		return fmt.Errorf("failed to update run progress: %w", err)
	}

	return nil
}

func (r *runRepository) CompleteRun(id string, status string, errorMessage string) error {
	var errMsg interface{}
	if errorMessage != "" {
		errMsg = errorMessage
	}

	_, err := r.db.Exec(`
		UPDATE scrape_runs SET
			status = ?,
			completed_at = ?,
			error_message = ?
		WHERE id = ?
	`, status, time.Now().UTC().Unix(), errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	return nil
}

func (r *runRepository) SetRunDiagnostics(id string, inactive int, coverage float64, failedPages []int) error {
	var pages interface{}
	if len(failedPages) > 0 {
		encoded, err := json.Marshal(failedPages)
		if err != nil {
			return fmt.Errorf("failed to encode failed pages: %w", err)
		}
		pages = string(encoded)
	}

	_, err := r.db.Exec(`
		UPDATE scrape_runs SET
			listings_inactive = ?,
			coverage = ?,
			failed_pages = ?
		WHERE id = ?
	`, inactive, coverage, pages, id)
	if err != nil {
		return fmt.Errorf("failed to set run diagnostics: %w", err)
	}

	return nil
}

func (r *runRepository) ListRecentRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.Query(`
		SELECT id, status, started_at, completed_at,
		       pages_scraped, listings_found, listings_new, listings_updated,
		       listings_inactive, coverage, COALESCE(failed_pages, ''),
		       COALESCE(error_message, '')
		FROM scrape_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var startedAt int64
		var completedAt sql.NullInt64
		var coverage sql.NullFloat64

		err := rows.Scan(
			&run.ID, &run.Status, &startedAt, &completedAt,
			&run.PagesScraped, &run.ListingsFound, &run.ListingsNew, &run.ListingsUpdated,
			&run.ListingsInactive, &coverage, &run.FailedPages, &run.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}

		run.StartedAt = time.Unix(startedAt, 0).UTC()
		if completedAt.Valid {
			t := time.Unix(completedAt.Int64, 0).UTC()
			run.CompletedAt = &t
		}
		if coverage.Valid {
			run.Coverage = &coverage.Float64
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run rows: %w", err)
	}

	return runs, nil
}
