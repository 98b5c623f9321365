package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"casewatch/internal/database"

	"github.com/google/uuid"
)

// RunRepository audits collection runs per source. Health checks read it to
// compute data freshness and collection success rate.
type RunRepository struct {
	db database.DB
}

func NewRunRepository(db database.DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) StartRun(ctx context.Context, sourceID string) (uuid.UUID, error) {
	if r == nil || r.db == nil {
		return uuid.Nil, fmt.Errorf("nil repository")
	}
	id := uuid.New()
	_, err := r.db.Exec(ctx,
		`INSERT INTO collection_runs (id, source_id, started_at, status) VALUES ($1,$2,$3,$4)`,
		id, sourceID, time.Now().UTC(), "running",
	)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (r *RunRepository) FinishRun(ctx context.Context, runID uuid.UUID, status string, recordCount int, runErr string) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("nil repository")
	}
	if runID == uuid.Nil {
		return nil
	}
	_, err := r.db.Exec(ctx,
		`UPDATE collection_runs SET finished_at = $2, status = $3, record_count = $4, error = $5 WHERE id = $1`,
		runID, time.Now().UTC(), strings.TrimSpace(status), recordCount, nullableText(runErr),
	)
	return err
}

// LastSuccessfulRun returns when any source last finished a successful run.
// Zero time means never.
func (r *RunRepository) LastSuccessfulRun(ctx context.Context) (time.Time, error) {
	if r == nil || r.db == nil {
		return time.Time{}, fmt.Errorf("nil repository")
	}
	row := r.db.QueryRow(ctx,
		`SELECT COALESCE(MAX(finished_at), 'epoch'::timestamptz) FROM collection_runs WHERE status = 'success'`)
	var t time.Time
	if err := row.Scan(&t); err != nil {
		return time.Time{}, err
	}
	if t.Unix() <= 0 {
		return time.Time{}, nil
	}
	return t, nil
}

// SuccessRateSince computes the percentage of runs since the cutoff that
// finished successfully. No runs at all reports 100.
func (r *RunRepository) SuccessRateSince(ctx context.Context, since time.Time) (float64, error) {
	if r == nil || r.db == nil {
		return 0, fmt.Errorf("nil repository")
	}
	row := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FILTER (WHERE status = 'success'), COUNT(*)
		 FROM collection_runs WHERE started_at > $1 AND status <> 'running'`, since)
	var ok, total int
	if err := row.Scan(&ok, &total); err != nil {
		return 0, err
	}
	if total == 0 {
		return 100, nil
	}
	return float64(ok) / float64(total) * 100, nil
}

func nullableText(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}
