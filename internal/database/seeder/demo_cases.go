package seeder

import (
	"context"
	"fmt"
	"time"

	"casewatch/internal/database"
)

// DemoCasesSeeder inserts a small set of fixture cases so local setups have
// data to exercise change detection and the websocket feed before the first
// real collection run completes.
type DemoCasesSeeder struct{}

func (DemoCasesSeeder) Name() string { return "demo_cases" }

func (DemoCasesSeeder) Run(ctx context.Context, db database.DB) error {
	if err := ensureColumns(ctx, db, "cases", "id", "dedup_key", "source_id", "first_name", "last_name", "status"); err != nil {
		return err
	}

	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(context.Background())
	}()

	now := time.Now().UTC()
	items := []struct {
		DedupKey   string
		SourceID   string
		ExternalID string
		First      string
		Last       string
		Age        int
		City       string
		State      string
		Category   string
	}{
		{"src:namus:DEMO-1001", "namus", "DEMO-1001", "Alicia", "Moreno", 16, "Tampa", "FL", "missing_child"},
		{"src:namus:DEMO-1002", "namus", "DEMO-1002", "Robert", "Keane", 42, "Orlando", "FL", "missing_adult"},
		{"src:fdle:DEMO-2001", "fdle", "DEMO-2001", "Priya", "Natarajan", 29, "Miami", "FL", "missing_adult"},
	}

	for _, it := range items {
		_, err := tx.Exec(
			ctx,
			`INSERT INTO cases (
				id, dedup_key, source_id, external_id,
				first_name, last_name, age, city, state,
				status, category, created_at, updated_at, last_verified
			) VALUES (
				gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8,
				'active', $9, $10, $10, $10
			) ON CONFLICT (dedup_key) DO NOTHING`,
			it.DedupKey, it.SourceID, it.ExternalID,
			it.First, it.Last, it.Age, it.City, it.State,
			it.Category, now,
		)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
