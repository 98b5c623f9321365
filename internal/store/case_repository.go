package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"casewatch/internal/database"
	"casewatch/internal/domain/caserecord"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("case not found")

// CaseRepository is the client for the canonical record store: keyed get/put/
// update plus a recency index, which is all reconciliation needs.
type CaseRepository struct {
	db database.DB
}

func NewCaseRepository(db database.DB) *CaseRepository {
	return &CaseRepository{db: db}
}

const caseColumns = `id, dedup_key, source_id, external_id, first_name, last_name, age, sex,
	ethnicity, city, county, state, latitude, longitude, status, category,
	description, date_missing, case_number, urgent, created_at, updated_at, last_verified`

func (r *CaseRepository) GetByDedupKey(ctx context.Context, key string) (*caserecord.Case, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("nil repository")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("empty dedup key")
	}

	row := r.db.QueryRow(ctx,
		`SELECT `+caseColumns+` FROM cases WHERE dedup_key = $1 LIMIT 1`, key)
	c, err := scanCase(row)
	if err != nil {
		if isNoRows(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

func (r *CaseRepository) Insert(ctx context.Context, c caserecord.Case) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("nil repository")
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO cases (`+caseColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`,
		c.ID, c.DedupKey, c.SourceID, c.ExternalID, c.FirstName, c.LastName, c.Age, c.Sex,
		c.Ethnicity, c.City, c.County, c.State, c.Latitude, c.Longitude, c.Status, c.Category,
		c.Description, c.DateMissing, c.CaseNumber, c.Urgent, c.CreatedAt, c.UpdatedAt, c.LastVerified,
	)
	return err
}

func (r *CaseRepository) Update(ctx context.Context, c caserecord.Case) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("nil repository")
	}
	n, err := r.db.Exec(ctx,
		`UPDATE cases SET
			external_id = $2, first_name = $3, last_name = $4, age = $5, sex = $6,
			ethnicity = $7, city = $8, county = $9, state = $10, latitude = $11,
			longitude = $12, status = $13, category = $14, description = $15,
			date_missing = $16, case_number = $17, urgent = $18, updated_at = $19,
			last_verified = $20
		 WHERE id = $1`,
		c.ID, c.ExternalID, c.FirstName, c.LastName, c.Age, c.Sex,
		c.Ethnicity, c.City, c.County, c.State, c.Latitude,
		c.Longitude, c.Status, c.Category, c.Description,
		c.DateMissing, c.CaseNumber, c.Urgent, c.UpdatedAt, c.LastVerified,
	)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchVerified refreshes last_verified without touching updated_at, for
// records re-seen with no diff.
func (r *CaseRepository) TouchVerified(ctx context.Context, id uuid.UUID, at time.Time) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("nil repository")
	}
	_, err := r.db.Exec(ctx,
		`UPDATE cases SET last_verified = $2 WHERE id = $1`, id, at)
	return err
}

// CountUpdatedSince is the recency index: how many cases changed after the
// given instant.
func (r *CaseRepository) CountUpdatedSince(ctx context.Context, since time.Time) (int, error) {
	if r == nil || r.db == nil {
		return 0, fmt.Errorf("nil repository")
	}
	row := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM cases WHERE updated_at > $1`, since)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// MissingCoordinates lists cases that have a location but no coordinates
// yet, oldest first, for the geocode backfill job.
func (r *CaseRepository) MissingCoordinates(ctx context.Context, limit int) ([]caserecord.Case, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("nil repository")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+caseColumns+` FROM cases
		 WHERE latitude IS NULL AND (city IS NOT NULL OR county IS NOT NULL OR state IS NOT NULL)
		 ORDER BY updated_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]caserecord.Case, 0, limit)
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *CaseRepository) SetCoordinates(ctx context.Context, id uuid.UUID, lat, lon float64) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("nil repository")
	}
	_, err := r.db.Exec(ctx,
		`UPDATE cases SET latitude = $2, longitude = $3 WHERE id = $1`, id, lat, lon)
	return err
}

func (r *CaseRepository) Ping(ctx context.Context) error {
	if r == nil || r.db == nil {
		return fmt.Errorf("nil repository")
	}
	return r.db.Ping(ctx)
}

func scanCase(row database.Row) (*caserecord.Case, error) {
	var c caserecord.Case
	err := row.Scan(
		&c.ID, &c.DedupKey, &c.SourceID, &c.ExternalID, &c.FirstName, &c.LastName, &c.Age, &c.Sex,
		&c.Ethnicity, &c.City, &c.County, &c.State, &c.Latitude, &c.Longitude, &c.Status, &c.Category,
		&c.Description, &c.DateMissing, &c.CaseNumber, &c.Urgent, &c.CreatedAt, &c.UpdatedAt, &c.LastVerified,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func isNoRows(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no rows")
}
