package geo

import (
	"context"
	"fmt"
	"log"
	"time"

	"casewatch/internal/domain/caserecord"

	"github.com/google/uuid"
)

type backfillStore interface {
	MissingCoordinates(ctx context.Context, limit int) ([]caserecord.Case, error)
	SetCoordinates(ctx context.Context, id uuid.UUID, lat, lon float64) error
}

// BackfillService resolves coordinates for cases that arrived without them.
// Runs are bounded and polite: one geocode per second, and a failed lookup
// skips the case until the next run.
type BackfillService struct {
	store    backfillStore
	geocoder Geocoder
	logger   *log.Logger
	batch    int
}

func NewBackfillService(store backfillStore, geocoder Geocoder, logger *log.Logger) *BackfillService {
	return &BackfillService{store: store, geocoder: geocoder, logger: logger, batch: 100}
}

func (s *BackfillService) Backfill(ctx context.Context) error {
	if s == nil || s.store == nil || s.geocoder == nil {
		return fmt.Errorf("nil backfill service")
	}

	cases, err := s.store.MissingCoordinates(ctx, s.batch)
	if err != nil {
		return err
	}

	resolved := 0
	for _, c := range cases {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		pt, err := s.geocoder.Geocode(ctx, deref(c.City), deref(c.County), deref(c.State))
		if err != nil {
			continue
		}
		if err := s.store.SetCoordinates(ctx, c.ID, pt.Latitude, pt.Longitude); err != nil {
			return err
		}
		resolved++

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}

	if s.logger != nil {
		s.logger.Printf("Geocode backfill finished | candidates=%d resolved=%d", len(cases), resolved)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
