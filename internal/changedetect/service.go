package changedetect

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"casewatch/internal/collector"
	"casewatch/internal/domain/caserecord"
	"casewatch/internal/store"

	"github.com/google/uuid"
)

// CaseStore is the slice of the canonical store reconciliation needs.
type CaseStore interface {
	GetByDedupKey(ctx context.Context, key string) (*caserecord.Case, error)
	Insert(ctx context.Context, c caserecord.Case) error
	Update(ctx context.Context, c caserecord.Case) error
	TouchVerified(ctx context.Context, id uuid.UUID, at time.Time) error
}

type ProcessingStats struct {
	TotalCollected int `json:"total_collected"`
	Pending        int `json:"pending"`
	Processed      int `json:"processed"`
	Failed         int `json:"failed"`

	NewCases  int `json:"new_cases"`
	Updates   int `json:"updates"`
	Unchanged int `json:"unchanged"`

	ConfidenceHigh   int `json:"confidence_high"`
	ConfidenceMedium int `json:"confidence_medium"`
	ConfidenceLow    int `json:"confidence_low"`
}

// FailedRecord retains a rejected record with its issue list instead of
// dropping it, so operators can see what a source is sending.
type FailedRecord struct {
	SourceID   string    `json:"source_id"`
	ExternalID string    `json:"external_id,omitempty"`
	Status     string    `json:"status"`
	Issues     []Issue   `json:"issues"`
	FailedAt   time.Time `json:"failed_at"`
}

const maxRetainedFailures = 200

// Service reconciles completed collection batches against the canonical
// store and emits change events. Batches for the same source are serialized
// upstream by the scheduler, so reconciliation itself takes no per-key locks;
// the mutex only protects the stats snapshot.
type Service struct {
	store  CaseStore
	logger *log.Logger

	mu     sync.Mutex
	stats  ProcessingStats
	failed []FailedRecord
}

func NewService(cs CaseStore, logger *log.Logger) *Service {
	return &Service{store: cs, logger: logger}
}

// ProcessBatch reconciles one source run's records. Per-record validation or
// store failures are recorded and never abort the batch.
func (s *Service) ProcessBatch(ctx context.Context, def collector.SourceDefinition, batch []collector.RawRecord) ([]caserecord.ChangeEvent, error) {
	if s == nil || s.store == nil {
		return nil, fmt.Errorf("nil service")
	}

	s.mu.Lock()
	s.stats.TotalCollected += len(batch)
	s.stats.Pending += len(batch)
	s.mu.Unlock()

	events := make([]caserecord.ChangeEvent, 0, len(batch))
	for _, rec := range batch {
		if ctx.Err() != nil {
			return events, ctx.Err()
		}

		issues := validate(rec.Person)
		score := confidence(rec.Person, issues)
		if hasError(issues) {
			s.recordFailure(rec, issues)
			continue
		}

		ev, err := s.reconcile(ctx, def, rec)
		if err != nil {
			s.recordFailure(rec, []Issue{{Field: "store", Message: err.Error(), Severity: "error"}})
			if s.logger != nil {
				s.logger.Printf("Change detection store error | source=%s external_id=%s err=%v", rec.SourceID, rec.ExternalID, err)
			}
			continue
		}

		s.mu.Lock()
		s.stats.Pending--
		s.stats.Processed++
		switch confidenceBucket(score) {
		case "high":
			s.stats.ConfidenceHigh++
		case "medium":
			s.stats.ConfidenceMedium++
		default:
			s.stats.ConfidenceLow++
		}
		if ev == nil {
			s.stats.Unchanged++
		} else if ev.Type == caserecord.EventNewCase {
			s.stats.NewCases++
		} else {
			s.stats.Updates++
		}
		s.mu.Unlock()

		if ev != nil {
			events = append(events, *ev)
		}
	}

	if s.logger != nil {
		s.logger.Printf("Batch reconciled | source=%s records=%d events=%d", def.ID, len(batch), len(events))
	}
	return events, nil
}

func (s *Service) reconcile(ctx context.Context, def collector.SourceDefinition, rec collector.RawRecord) (*caserecord.ChangeEvent, error) {
	key := DedupKey(rec, def.StableID)
	now := time.Now().UTC()

	existing, err := s.store.GetByDedupKey(ctx, key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if existing == nil {
		c := caseFromRecord(rec, key, now)
		if err := s.store.Insert(ctx, c); err != nil {
			return nil, err
		}
		ev := s.buildEvent(caserecord.EventNewCase, c, rec, nil)
		return &ev, nil
	}

	merged, changed := merge(*existing, rec.Person, now)

	if len(changed) == 0 {
		if err := s.store.TouchVerified(ctx, existing.ID, now); err != nil {
			return nil, err
		}
		// AMBER-sourced records always alert, even when nothing changed: an
		// active alert re-seen is still an active alert.
		if rec.Kind == collector.KindAmberAlert {
			ev := s.buildEvent(caserecord.EventAmberAlert, *existing, rec, nil)
			return &ev, nil
		}
		return nil, nil
	}

	if err := s.store.Update(ctx, merged); err != nil {
		return nil, err
	}

	evType := classify(rec, *existing, merged, changed)
	ev := s.buildEvent(evType, merged, rec, changed)
	return &ev, nil
}

func classify(rec collector.RawRecord, before, after caserecord.Case, changed []string) caserecord.EventType {
	if rec.Kind == collector.KindAmberAlert {
		return caserecord.EventAmberAlert
	}
	for _, f := range changed {
		if f == "status" {
			if after.Status != nil && caserecord.IsTerminalStatus(*after.Status) {
				return caserecord.EventResolution
			}
			return caserecord.EventStatusUpdate
		}
		if f == "category" {
			return caserecord.EventStatusUpdate
		}
	}
	return caserecord.EventInfoUpdate
}

func (s *Service) buildEvent(t caserecord.EventType, c caserecord.Case, rec collector.RawRecord, changed []string) caserecord.ChangeEvent {
	ev := caserecord.ChangeEvent{
		ID:            uuid.New(),
		Type:          t,
		Priority:      classifyPriority(t, c, rec),
		CaseID:        c.ID,
		SourceID:      rec.SourceID,
		Record:        caserecord.Summarize(c),
		ChangedFields: changed,
		Timestamp:     time.Now().UTC(),
	}
	ev.AffectedLocations = ev.Locations()
	return ev
}

// classifyPriority applies the default mapping, overridable by the record's
// explicit urgency flag.
func classifyPriority(t caserecord.EventType, c caserecord.Case, rec collector.RawRecord) caserecord.Priority {
	if t == caserecord.EventAmberAlert {
		return caserecord.PriorityCritical
	}
	if rec.Person.Urgent || c.Urgent {
		return caserecord.PriorityCritical
	}
	switch t {
	case caserecord.EventNewCase:
		if c.IsChild() {
			return caserecord.PriorityHigh
		}
		return caserecord.PriorityMedium
	case caserecord.EventStatusUpdate, caserecord.EventResolution:
		return caserecord.PriorityMedium
	default:
		return caserecord.PriorityLow
	}
}

func (s *Service) recordFailure(rec collector.RawRecord, issues []Issue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Pending--
	s.stats.Failed++
	if len(s.failed) >= maxRetainedFailures {
		s.failed = s.failed[1:]
	}
	s.failed = append(s.failed, FailedRecord{
		SourceID:   rec.SourceID,
		ExternalID: rec.ExternalID,
		Status:     "failed",
		Issues:     issues,
		FailedAt:   time.Now().UTC(),
	})
}

// GetProcessingStats returns a snapshot safe to read while batches are being
// processed.
func (s *Service) GetProcessingStats() ProcessingStats {
	if s == nil {
		return ProcessingStats{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Service) FailedRecords() []FailedRecord {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]FailedRecord, len(s.failed))
	copy(out, s.failed)
	return out
}

func caseFromRecord(rec collector.RawRecord, key string, now time.Time) caserecord.Case {
	p := rec.Person
	c := caserecord.Case{
		ID:           uuid.New(),
		DedupKey:     key,
		SourceID:     rec.SourceID,
		Urgent:       p.Urgent || rec.Kind == collector.KindAmberAlert,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastVerified: now,
	}
	if ext := strings.TrimSpace(rec.ExternalID); ext != "" {
		c.ExternalID = &ext
	}
	setString(&c.FirstName, p.FirstName)
	setString(&c.LastName, p.LastName)
	if p.Age != nil {
		age := *p.Age
		c.Age = &age
	}
	setString(&c.Sex, p.Sex)
	setString(&c.Ethnicity, p.Ethnicity)
	setString(&c.City, p.City)
	setString(&c.County, p.County)
	setString(&c.State, p.State)
	if p.Latitude != nil && p.Longitude != nil {
		lat, lon := *p.Latitude, *p.Longitude
		c.Latitude = &lat
		c.Longitude = &lon
	}
	setString(&c.Status, p.Status)
	setString(&c.Category, p.Category)
	setString(&c.Description, p.Description)
	if p.DateMissing != nil {
		d := p.DateMissing.UTC()
		c.DateMissing = &d
	}
	setString(&c.CaseNumber, p.CaseNumber)
	return c
}

// merge folds a new payload into an existing case. Fields absent or empty in
// the payload never clear a previously-known value.
func merge(existing caserecord.Case, p collector.PersonPayload, now time.Time) (caserecord.Case, []string) {
	merged := existing
	var changed []string

	mergeString(&merged.FirstName, p.FirstName, "first_name", &changed)
	mergeString(&merged.LastName, p.LastName, "last_name", &changed)
	if p.Age != nil && (merged.Age == nil || *merged.Age != *p.Age) {
		age := *p.Age
		merged.Age = &age
		changed = append(changed, "age")
	}
	mergeString(&merged.Sex, p.Sex, "sex", &changed)
	mergeString(&merged.Ethnicity, p.Ethnicity, "ethnicity", &changed)
	mergeString(&merged.City, p.City, "city", &changed)
	mergeString(&merged.County, p.County, "county", &changed)
	mergeString(&merged.State, p.State, "state", &changed)
	if p.Latitude != nil && p.Longitude != nil {
		if merged.Latitude == nil || merged.Longitude == nil ||
			*merged.Latitude != *p.Latitude || *merged.Longitude != *p.Longitude {
			lat, lon := *p.Latitude, *p.Longitude
			merged.Latitude = &lat
			merged.Longitude = &lon
			changed = append(changed, "coordinates")
		}
	}
	mergeString(&merged.Status, p.Status, "status", &changed)
	mergeString(&merged.Category, p.Category, "category", &changed)
	mergeString(&merged.Description, p.Description, "description", &changed)
	if p.DateMissing != nil && (merged.DateMissing == nil || !merged.DateMissing.Equal(*p.DateMissing)) {
		d := p.DateMissing.UTC()
		merged.DateMissing = &d
		changed = append(changed, "date_missing")
	}
	mergeString(&merged.CaseNumber, p.CaseNumber, "case_number", &changed)
	if p.Urgent && !merged.Urgent {
		merged.Urgent = true
		changed = append(changed, "urgent")
	}

	if len(changed) > 0 {
		merged.UpdatedAt = now
		merged.LastVerified = now
	}
	return merged, changed
}

func mergeString(dst **string, val, field string, changed *[]string) {
	val = strings.TrimSpace(val)
	if val == "" {
		return
	}
	if *dst != nil && **dst == val {
		return
	}
	v := val
	*dst = &v
	*changed = append(*changed, field)
}

func setString(dst **string, val string) {
	val = strings.TrimSpace(val)
	if val == "" {
		return
	}
	v := val
	*dst = &v
}
