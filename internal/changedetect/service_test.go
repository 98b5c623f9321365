package changedetect

import (
	"context"
	"testing"
	"time"

	"casewatch/internal/collector"
	"casewatch/internal/domain/caserecord"
	"casewatch/internal/store"

	"github.com/google/uuid"
)

type fakeCaseStore struct {
	cases map[string]caserecord.Case

	inserts int
	updates int
	touches int
}

func newFakeCaseStore() *fakeCaseStore {
	return &fakeCaseStore{cases: map[string]caserecord.Case{}}
}

func (f *fakeCaseStore) GetByDedupKey(_ context.Context, key string) (*caserecord.Case, error) {
	c, ok := f.cases[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := c
	return &cp, nil
}

func (f *fakeCaseStore) Insert(_ context.Context, c caserecord.Case) error {
	f.inserts++
	f.cases[c.DedupKey] = c
	return nil
}

func (f *fakeCaseStore) Update(_ context.Context, c caserecord.Case) error {
	f.updates++
	f.cases[c.DedupKey] = c
	return nil
}

func (f *fakeCaseStore) TouchVerified(_ context.Context, id uuid.UUID, at time.Time) error {
	f.touches++
	for key, c := range f.cases {
		if c.ID == id {
			c.LastVerified = at
			f.cases[key] = c
		}
	}
	return nil
}

func stableDef() collector.SourceDefinition {
	return collector.SourceDefinition{ID: "namus", StableID: true, Enabled: true}
}

func personRecord(externalID string, p collector.PersonPayload) collector.RawRecord {
	return collector.RawRecord{
		ExternalID:  externalID,
		SourceID:    "namus",
		Kind:        collector.KindMissingPerson,
		Person:      p,
		CollectedAt: time.Now().UTC(),
	}
}

func TestProcessBatch_NewChildCaseIsHighPriority(t *testing.T) {
	fs := newFakeCaseStore()
	svc := NewService(fs, nil)

	age := 12
	rec := personRecord("MP100", collector.PersonPayload{
		FirstName: "Maria", LastName: "Lopez", Age: &age, City: "Tampa", State: "FL",
	})

	events, err := svc.ProcessBatch(context.Background(), stableDef(), []collector.RawRecord{rec})
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Type != caserecord.EventNewCase {
		t.Fatalf("expected new_case, got %s", events[0].Type)
	}
	if events[0].Priority != caserecord.PriorityHigh {
		t.Fatalf("expected high priority for a child, got %s", events[0].Priority)
	}
	if fs.inserts != 1 {
		t.Fatalf("expected 1 insert, got %d", fs.inserts)
	}
	if got := events[0].AffectedLocations; len(got) != 2 || got[0] != "fl" || got[1] != "tampa" {
		t.Fatalf("unexpected affected locations: %v", got)
	}
}

func TestProcessBatch_IdenticalRecordEmitsNothing(t *testing.T) {
	fs := newFakeCaseStore()
	svc := NewService(fs, nil)

	rec := personRecord("MP200", collector.PersonPayload{
		FirstName: "James", LastName: "Carter", City: "Macon", State: "GA",
	})

	if _, err := svc.ProcessBatch(context.Background(), stableDef(), []collector.RawRecord{rec}); err != nil {
		t.Fatalf("first batch: %v", err)
	}
	events, err := svc.ProcessBatch(context.Background(), stableDef(), []collector.RawRecord{rec})
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events for identical record, got %d", len(events))
	}
	if fs.touches != 1 {
		t.Fatalf("expected verification touch, got %d", fs.touches)
	}
	if fs.updates != 0 {
		t.Fatalf("expected no update, got %d", fs.updates)
	}

	stats := svc.GetProcessingStats()
	if stats.Unchanged != 1 || stats.NewCases != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestProcessBatch_MergeNeverClearsKnownFields(t *testing.T) {
	fs := newFakeCaseStore()
	svc := NewService(fs, nil)

	first := personRecord("MP300", collector.PersonPayload{
		FirstName: "Dana", LastName: "Reed", City: "Reno", State: "NV",
		Description: "Last seen near the river trail",
	})
	if _, err := svc.ProcessBatch(context.Background(), stableDef(), []collector.RawRecord{first}); err != nil {
		t.Fatalf("first batch: %v", err)
	}

	// Same person, description absent, status newly reported.
	second := personRecord("MP300", collector.PersonPayload{
		FirstName: "Dana", LastName: "Reed", City: "Reno", State: "NV",
		Status: "active",
	})
	events, err := svc.ProcessBatch(context.Background(), stableDef(), []collector.RawRecord{second})
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if len(events) != 1 || events[0].Type != caserecord.EventStatusUpdate {
		t.Fatalf("expected one status_update, got %+v", events)
	}

	stored := fs.cases["src:namus:MP300"]
	if stored.Description == nil || *stored.Description != "Last seen near the river trail" {
		t.Fatalf("description was cleared by merge: %+v", stored.Description)
	}
	if stored.Status == nil || *stored.Status != "active" {
		t.Fatalf("status not merged: %+v", stored.Status)
	}
}

func TestProcessBatch_TerminalStatusIsResolution(t *testing.T) {
	fs := newFakeCaseStore()
	svc := NewService(fs, nil)

	first := personRecord("MP400", collector.PersonPayload{
		FirstName: "Omar", LastName: "Haddad", State: "CA", Status: "active",
	})
	if _, err := svc.ProcessBatch(context.Background(), stableDef(), []collector.RawRecord{first}); err != nil {
		t.Fatalf("first batch: %v", err)
	}

	second := first
	second.Person.Status = "found"
	events, err := svc.ProcessBatch(context.Background(), stableDef(), []collector.RawRecord{second})
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Type != caserecord.EventResolution {
		t.Fatalf("expected resolution, got %s", events[0].Type)
	}
}

func TestProcessBatch_AmberAlwaysEmitsCritical(t *testing.T) {
	fs := newFakeCaseStore()
	svc := NewService(fs, nil)

	rec := collector.RawRecord{
		ExternalID: "AMBER-1",
		SourceID:   "amber",
		Kind:       collector.KindAmberAlert,
		Person: collector.PersonPayload{
			FirstName: "Lily", LastName: "Nguyen", State: "TX", Urgent: true,
			Category: "amber_alert",
		},
	}
	def := collector.SourceDefinition{ID: "amber", StableID: true, Enabled: true}

	for i := 0; i < 2; i++ {
		events, err := svc.ProcessBatch(context.Background(), def, []collector.RawRecord{rec})
		if err != nil {
			t.Fatalf("batch %d: %v", i, err)
		}
		if len(events) != 1 {
			t.Fatalf("batch %d: active alert must always emit, got %d events", i, len(events))
		}
		if events[0].Priority != caserecord.PriorityCritical {
			t.Fatalf("batch %d: expected critical, got %s", i, events[0].Priority)
		}
	}
}

func TestProcessBatch_InvalidRecordRetainedNotDropped(t *testing.T) {
	fs := newFakeCaseStore()
	svc := NewService(fs, nil)

	bad := personRecord("MP500", collector.PersonPayload{State: "WA"}) // no name
	good := personRecord("MP501", collector.PersonPayload{FirstName: "Ana", LastName: "Silva", State: "WA"})

	events, err := svc.ProcessBatch(context.Background(), stableDef(), []collector.RawRecord{bad, good})
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("valid record should still process, got %d events", len(events))
	}

	failed := svc.FailedRecords()
	if len(failed) != 1 || failed[0].ExternalID != "MP500" {
		t.Fatalf("expected MP500 retained as failed, got %+v", failed)
	}
	if stats := svc.GetProcessingStats(); stats.Failed != 1 || stats.Processed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
