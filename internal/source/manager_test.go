package source

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"casewatch/internal/collector"
	"casewatch/internal/domain/caserecord"
)

type fakeCollector struct {
	id      string
	records []collector.RawRecord
	err     error
	panics  bool

	mu    sync.Mutex
	calls int
}

func (f *fakeCollector) SourceID() string { return f.id }

func (f *fakeCollector) Fetch(_ context.Context, _ collector.SourceDefinition) ([]collector.RawRecord, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.panics {
		panic("collector blew up")
	}
	return f.records, f.err
}

type fakeProcessor struct {
	events []caserecord.ChangeEvent
	err    error
}

func (f fakeProcessor) ProcessBatch(_ context.Context, _ collector.SourceDefinition, batch []collector.RawRecord) ([]caserecord.ChangeEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.events[:min(len(f.events), len(batch))], nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

type fakePublisher struct {
	mu     sync.Mutex
	events []caserecord.ChangeEvent
}

func (f *fakePublisher) Publish(events []caserecord.ChangeEvent) {
	f.mu.Lock()
	f.events = append(f.events, events...)
	f.mu.Unlock()
}

func def(id string) collector.SourceDefinition {
	return collector.SourceDefinition{ID: id, Type: "namus", Enabled: true, IntervalMinutes: 60}
}

func record(sourceID string) collector.RawRecord {
	return collector.RawRecord{
		SourceID: sourceID,
		Kind:     collector.KindMissingPerson,
		Person:   collector.PersonPayload{FirstName: "Test", LastName: "Person", State: "FL"},
	}
}

func TestRunParallelCollection_FailureIsolation(t *testing.T) {
	events := []caserecord.ChangeEvent{{Type: caserecord.EventNewCase}}
	pub := &fakePublisher{}
	m := NewManager(fakeProcessor{events: events}, pub, nil, nil, nil, 5)

	m.Register(def("good"), &fakeCollector{id: "good", records: []collector.RawRecord{record("good")}})
	m.Register(def("bad"), &fakeCollector{id: "bad", err: fmt.Errorf("connection refused")})
	m.Register(def("panicky"), &fakeCollector{id: "panicky", panics: true})

	results := m.RunParallelCollection(context.Background(), nil)
	if len(results) != 3 {
		t.Fatalf("every source must report a result, got %d", len(results))
	}
	if !results["good"].Success || results["good"].RecordCount != 1 || results["good"].EventCount != 1 {
		t.Fatalf("good source failed: %+v", results["good"])
	}
	if results["bad"].Success || results["bad"].Error == "" {
		t.Fatalf("bad source should fail with its error: %+v", results["bad"])
	}
	if results["panicky"].Success {
		t.Fatalf("panicking source must be contained: %+v", results["panicky"])
	}
	if len(pub.events) != 1 {
		t.Fatalf("only the good source's events are published, got %d", len(pub.events))
	}
}

func TestManager_UnhealthyThresholdExcludesSource(t *testing.T) {
	failing := &fakeCollector{id: "flaky", err: fmt.Errorf("HTTP 503")}
	m := NewManager(fakeProcessor{}, nil, nil, nil, nil, 3)
	m.Register(def("flaky"), failing)
	m.Register(def("steady"), &fakeCollector{id: "steady", records: []collector.RawRecord{record("steady")}})

	for i := 0; i < 2; i++ {
		m.RunParallelCollection(context.Background(), []string{"flaky"})
	}
	if active := m.GetActiveSources(); len(active) != 2 {
		t.Fatalf("below threshold, flaky stays schedulable; active=%v", active)
	}
	if len(m.UnhealthySources()) != 0 {
		t.Fatalf("threshold not yet reached, unhealthy=%v", m.UnhealthySources())
	}

	m.RunParallelCollection(context.Background(), []string{"flaky"})
	unhealthy := m.UnhealthySources()
	if len(unhealthy) != 1 || unhealthy[0] != "flaky" {
		t.Fatalf("third consecutive failure must mark unhealthy, got %v", unhealthy)
	}
	if active := m.GetActiveSources(); len(active) != 1 || active[0] != "steady" {
		t.Fatalf("unhealthy source must leave the schedule; active=%v", active)
	}

	// Recovery clears the error streak.
	failing.err = nil
	failing.records = []collector.RawRecord{record("flaky")}
	m.RunParallelCollection(context.Background(), []string{"flaky"})
	if len(m.UnhealthySources()) != 0 {
		t.Fatalf("success must clear the streak, unhealthy=%v", m.UnhealthySources())
	}
	if len(m.GetActiveSources()) != 2 {
		t.Fatalf("both sources should be active after recovery")
	}
}

func TestManager_ProcessorErrorCountsAsFailure(t *testing.T) {
	m := NewManager(fakeProcessor{err: fmt.Errorf("store down")}, nil, nil, nil, nil, 5)
	m.Register(def("src"), &fakeCollector{id: "src", records: []collector.RawRecord{record("src")}})

	results := m.RunParallelCollection(context.Background(), []string{"src"})
	if results["src"].Success {
		t.Fatalf("processing failure must fail the run")
	}

	status := m.GetAllStatus()
	if len(status) != 1 || status[0].ConsecutiveErrors != 1 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestManager_GetAllStatusSorted(t *testing.T) {
	m := NewManager(fakeProcessor{}, nil, nil, nil, nil, 5)
	m.Register(def("zeta"), &fakeCollector{id: "zeta"})
	m.Register(def("alpha"), &fakeCollector{id: "alpha"})

	status := m.GetAllStatus()
	if len(status) != 2 || status[0].SourceID != "alpha" || status[1].SourceID != "zeta" {
		t.Fatalf("statuses must sort by source id: %+v", status)
	}
}
