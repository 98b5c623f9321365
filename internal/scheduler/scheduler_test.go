package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"casewatch/internal/collector"
	"casewatch/internal/domain/caserecord"
	"casewatch/internal/source"
)

type gatedCollector struct {
	id      string
	started chan struct{}
	release chan struct{}

	mu    sync.Mutex
	calls int
}

func newGatedCollector(id string) *gatedCollector {
	return &gatedCollector{
		id:      id,
		started: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
}

func (g *gatedCollector) SourceID() string { return g.id }

func (g *gatedCollector) Fetch(ctx context.Context, _ collector.SourceDefinition) ([]collector.RawRecord, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	g.started <- struct{}{}
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	return nil, nil
}

func (g *gatedCollector) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type nopProcessor struct{}

func (nopProcessor) ProcessBatch(context.Context, collector.SourceDefinition, []collector.RawRecord) ([]caserecord.ChangeEvent, error) {
	return nil, nil
}

func testManager(cols ...*gatedCollector) *source.Manager {
	m := source.NewManager(nopProcessor{}, nil, nil, nil, nil, 5)
	for _, col := range cols {
		m.Register(collector.SourceDefinition{
			ID: col.id, Type: "namus", Enabled: true, IntervalMinutes: 60,
		}, col)
	}
	return m
}

func TestTrigger_RejectsUnknownType(t *testing.T) {
	s := NewService(testManager(), nil, nil, 0)
	_, err := s.Trigger(context.Background(), TriggerRequest{Type: "nuke", Priority: caserecord.PriorityHigh})
	if err == nil {
		t.Fatalf("unknown trigger type must be rejected")
	}
	_, err = s.Trigger(context.Background(), TriggerRequest{Type: TriggerFull, Priority: "asap"})
	if err == nil {
		t.Fatalf("unknown priority must be rejected")
	}
}

func TestTrigger_HighPriorityRunsImmediately(t *testing.T) {
	col := newGatedCollector("namus")
	close(col.release)
	s := NewService(testManager(col), nil, nil, 0)

	receipt, err := s.Trigger(context.Background(), TriggerRequest{Type: TriggerFull, Priority: caserecord.PriorityHigh})
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if receipt.Status != "running" {
		t.Fatalf("high priority must run immediately, got %s", receipt.Status)
	}

	select {
	case <-col.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("collection never started")
	}
}

func TestTrigger_MediumPriorityQueues(t *testing.T) {
	col := newGatedCollector("namus")
	s := NewService(testManager(col), nil, nil, 0)

	receipt, err := s.Trigger(context.Background(), TriggerRequest{Type: TriggerIncremental, Priority: caserecord.PriorityMedium})
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if receipt.Status != "queued" {
		t.Fatalf("medium priority must queue, got %s", receipt.Status)
	}
	if stats := s.GetStatistics(); stats.QueuedTriggers != 1 {
		t.Fatalf("expected 1 queued trigger, got %d", stats.QueuedTriggers)
	}
	if col.callCount() != 0 {
		t.Fatalf("queued trigger must not run before the next slot")
	}
}

func TestRunSource_MutualExclusionPerSource(t *testing.T) {
	col := newGatedCollector("namus")
	s := NewService(testManager(col), nil, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	firstDone := make(chan struct{})
	go func() {
		s.runSource(ctx, "namus", "test")
		close(firstDone)
	}()

	select {
	case <-col.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("first run never started")
	}

	// Second run while the first holds the token: skipped, not queued.
	if results := s.runSource(ctx, "namus", "test"); results != nil {
		t.Fatalf("concurrent run of the same source must be skipped")
	}
	if col.callCount() != 1 {
		t.Fatalf("collector must not be invoked concurrently, calls=%d", col.callCount())
	}

	close(col.release)
	select {
	case <-firstDone:
	case <-time.After(2 * time.Second):
		t.Fatalf("first run never finished")
	}

	// Token returned: the source can run again.
	if results := s.runSource(ctx, "namus", "test"); results == nil {
		t.Fatalf("source should be runnable after the previous run finished")
	}
}

func TestStartStop_Deterministic(t *testing.T) {
	col := newGatedCollector("namus")
	close(col.release)
	s := NewService(testManager(col), nil, nil, time.Hour)

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.State() != StateRunning {
		t.Fatalf("expected running, got %s", s.State())
	}
	if err := s.Start(); err != nil {
		t.Fatalf("second Start must be a no-op: %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("Stop did not return deterministically")
	}
	if s.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", s.State())
	}

	// Stop on a stopped scheduler is safe.
	s.Stop()
}

type fakeLock struct {
	allow bool
	err   error
	calls int
}

func (l *fakeLock) SetIfNotExists(context.Context, string, string, time.Duration) (bool, error) {
	l.calls++
	return l.allow, l.err
}

func TestTrigger_DuplicateRejectedByLock(t *testing.T) {
	s := NewService(testManager(), nil, nil, 0)
	lock := &fakeLock{allow: false}
	s.SetTriggerLock(lock)

	_, err := s.Trigger(context.Background(), TriggerRequest{Type: TriggerIncremental, Priority: caserecord.PriorityLow})
	if err == nil || !errors.Is(err, ErrDuplicateTrigger) {
		t.Fatalf("held lock must reject the trigger, got err=%v", err)
	}
	if lock.calls != 1 {
		t.Fatalf("lock consulted %d times, want 1", lock.calls)
	}
	if s.GetStatistics().QueuedTriggers != 0 {
		t.Fatalf("rejected trigger must not queue")
	}
}

func TestTrigger_LockBackendErrorStillAccepts(t *testing.T) {
	s := NewService(testManager(), nil, nil, 0)
	s.SetTriggerLock(&fakeLock{allow: false, err: context.DeadlineExceeded})

	receipt, err := s.Trigger(context.Background(), TriggerRequest{Type: TriggerIncremental, Priority: caserecord.PriorityLow})
	if err != nil {
		t.Fatalf("lock errors must not block triggers: %v", err)
	}
	if receipt.Status != "queued" {
		t.Fatalf("status = %q, want queued", receipt.Status)
	}
}
