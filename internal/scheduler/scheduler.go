package scheduler

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
	"casewatch/internal/source"

	"github.com/google/uuid"
)

type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateDegraded State = "degraded"
	StateStopping State = "stopping"
)

type TriggerType string

const (
	TriggerFull        TriggerType = "full"
	TriggerIncremental TriggerType = "incremental"
	TriggerGeocoding   TriggerType = "geocoding"
	TriggerUrgent      TriggerType = "urgent"
)

type TriggerRequest struct {
	Type     TriggerType         `json:"type"`
	Priority caserecord.Priority `json:"priority"`
	Reason   string              `json:"reason,omitempty"`
}

type TriggerReceipt struct {
	ID     uuid.UUID `json:"id"`
	Status string    `json:"status"`
}

type Statistics struct {
	IsRunning         bool       `json:"is_running"`
	State             State      `json:"state"`
	LastSuccessfulRun *time.Time `json:"last_successful_run,omitempty"`
	SuccessfulRuns    int64      `json:"successful_runs"`
	FailedRuns        int64      `json:"failed_runs"`
	QueuedTriggers    int        `json:"queued_triggers"`
}

// GeocodeRunner is the hook for geocoding-type triggers; the backfill job
// lives in the geo package.
type GeocodeRunner interface {
	Backfill(ctx context.Context) error
}

// ErrDuplicateTrigger rejects a manual trigger of a type that was already
// accepted within the lock window.
var ErrDuplicateTrigger = errors.New("duplicate trigger")

const triggerLockTTL = 30 * time.Second

// TriggerLock dedupes manual triggers across instances. When the lock
// backend is unreachable triggers are accepted anyway.
type TriggerLock interface {
	SetIfNotExists(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
}

// Service drives per-source periodic collection. Each enabled source gets
// one timer goroutine; a per-source token serializes runs so a manual
// trigger can never overlap a scheduled run of the same source.
type Service struct {
	manager  *source.Manager
	geocoder GeocodeRunner
	lock     TriggerLock
	logger   *log.Logger

	restartCooldown time.Duration

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	tokens  map[string]chan struct{}
	pending []TriggerRequest

	lastSuccessfulRun *time.Time
	successfulRuns    int64
	failedRuns        int64
}

func NewService(manager *source.Manager, geocoder GeocodeRunner, logger *log.Logger, restartCooldown time.Duration) *Service {
	if restartCooldown <= 0 {
		restartCooldown = 15 * time.Minute
	}
	return &Service{
		manager:         manager,
		geocoder:        geocoder,
		logger:          logger,
		restartCooldown: restartCooldown,
		state:           StateStopped,
		tokens:          map[string]chan struct{}{},
	}
}

// SetTriggerLock installs the optional cross-instance trigger dedup lock.
func (s *Service) SetTriggerLock(l TriggerLock) {
	if s == nil {
		return
	}
	s.lock = l
}

// Start arms one timer per enabled source. Idempotent: starting a running
// scheduler is a no-op.
func (s *Service) Start() error {
	if s == nil || s.manager == nil {
		return fmt.Errorf("nil scheduler")
	}
	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return nil
	}
	s.state = StateStarting

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	defs := s.manager.Definitions()
	for _, def := range defs {
		if _, ok := s.tokens[def.ID]; !ok {
			tok := make(chan struct{}, 1)
			tok <- struct{}{}
			s.tokens[def.ID] = tok
		}
		s.wg.Add(1)
		go s.sourceLoop(ctx, def)
	}

	s.wg.Add(1)
	go s.restartLoop(ctx)

	s.state = StateRunning
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Printf("Scheduler started | sources=%d", len(defs))
	}
	return nil
}

// Stop cancels every timer and waits for the loops to exit. In-flight
// fetches finish on their own context; no new run starts after Stop returns.
func (s *Service) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.state == StateStopped || s.state == StateStopping {
		s.mu.Unlock()
		return
	}
	s.state = StateStopping
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	s.mu.Lock()
	s.state = StateStopped
	s.cancel = nil
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Printf("Scheduler stopped")
	}
}

func (s *Service) sourceLoop(ctx context.Context, def collector.SourceDefinition) {
	defer s.wg.Done()

	ticker := time.NewTicker(def.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.isActive(def.ID) {
				continue
			}
			s.drainPending(ctx)
			s.runSource(ctx, def.ID, "scheduled")
		}
	}
}

// restartLoop periodically re-probes unhealthy sources once their cool-down
// has elapsed.
func (s *Service) restartLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.restartCooldown)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RestartUnhealthySources(ctx)
		}
	}
}

// RestartUnhealthySources re-probes sources held out by the error threshold.
// A successful probe restores the source to the schedule; a failed one
// leaves it excluded until the next cool-down.
func (s *Service) RestartUnhealthySources(ctx context.Context) {
	if s == nil || s.manager == nil {
		return
	}
	for _, id := range s.manager.UnhealthySources() {
		if ctx.Err() != nil {
			return
		}
		if s.logger != nil {
			s.logger.Printf("Re-probing unhealthy source | source=%s", id)
		}
		results := s.runSource(ctx, id, "restart-probe")
		if r, ok := results[id]; ok && r.Success {
			s.manager.ResetErrors(id)
		}
	}
}

// runSource executes one collection run for exactly one source, gated by the
// per-source token. Returns nil when the source is already mid-run.
func (s *Service) runSource(ctx context.Context, sourceID, origin string) map[string]source.CollectionResult {
	tok := s.token(sourceID)
	if tok == nil {
		return nil
	}
	select {
	case <-tok:
	default:
		if s.logger != nil {
			s.logger.Printf("Run skipped, source busy | source=%s origin=%s", sourceID, origin)
		}
		return nil
	}
	defer func() { tok <- struct{}{} }()

	results := s.manager.RunParallelCollection(ctx, []string{sourceID})
	s.noteResults(results)
	return results
}

// Trigger handles a manual collection request. Critical and high priority
// run immediately; medium and low queue for the next scheduled slot.
func (s *Service) Trigger(ctx context.Context, req TriggerRequest) (TriggerReceipt, error) {
	if s == nil || s.manager == nil {
		return TriggerReceipt{}, fmt.Errorf("nil scheduler")
	}
	if err := validateTrigger(req); err != nil {
		return TriggerReceipt{}, err
	}

	receipt := TriggerReceipt{ID: uuid.New()}

	if s.lock != nil {
		key := "trigger:lock:" + string(req.Type)
		ok, err := s.lock.SetIfNotExists(ctx, key, receipt.ID.String(), triggerLockTTL)
		if err == nil && !ok {
			return TriggerReceipt{}, ErrDuplicateTrigger
		}
	}

	switch req.Priority {
	case caserecord.PriorityCritical, caserecord.PriorityHigh:
		receipt.Status = "running"
		go s.execute(context.WithoutCancel(ctx), req)
	default:
		s.mu.Lock()
		s.pending = append(s.pending, req)
		s.mu.Unlock()
		receipt.Status = "queued"
	}

	if s.logger != nil {
		s.logger.Printf("Manual trigger | id=%s type=%s priority=%s status=%s reason=%q",
			receipt.ID, req.Type, req.Priority, receipt.Status, req.Reason)
	}
	return receipt, nil
}

func validateTrigger(req TriggerRequest) error {
	switch req.Type {
	case TriggerFull, TriggerIncremental, TriggerGeocoding, TriggerUrgent:
	default:
		return fmt.Errorf("invalid trigger type: %q", req.Type)
	}
	if !req.Priority.Valid() {
		return fmt.Errorf("invalid trigger priority: %q", req.Priority)
	}
	return nil
}

func (s *Service) execute(ctx context.Context, req TriggerRequest) {
	switch req.Type {
	case TriggerGeocoding:
		if s.geocoder == nil {
			return
		}
		if err := s.geocoder.Backfill(ctx); err != nil && s.logger != nil {
			s.logger.Printf("Geocode backfill error | err=%v", err)
		}
	case TriggerFull:
		for _, def := range s.manager.Definitions() {
			s.runSource(ctx, def.ID, "manual-full")
		}
	case TriggerUrgent:
		for _, def := range s.manager.Definitions() {
			if strings.EqualFold(def.Priority, string(caserecord.PriorityCritical)) ||
				strings.EqualFold(def.Priority, string(caserecord.PriorityHigh)) {
				s.runSource(ctx, def.ID, "manual-urgent")
			}
		}
	default:
		for _, id := range s.manager.GetActiveSources() {
			s.runSource(ctx, id, "manual-incremental")
		}
	}
}

// drainPending runs queued medium/low triggers at a source's next slot.
func (s *Service) drainPending(ctx context.Context) {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, req := range pending {
		if ctx.Err() != nil {
			return
		}
		s.execute(ctx, req)
	}
}

func (s *Service) noteResults(results map[string]source.CollectionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range results {
		if r.Success {
			s.successfulRuns++
			now := time.Now().UTC()
			s.lastSuccessfulRun = &now
		} else {
			s.failedRuns++
		}
	}
	s.reviseStateLocked()
}

// Running degrades to Degraded when more than one source is excluded by the
// error threshold, and recovers once they come back.
func (s *Service) reviseStateLocked() {
	if s.state != StateRunning && s.state != StateDegraded {
		return
	}
	if len(s.manager.UnhealthySources()) >= 2 {
		s.state = StateDegraded
		return
	}
	s.state = StateRunning
}

func (s *Service) isActive(sourceID string) bool {
	for _, id := range s.manager.GetActiveSources() {
		if id == sourceID {
			return true
		}
	}
	return false
}

func (s *Service) token(sourceID string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[sourceID]
	if !ok {
		tok = make(chan struct{}, 1)
		tok <- struct{}{}
		s.tokens[sourceID] = tok
	}
	return tok
}

func (s *Service) State() State {
	if s == nil {
		return StateStopped
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Service) GetStatistics() Statistics {
	if s == nil {
		return Statistics{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return Statistics{
		IsRunning:         s.state == StateRunning || s.state == StateDegraded,
		State:             s.state,
		LastSuccessfulRun: s.lastSuccessfulRun,
		SuccessfulRuns:    s.successfulRuns,
		FailedRuns:        s.failedRuns,
		QueuedTriggers:    len(s.pending),
	}
}
