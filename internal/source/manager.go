package source

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"casewatch/internal/collector"
	"casewatch/internal/domain/caserecord"

	"github.com/google/uuid"
)

// SourceStatus tracks one source's health. Statuses are never deleted, only
// marked unhealthy; errors reset to zero on the first success.
type SourceStatus struct {
	SourceID           string     `json:"source_id"`
	IsHealthy          bool       `json:"is_healthy"`
	LastSuccessfulSync *time.Time `json:"last_successful_sync,omitempty"`
	LastAttempt        *time.Time `json:"last_attempt,omitempty"`
	ConsecutiveErrors  int        `json:"consecutive_errors"`
	LastError          string     `json:"last_error,omitempty"`
}

type CollectionResult struct {
	SourceID    string `json:"source_id"`
	Success     bool   `json:"success"`
	RecordCount int    `json:"record_count"`
	EventCount  int    `json:"event_count"`
	Error       string `json:"error,omitempty"`
}

// BatchProcessor consumes a completed collection batch and returns the
// change events it produced.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, def collector.SourceDefinition, batch []collector.RawRecord) ([]caserecord.ChangeEvent, error)
}

// EventPublisher hands change events to the realtime layer. Publishing is
// fire-and-forget: a slow broadcast never backs up into collection.
type EventPublisher interface {
	Publish(events []caserecord.ChangeEvent)
}

// RunAuditor records collection runs for freshness/statistics queries. Audit
// failures are logged, never fatal to the run.
type RunAuditor interface {
	StartRun(ctx context.Context, sourceID string) (uuid.UUID, error)
	FinishRun(ctx context.Context, runID uuid.UUID, status string, recordCount int, runErr string) error
}

type instruments interface {
	RunFinished(sourceID, outcome string, records int)
	SetActiveSources(n int)
	EventsEmitted(events []caserecord.ChangeEvent)
}

// Manager owns the collectors and runs collection across sources in
// parallel, with per-source failure isolation and health accounting.
type Manager struct {
	processor BatchProcessor
	publisher EventPublisher
	auditor   RunAuditor
	inst      instruments
	logger    *log.Logger

	unhealthyThreshold int

	mu         sync.RWMutex
	defs       map[string]collector.SourceDefinition
	collectors map[string]collector.Collector
	statuses   map[string]*SourceStatus
}

func NewManager(processor BatchProcessor, publisher EventPublisher, auditor RunAuditor, inst instruments, logger *log.Logger, unhealthyThreshold int) *Manager {
	if unhealthyThreshold <= 0 {
		unhealthyThreshold = 5
	}
	return &Manager{
		processor:          processor,
		publisher:          publisher,
		auditor:            auditor,
		inst:               inst,
		logger:             logger,
		unhealthyThreshold: unhealthyThreshold,
		defs:               map[string]collector.SourceDefinition{},
		collectors:         map[string]collector.Collector{},
		statuses:           map[string]*SourceStatus{},
	}
}

// Initialize builds one collector per enabled source. Sources start unhealthy
// until their first successful run.
func (m *Manager) Initialize(defs []collector.SourceDefinition) error {
	if m == nil {
		return fmt.Errorf("nil manager")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, def := range defs {
		if !def.Enabled {
			continue
		}
		col, err := collector.New(def)
		if err != nil {
			return fmt.Errorf("source %s: %w", def.ID, err)
		}
		m.defs[def.ID] = def
		m.collectors[def.ID] = col
		m.statuses[def.ID] = &SourceStatus{SourceID: def.ID, IsHealthy: false}
	}
	if m.logger != nil {
		m.logger.Printf("Source manager initialized | sources=%d", len(m.defs))
	}
	return nil
}

// Register installs a prebuilt collector for a source, bypassing the type
// registry.
func (m *Manager) Register(def collector.SourceDefinition, col collector.Collector) {
	if m == nil || col == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defs[def.ID] = def
	m.collectors[def.ID] = col
	m.statuses[def.ID] = &SourceStatus{SourceID: def.ID, IsHealthy: false}
}

// RunParallelCollection fans out independent, timeout-bounded fetches for the
// given sources. A panic, error, or timeout in one source never aborts or
// delays the others; every source gets a result.
func (m *Manager) RunParallelCollection(ctx context.Context, sourceIDs []string) map[string]CollectionResult {
	if m == nil {
		return nil
	}
	if len(sourceIDs) == 0 {
		sourceIDs = m.allSourceIDs()
	}

	results := make(map[string]CollectionResult, len(sourceIDs))
	resCh := make(chan CollectionResult, len(sourceIDs))
	var wg sync.WaitGroup

	for _, id := range sourceIDs {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			resCh <- m.collectOne(ctx, id)
		}()
	}

	wg.Wait()
	close(resCh)
	for r := range resCh {
		results[r.SourceID] = r
	}
	m.refreshActiveGauge()
	return results
}

func (m *Manager) collectOne(ctx context.Context, sourceID string) (result CollectionResult) {
	result = CollectionResult{SourceID: sourceID}

	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Error = fmt.Sprintf("panic: %v", r)
			m.noteFailure(sourceID, result.Error)
			if m.logger != nil {
				m.logger.Printf("Collection panic | source=%s panic=%v", sourceID, r)
			}
		}
	}()

	m.mu.RLock()
	def, okDef := m.defs[sourceID]
	col, okCol := m.collectors[sourceID]
	m.mu.RUnlock()
	if !okDef || !okCol {
		result.Error = "unknown source"
		return result
	}

	var runID uuid.UUID
	if m.auditor != nil {
		id, err := m.auditor.StartRun(ctx, sourceID)
		if err != nil && m.logger != nil {
			m.logger.Printf("Run audit error | source=%s err=%v", sourceID, err)
		}
		runID = id
	}

	fetchCtx, cancel := context.WithTimeout(ctx, def.FetchTimeout())
	defer cancel()

	records, err := col.Fetch(fetchCtx, def)
	if err != nil {
		result.Error = err.Error()
		m.noteFailure(sourceID, result.Error)
		m.finishAudit(runID, "failed", 0, result.Error)
		if m.inst != nil {
			m.inst.RunFinished(sourceID, "failed", 0)
		}
		if m.logger != nil {
			m.logger.Printf("Collection failed | source=%s err=%v", sourceID, err)
		}
		return result
	}

	result.RecordCount = len(records)

	if m.processor != nil {
		events, perr := m.processor.ProcessBatch(ctx, def, records)
		if perr != nil {
			result.Error = perr.Error()
			m.noteFailure(sourceID, result.Error)
			m.finishAudit(runID, "failed", len(records), result.Error)
			if m.inst != nil {
				m.inst.RunFinished(sourceID, "failed", len(records))
			}
			return result
		}
		result.EventCount = len(events)
		if m.publisher != nil && len(events) > 0 {
			m.publisher.Publish(events)
		}
		if m.inst != nil {
			m.inst.EventsEmitted(events)
		}
	}

	result.Success = true
	m.noteSuccess(sourceID)
	m.finishAudit(runID, "success", len(records), "")
	if m.inst != nil {
		m.inst.RunFinished(sourceID, "success", len(records))
	}
	if m.logger != nil {
		m.logger.Printf("Collection finished | source=%s records=%d events=%d", sourceID, result.RecordCount, result.EventCount)
	}
	return result
}

func (m *Manager) finishAudit(runID uuid.UUID, status string, count int, errMsg string) {
	if m.auditor == nil || runID == uuid.Nil {
		return
	}
	// A fresh context: the run row should close even when the fetch context
	// expired.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.auditor.FinishRun(ctx, runID, status, count, errMsg); err != nil && m.logger != nil {
		m.logger.Printf("Run audit error | run=%s err=%v", runID, err)
	}
}

func (m *Manager) noteSuccess(sourceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.statuses[sourceID]
	if !ok {
		return
	}
	now := time.Now().UTC()
	st.IsHealthy = true
	st.LastSuccessfulSync = &now
	st.LastAttempt = &now
	st.ConsecutiveErrors = 0
	st.LastError = ""
}

func (m *Manager) noteFailure(sourceID, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.statuses[sourceID]
	if !ok {
		return
	}
	now := time.Now().UTC()
	st.LastAttempt = &now
	st.ConsecutiveErrors++
	st.LastError = errMsg
	if st.ConsecutiveErrors >= m.unhealthyThreshold {
		st.IsHealthy = false
	}
}

func (m *Manager) allSourceIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.defs))
	for id := range m.defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetActiveSources returns the ids eligible for scheduled collection:
// enabled sources not currently marked unhealthy by the error threshold.
func (m *Manager) GetActiveSources() []string {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.statuses))
	for id, st := range m.statuses {
		if st.ConsecutiveErrors >= m.unhealthyThreshold {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// UnhealthySources returns the ids currently excluded from scheduling.
func (m *Manager) UnhealthySources() []string {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0)
	for id, st := range m.statuses {
		if st.ConsecutiveErrors >= m.unhealthyThreshold {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// GetAllStatus returns a read-only snapshot of every source status.
func (m *Manager) GetAllStatus() []SourceStatus {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SourceStatus, 0, len(m.statuses))
	for _, st := range m.statuses {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out
}

func (m *Manager) Definition(sourceID string) (collector.SourceDefinition, bool) {
	if m == nil {
		return collector.SourceDefinition{}, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.defs[sourceID]
	return def, ok
}

func (m *Manager) Definitions() []collector.SourceDefinition {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]collector.SourceDefinition, 0, len(m.defs))
	for _, def := range m.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// EnabledSourceCount reports how many sources the manager was initialized
// with, healthy or not.
func (m *Manager) EnabledSourceCount() int {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.defs)
}

// ResetErrors clears a source's failure streak after an explicit restart
// probe succeeds.
func (m *Manager) ResetErrors(sourceID string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.statuses[sourceID]; ok {
		st.ConsecutiveErrors = 0
		st.LastError = ""
	}
	m.refreshActiveGaugeLocked()
}

func (m *Manager) refreshActiveGauge() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.refreshActiveGaugeLocked()
}

func (m *Manager) refreshActiveGaugeLocked() {
	if m.inst == nil {
		return
	}
	n := 0
	for _, st := range m.statuses {
		if st.ConsecutiveErrors < m.unhealthyThreshold {
			n++
		}
	}
	m.inst.SetActiveSources(n)
}
