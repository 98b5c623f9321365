package health

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

const (
	defaultInterval = time.Minute
	checkTimeout    = 5 * time.Second
	warningDebounce = 30 * time.Minute
)

// Alerter receives state transitions worth telling an operator about.
type Alerter interface {
	Alert(level Status, check string, detail string)
}

// LogAlerter writes alerts to the process log.
type LogAlerter struct {
	Logger *log.Logger
}

func (a LogAlerter) Alert(level Status, check string, detail string) {
	if a.Logger == nil {
		return
	}
	a.Logger.Printf("ALERT | level=%s check=%s detail=%s", level, check, detail)
}

type monitorInstruments interface {
	SetHealthScore(score float64)
}

// Monitor runs every check on a fixed cycle and folds the results into one
// weighted score. The overall status can only be as good as the worst
// individual check allows: any critical check forces critical, any warning
// forces at least warning, regardless of the numeric score.
type Monitor struct {
	checks   []Check
	alerter  Alerter
	inst     monitorInstruments
	logger   *log.Logger
	interval time.Duration

	mu          sync.RWMutex
	last        SystemHealth
	warnAlerted map[string]time.Time
}

func NewMonitor(checks []Check, alerter Alerter, inst monitorInstruments, logger *log.Logger) *Monitor {
	return &Monitor{
		checks:      checks,
		alerter:     alerter,
		inst:        inst,
		logger:      logger,
		interval:    defaultInterval,
		warnAlerted: map[string]time.Time{},
	}
}

// Run evaluates immediately, then on every tick until the context ends.
func (m *Monitor) Run(ctx context.Context) {
	if m == nil {
		return
	}
	m.RunCycle(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunCycle(ctx)
		}
	}
}

// RunCycle executes one evaluation pass. A check that panics or fails to
// produce a result is recorded as unknown; it never takes the cycle down.
func (m *Monitor) RunCycle(ctx context.Context) SystemHealth {
	if m == nil {
		return SystemHealth{Status: StatusUnknown}
	}

	results := make([]CheckResult, 0, len(m.checks))
	var totalWeight, weightedSum float64
	worst := StatusHealthy

	for _, check := range m.checks {
		res := m.runOne(ctx, check)
		results = append(results, res)
		totalWeight += check.Weight()
		weightedSum += check.Weight() * res.Status.score()
		if res.Status.severity() > worst.severity() {
			worst = res.Status
		}
	}

	score := float64(0)
	if totalWeight > 0 {
		score = weightedSum / totalWeight
	}

	overall := statusForScore(score)
	if worst == StatusCritical {
		overall = StatusCritical
	} else if worst == StatusWarning && overall == StatusHealthy {
		overall = StatusWarning
	}

	snapshot := SystemHealth{
		Status:          overall,
		Score:           score,
		Checks:          results,
		Recommendations: recommendations(results),
		CheckedAt:       time.Now().UTC(),
	}

	m.mu.Lock()
	m.last = snapshot
	m.mu.Unlock()

	if m.inst != nil {
		m.inst.SetHealthScore(score)
	}
	if m.logger != nil {
		m.logger.Printf("Health cycle | status=%s score=%.1f checks=%d", overall, score, len(results))
	}
	m.raiseAlerts(results)

	return snapshot
}

func (m *Monitor) runOne(ctx context.Context, check Check) (res CheckResult) {
	defer func() {
		if r := recover(); r != nil {
			res = CheckResult{
				Name:      check.Name(),
				Status:    StatusUnknown,
				Detail:    fmt.Sprintf("check panicked: %v", r),
				CheckedAt: time.Now().UTC(),
			}
		}
	}()

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	return check.Run(checkCtx)
}

// raiseAlerts surfaces critical checks every cycle; warnings are debounced
// so a flapping check does not page on each pass.
func (m *Monitor) raiseAlerts(results []CheckResult) {
	if m.alerter == nil {
		return
	}
	nowTS := time.Now().UTC()
	for _, res := range results {
		switch res.Status {
		case StatusCritical:
			m.alerter.Alert(StatusCritical, res.Name, res.Detail)
		case StatusWarning:
			m.mu.Lock()
			lastSent, seen := m.warnAlerted[res.Name]
			if !seen || nowTS.Sub(lastSent) >= warningDebounce {
				m.warnAlerted[res.Name] = nowTS
				m.mu.Unlock()
				m.alerter.Alert(StatusWarning, res.Name, res.Detail)
			} else {
				m.mu.Unlock()
			}
		default:
			m.mu.Lock()
			delete(m.warnAlerted, res.Name)
			m.mu.Unlock()
		}
	}
}

// recommendations turns every non-healthy check into a remediation hint for
// the status surface.
func recommendations(results []CheckResult) []string {
	var recs []string
	for _, res := range results {
		if res.Status == StatusHealthy {
			continue
		}
		recs = append(recs, recommendationFor(res))
	}
	return recs
}

func recommendationFor(res CheckResult) string {
	switch res.Name {
	case "data_freshness":
		return "data is stale; trigger a manual collection run"
	case "store_connectivity":
		return "database unreachable; check connection settings and server state"
	case "collection_success_rate":
		return "collections failing; inspect per-source errors in pipeline status"
	case "active_sources":
		return "sources excluded by repeated errors; repair or re-enable them"
	case "geocoding_success_rate":
		return "geocoding degraded; verify the geocoder endpoint is reachable"
	case "memory_usage":
		return "heap near its limit; investigate memory growth or raise the limit"
	case "api_latency":
		return "API responses slow; profile the request path"
	default:
		return fmt.Sprintf("check %s reports %s; investigate", res.Name, res.Status)
	}
}

// Current returns the most recent snapshot without re-running checks.
func (m *Monitor) Current() SystemHealth {
	if m == nil {
		return SystemHealth{Status: StatusUnknown}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

func statusForScore(score float64) Status {
	switch {
	case score >= 80:
		return StatusHealthy
	case score >= 50:
		return StatusWarning
	default:
		return StatusCritical
	}
}
