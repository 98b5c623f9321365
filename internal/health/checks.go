package health

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"
)

// Staleness bands for collected data.
const (
	freshnessWarnAfter     = 6 * time.Hour
	freshnessCriticalAfter = 12 * time.Hour
)

type pinger interface {
	Ping(ctx context.Context) error
}

type runStats interface {
	LastSuccessfulRun(ctx context.Context) (time.Time, error)
	SuccessRateSince(ctx context.Context, since time.Time) (float64, error)
}

type geocodeStats interface {
	SuccessRate() float64
}

type sourceLister interface {
	GetActiveSources() []string
	EnabledSourceCount() int
}

func now() time.Time { return time.Now().UTC() }

// FreshnessCheck grades how stale the newest successful collection is.
type FreshnessCheck struct {
	Runs runStats
}

func (c FreshnessCheck) Name() string    { return "data_freshness" }
func (c FreshnessCheck) Weight() float64 { return 0.25 }

func (c FreshnessCheck) Run(ctx context.Context) CheckResult {
	last, err := c.Runs.LastSuccessfulRun(ctx)
	if err != nil {
		return CheckResult{Name: c.Name(), Status: StatusUnknown, Detail: err.Error(), CheckedAt: now()}
	}
	age := time.Since(last)
	status := StatusHealthy
	switch {
	case age > freshnessCriticalAfter:
		status = StatusCritical
	case age > freshnessWarnAfter:
		status = StatusWarning
	}
	return CheckResult{
		Name:      c.Name(),
		Status:    status,
		Detail:    fmt.Sprintf("last success %s ago", age.Round(time.Minute)),
		CheckedAt: now(),
	}
}

// StoreCheck probes database connectivity.
type StoreCheck struct {
	Store pinger
}

func (c StoreCheck) Name() string    { return "store_connectivity" }
func (c StoreCheck) Weight() float64 { return 0.20 }

func (c StoreCheck) Run(ctx context.Context) CheckResult {
	if err := c.Store.Ping(ctx); err != nil {
		return CheckResult{Name: c.Name(), Status: StatusCritical, Detail: err.Error(), CheckedAt: now()}
	}
	return CheckResult{Name: c.Name(), Status: StatusHealthy, CheckedAt: now()}
}

// SuccessRateCheck grades the 24h collection success rate.
type SuccessRateCheck struct {
	Runs runStats
}

func (c SuccessRateCheck) Name() string    { return "collection_success_rate" }
func (c SuccessRateCheck) Weight() float64 { return 0.15 }

func (c SuccessRateCheck) Run(ctx context.Context) CheckResult {
	rate, err := c.Runs.SuccessRateSince(ctx, now().Add(-24*time.Hour))
	if err != nil {
		return CheckResult{Name: c.Name(), Status: StatusUnknown, Detail: err.Error(), CheckedAt: now()}
	}
	status := StatusHealthy
	switch {
	case rate < 50:
		status = StatusCritical
	case rate < 80:
		status = StatusWarning
	}
	return CheckResult{
		Name:      c.Name(),
		Status:    status,
		Detail:    fmt.Sprintf("%.1f%% over 24h", rate),
		CheckedAt: now(),
	}
}

// SourcesCheck grades how many configured sources are currently active.
type SourcesCheck struct {
	Sources sourceLister
}

func (c SourcesCheck) Name() string    { return "active_sources" }
func (c SourcesCheck) Weight() float64 { return 0.15 }

func (c SourcesCheck) Run(_ context.Context) CheckResult {
	enabled := c.Sources.EnabledSourceCount()
	active := len(c.Sources.GetActiveSources())
	if enabled == 0 {
		return CheckResult{Name: c.Name(), Status: StatusUnknown, Detail: "no sources configured", CheckedAt: now()}
	}
	status := StatusHealthy
	switch {
	case active == 0:
		status = StatusCritical
	case active < 3:
		status = StatusWarning
	}
	return CheckResult{
		Name:      c.Name(),
		Status:    status,
		Detail:    fmt.Sprintf("%d/%d active", active, enabled),
		CheckedAt: now(),
	}
}

// GeocodeCheck grades the geocoding success rate for the process lifetime.
type GeocodeCheck struct {
	Geocoder geocodeStats
}

func (c GeocodeCheck) Name() string    { return "geocoding_success_rate" }
func (c GeocodeCheck) Weight() float64 { return 0.10 }

func (c GeocodeCheck) Run(_ context.Context) CheckResult {
	rate := c.Geocoder.SuccessRate()
	status := StatusHealthy
	switch {
	case rate < 40:
		status = StatusCritical
	case rate < 70:
		status = StatusWarning
	}
	return CheckResult{
		Name:      c.Name(),
		Status:    status,
		Detail:    fmt.Sprintf("%.1f%%", rate),
		CheckedAt: now(),
	}
}

// MemoryCheck grades heap usage against a soft process limit.
type MemoryCheck struct {
	LimitBytes uint64
}

func (c MemoryCheck) Name() string    { return "memory_usage" }
func (c MemoryCheck) Weight() float64 { return 0.075 }

func (c MemoryCheck) Run(_ context.Context) CheckResult {
	limit := c.LimitBytes
	if limit == 0 {
		limit = 1 << 30
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	pct := float64(ms.HeapAlloc) / float64(limit) * 100
	status := StatusHealthy
	switch {
	case pct > 90:
		status = StatusCritical
	case pct > 75:
		status = StatusWarning
	}
	return CheckResult{
		Name:      c.Name(),
		Status:    status,
		Detail:    fmt.Sprintf("%.1f%% of limit", pct),
		CheckedAt: now(),
	}
}

// LatencyRecorder keeps a rolling window of request durations observed by
// the HTTP access middleware.
type LatencyRecorder struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	full    bool
}

func NewLatencyRecorder(window int) *LatencyRecorder {
	if window <= 0 {
		window = 256
	}
	return &LatencyRecorder{samples: make([]time.Duration, window)}
}

func (r *LatencyRecorder) Observe(d time.Duration) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.samples[r.next] = d
	r.next++
	if r.next == len(r.samples) {
		r.next = 0
		r.full = true
	}
	r.mu.Unlock()
}

func (r *LatencyRecorder) Average() (time.Duration, bool) {
	if r == nil {
		return 0, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.next
	if r.full {
		n = len(r.samples)
	}
	if n == 0 {
		return 0, false
	}
	var total time.Duration
	for i := 0; i < n; i++ {
		total += r.samples[i]
	}
	return total / time.Duration(n), true
}

// LatencyCheck grades average API response time.
type LatencyCheck struct {
	Recorder *LatencyRecorder
}

func (c LatencyCheck) Name() string    { return "api_latency" }
func (c LatencyCheck) Weight() float64 { return 0.075 }

func (c LatencyCheck) Run(_ context.Context) CheckResult {
	avg, ok := c.Recorder.Average()
	if !ok {
		return CheckResult{Name: c.Name(), Status: StatusHealthy, Detail: "no traffic", CheckedAt: now()}
	}
	status := StatusHealthy
	switch {
	case avg > time.Second:
		status = StatusCritical
	case avg > 250*time.Millisecond:
		status = StatusWarning
	}
	return CheckResult{
		Name:      c.Name(),
		Status:    status,
		Detail:    fmt.Sprintf("avg %s", avg.Round(time.Millisecond)),
		CheckedAt: now(),
	}
}
