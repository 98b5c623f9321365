package health

import (
	"context"
	"time"
)

type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusUnknown  Status = "unknown"
)

func (s Status) score() float64 {
	switch s {
	case StatusHealthy:
		return 100
	case StatusWarning:
		return 60
	case StatusCritical:
		return 20
	default:
		return 40
	}
}

func (s Status) severity() int {
	switch s {
	case StatusCritical:
		return 3
	case StatusWarning:
		return 2
	case StatusUnknown:
		return 1
	default:
		return 0
	}
}

type CheckResult struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Detail    string    `json:"detail,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

type SystemHealth struct {
	Status          Status        `json:"status"`
	Score           float64       `json:"score"`
	Checks          []CheckResult `json:"checks"`
	Recommendations []string      `json:"recommendations,omitempty"`
	CheckedAt       time.Time     `json:"checked_at"`
}

// Check is a single health probe. Weight determines its share of the
// overall score; the monitor normalizes across whatever checks it holds.
type Check interface {
	Name() string
	Weight() float64
	Run(ctx context.Context) CheckResult
}
