package changedetect

import (
	"strings"

	"casewatch/internal/collector"
)

type Issue struct {
	Field    string `json:"field"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// validate runs field presence/type checks on a normalized payload. Error
// severity fails the record; warnings only lower its confidence.
func validate(p collector.PersonPayload) []Issue {
	var issues []Issue

	if strings.TrimSpace(p.FirstName) == "" && strings.TrimSpace(p.LastName) == "" {
		issues = append(issues, Issue{Field: "name", Message: "name is required", Severity: "error"})
	}
	if strings.TrimSpace(p.City) == "" && strings.TrimSpace(p.County) == "" && strings.TrimSpace(p.State) == "" {
		issues = append(issues, Issue{Field: "location", Message: "at least one location field is required", Severity: "error"})
	}
	if p.Age != nil && (*p.Age < 0 || *p.Age > 130) {
		issues = append(issues, Issue{Field: "age", Message: "age out of range", Severity: "error"})
	}
	if p.Latitude != nil && (*p.Latitude < -90 || *p.Latitude > 90) {
		issues = append(issues, Issue{Field: "latitude", Message: "latitude out of range", Severity: "error"})
	}
	if p.Longitude != nil && (*p.Longitude < -180 || *p.Longitude > 180) {
		issues = append(issues, Issue{Field: "longitude", Message: "longitude out of range", Severity: "error"})
	}

	if p.DateMissing == nil {
		issues = append(issues, Issue{Field: "date_missing", Message: "missing date not reported", Severity: "warning"})
	}
	if strings.TrimSpace(p.Status) == "" {
		issues = append(issues, Issue{Field: "status", Message: "status not reported", Severity: "warning"})
	}

	return issues
}

func hasError(issues []Issue) bool {
	for _, is := range issues {
		if is.Severity == "error" {
			return true
		}
	}
	return false
}

// confidence scores how completely a record is populated, 0..1. Warnings from
// validation each shave a little off.
func confidence(p collector.PersonPayload, issues []Issue) float64 {
	fields := []bool{
		strings.TrimSpace(p.FirstName) != "" || strings.TrimSpace(p.LastName) != "",
		p.Age != nil,
		strings.TrimSpace(p.Sex) != "",
		strings.TrimSpace(p.City) != "",
		strings.TrimSpace(p.State) != "",
		p.DateMissing != nil,
		strings.TrimSpace(p.Status) != "",
		strings.TrimSpace(p.CaseNumber) != "",
		strings.TrimSpace(p.Description) != "",
		p.Latitude != nil && p.Longitude != nil,
	}
	populated := 0
	for _, ok := range fields {
		if ok {
			populated++
		}
	}
	score := float64(populated) / float64(len(fields))
	for _, is := range issues {
		if is.Severity == "warning" {
			score -= 0.05
		}
	}
	if score < 0 {
		score = 0
	}
	return score
}

func confidenceBucket(score float64) string {
	switch {
	case score > 0.8:
		return "high"
	case score >= 0.5:
		return "medium"
	default:
		return "low"
	}
}
