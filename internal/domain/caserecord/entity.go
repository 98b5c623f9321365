package caserecord

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Case is the canonical missing-person record kept in the store. Pointer
// fields distinguish "unknown" from "known empty" so merges never null out a
// previously populated value.
type Case struct {
	ID         uuid.UUID
	DedupKey   string
	SourceID   string
	ExternalID *string

	FirstName *string
	LastName  *string
	Age       *int
	Sex       *string
	Ethnicity *string

	City   *string
	County *string
	State  *string

	Latitude  *float64
	Longitude *float64

	Status      *string
	Category    *string
	Description *string
	DateMissing *time.Time

	CaseNumber *string
	Urgent     bool

	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastVerified time.Time
}

func (c Case) FullName() string {
	first := ""
	if c.FirstName != nil {
		first = strings.TrimSpace(*c.FirstName)
	}
	last := ""
	if c.LastName != nil {
		last = strings.TrimSpace(*c.LastName)
	}
	return strings.TrimSpace(first + " " + last)
}

// IsChild reports whether the case concerns a minor at the time of
// disappearance. Unknown ages are not treated as children.
func (c Case) IsChild() bool {
	return c.Age != nil && *c.Age < 18
}

var terminalStatuses = map[string]struct{}{
	"found":    {},
	"located":  {},
	"resolved": {},
	"closed":   {},
}

func IsTerminalStatus(status string) bool {
	_, ok := terminalStatuses[strings.ToLower(strings.TrimSpace(status))]
	return ok
}

type EventType string

const (
	EventNewCase      EventType = "new_case"
	EventStatusUpdate EventType = "status_update"
	EventInfoUpdate   EventType = "info_update"
	EventAmberAlert   EventType = "amber_alert"
	EventResolution   EventType = "resolution"
)

type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// ChangeEvent is one detected create/update, produced by change detection and
// consumed exactly once by the realtime layer.
type ChangeEvent struct {
	ID                uuid.UUID   `json:"id"`
	Type              EventType   `json:"type"`
	Priority          Priority    `json:"priority"`
	CaseID            uuid.UUID   `json:"case_id"`
	SourceID          string      `json:"source_id"`
	Record            CaseSummary `json:"record"`
	AffectedLocations []string    `json:"affected_locations"`
	ChangedFields     []string    `json:"changed_fields,omitempty"`
	Timestamp         time.Time   `json:"timestamp"`
}

// CaseSummary is the record snapshot carried on the wire. Flattened and
// nil-safe so clients never see Go pointer semantics.
type CaseSummary struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	Age         *int       `json:"age,omitempty"`
	City        string     `json:"city,omitempty"`
	County      string     `json:"county,omitempty"`
	State       string     `json:"state,omitempty"`
	Latitude    *float64   `json:"latitude,omitempty"`
	Longitude   *float64   `json:"longitude,omitempty"`
	Status      string     `json:"status,omitempty"`
	Category    string     `json:"category,omitempty"`
	CaseNumber  string     `json:"case_number,omitempty"`
	DateMissing *time.Time `json:"date_missing,omitempty"`
}

func Summarize(c Case) CaseSummary {
	s := CaseSummary{
		ID:          c.ID,
		Name:        c.FullName(),
		Age:         c.Age,
		Latitude:    c.Latitude,
		Longitude:   c.Longitude,
		DateMissing: c.DateMissing,
	}
	if c.City != nil {
		s.City = *c.City
	}
	if c.County != nil {
		s.County = *c.County
	}
	if c.State != nil {
		s.State = *c.State
	}
	if c.Status != nil {
		s.Status = *c.Status
	}
	if c.Category != nil {
		s.Category = *c.Category
	}
	if c.CaseNumber != nil {
		s.CaseNumber = *c.CaseNumber
	}
	return s
}

// Locations returns the event's location dimensions (state, city, county),
// lowercased, for room derivation and filter matching.
func (e ChangeEvent) Locations() []string {
	out := make([]string, 0, 3)
	for _, loc := range []string{e.Record.State, e.Record.City, e.Record.County} {
		loc = strings.ToLower(strings.TrimSpace(loc))
		if loc != "" {
			out = append(out, loc)
		}
	}
	return out
}
