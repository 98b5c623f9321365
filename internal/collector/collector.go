package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind tags the declared schema of a RawRecord so downstream code can rely on
// the payload shape without re-sniffing per-source JSON.
type Kind string

const (
	KindMissingPerson Kind = "missing_person"
	KindAmberAlert    Kind = "amber_alert"
)

// PersonPayload is the normalized per-record schema every collector emits.
// Collectors validate and map source fields into it at the boundary;
// reconciliation never sees source-specific shapes.
type PersonPayload struct {
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	Age         *int       `json:"age,omitempty"`
	Sex         string     `json:"sex,omitempty"`
	Ethnicity   string     `json:"ethnicity,omitempty"`
	City        string     `json:"city,omitempty"`
	County      string     `json:"county,omitempty"`
	State       string     `json:"state,omitempty"`
	Latitude    *float64   `json:"latitude,omitempty"`
	Longitude   *float64   `json:"longitude,omitempty"`
	Status      string     `json:"status,omitempty"`
	Category    string     `json:"category,omitempty"`
	Description string     `json:"description,omitempty"`
	CaseNumber  string     `json:"case_number,omitempty"`
	DateMissing *time.Time `json:"date_missing,omitempty"`
	Urgent      bool       `json:"urgent,omitempty"`
}

type RawRecord struct {
	ExternalID  string
	SourceID    string
	Kind        Kind
	Person      PersonPayload
	Raw         json.RawMessage
	CollectedAt time.Time
}

// SourceDefinition describes one external source as loaded from the sources
// config file.
type SourceDefinition struct {
	ID              string        `yaml:"id"`
	Name            string        `yaml:"name"`
	Type            string        `yaml:"type"`
	BaseURL         string        `yaml:"base_url"`
	IntervalMinutes int           `yaml:"interval_minutes"`
	Priority        string        `yaml:"priority"`
	Timeout         time.Duration `yaml:"timeout"`
	Enabled         bool          `yaml:"enabled"`
	// StableID declares whether ExternalID is a stable natural key. Sources
	// without one fall back to the name+location+date fingerprint.
	StableID bool `yaml:"stable_id"`
}

func (d SourceDefinition) Interval() time.Duration {
	if d.IntervalMinutes <= 0 {
		return 60 * time.Minute
	}
	return time.Duration(d.IntervalMinutes) * time.Minute
}

func (d SourceDefinition) FetchTimeout() time.Duration {
	if d.Timeout <= 0 {
		return 30 * time.Second
	}
	return d.Timeout
}

// Collector is the per-source fetch/parse/normalize contract.
type Collector interface {
	SourceID() string
	Fetch(ctx context.Context, def SourceDefinition) ([]RawRecord, error)
}

type ErrorKind string

const (
	ErrKindTimeout     ErrorKind = "timeout"
	ErrKindHTTP        ErrorKind = "http"
	ErrKindParse       ErrorKind = "parse"
	ErrKindUnavailable ErrorKind = "unavailable"
)

// FetchError is the typed error surfaced across the collector boundary.
type FetchError struct {
	SourceID string
	Kind     ErrorKind
	Message  string
	Cause    error
}

func (e *FetchError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("source %s: %s: %s", e.SourceID, e.Kind, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func NewFetchError(sourceID string, kind ErrorKind, message string, cause error) *FetchError {
	return &FetchError{SourceID: sourceID, Kind: kind, Message: message, Cause: cause}
}

// New builds a Collector for a source definition. Unknown types are rejected
// at load time so a typo in sources.yaml fails fast.
func New(def SourceDefinition) (Collector, error) {
	switch strings.ToLower(strings.TrimSpace(def.Type)) {
	case "namus":
		return NewNamusCollector(def), nil
	case "fdle":
		return NewFDLECollector(def), nil
	case "cadoj":
		return NewCADOJCollector(def), nil
	case "amber":
		return NewAmberCollector(def), nil
	default:
		return nil, fmt.Errorf("unknown source type: %q", def.Type)
	}
}
