package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// AmberCollector pulls the active AMBER alert feed. Every record from this
// source is an active child abduction alert: downstream classification always
// treats it as an amber_alert at critical priority, whatever the diff says.
type AmberCollector struct {
	sourceID string
	client   *http.Client
	baseURL  string
}

func NewAmberCollector(def SourceDefinition) *AmberCollector {
	base := strings.TrimSpace(def.BaseURL)
	if base == "" {
		base = "https://amberalert.ojp.gov"
	}
	return &AmberCollector{
		sourceID: def.ID,
		client:   newHTTPClient(def.FetchTimeout()),
		baseURL:  strings.TrimRight(base, "/"),
	}
}

func (c *AmberCollector) SourceID() string {
	if c == nil {
		return ""
	}
	return c.sourceID
}

type amberAlert struct {
	AlertID     string `json:"alert_id"`
	ChildName   string `json:"child_name"`
	Age         string `json:"age"`
	Sex         string `json:"sex"`
	City        string `json:"city"`
	County      string `json:"county"`
	State       string `json:"state"`
	Details     string `json:"details"`
	IssuedDate  string `json:"issued_date"`
	AlertStatus string `json:"status"`
}

type amberFeed struct {
	Alerts []amberAlert `json:"alerts"`
}

func (c *AmberCollector) Fetch(ctx context.Context, def SourceDefinition) ([]RawRecord, error) {
	if c == nil {
		return nil, fmt.Errorf("nil collector")
	}

	body, err := fetchBody(ctx, c.client, c.sourceID, c.baseURL+"/active-alerts.json")
	if err != nil {
		return nil, err
	}

	var feed amberFeed
	if err := json.Unmarshal(body, &feed); err != nil {
		return nil, NewFetchError(c.sourceID, ErrKindParse, "decode feed", err)
	}

	now := time.Now().UTC()
	out := make([]RawRecord, 0, len(feed.Alerts))
	for _, a := range feed.Alerts {
		first, last := splitName(a.ChildName)
		p := PersonPayload{
			FirstName:   first,
			LastName:    last,
			Age:         parseAge(a.Age),
			Sex:         strings.TrimSpace(a.Sex),
			City:        strings.TrimSpace(a.City),
			County:      strings.TrimSpace(a.County),
			State:       strings.TrimSpace(a.State),
			Status:      pickNonEmpty(a.AlertStatus, "active"),
			Category:    "amber_alert",
			Description: strings.TrimSpace(a.Details),
			CaseNumber:  strings.TrimSpace(a.AlertID),
			DateMissing: parseDateOrNil(a.IssuedDate),
			Urgent:      true,
		}
		if !validPerson(p) {
			continue
		}
		raw, _ := json.Marshal(a)
		out = append(out, RawRecord{
			ExternalID:  strings.TrimSpace(a.AlertID),
			SourceID:    c.sourceID,
			Kind:        KindAmberAlert,
			Person:      p,
			Raw:         raw,
			CollectedAt: now,
		})
	}
	return out, nil
}
