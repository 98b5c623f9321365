package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

// CADOJCollector reads the California DOJ missing-persons search, which
// renders its result table client-side, through a headless browser. CA DOJ
// does not expose a stable case id on the listing, so these records rely on
// the fingerprint dedup fallback downstream.
type CADOJCollector struct {
	sourceID string
	baseURL  string
}

func NewCADOJCollector(def SourceDefinition) *CADOJCollector {
	base := strings.TrimSpace(def.BaseURL)
	if base == "" {
		base = "https://oag.ca.gov"
	}
	return &CADOJCollector{
		sourceID: def.ID,
		baseURL:  strings.TrimRight(base, "/"),
	}
}

func (c *CADOJCollector) SourceID() string {
	if c == nil {
		return ""
	}
	return c.sourceID
}

type cadojRow struct {
	Name        string `json:"name"`
	Age         string `json:"age"`
	Sex         string `json:"sex"`
	City        string `json:"city"`
	County      string `json:"county"`
	DateMissing string `json:"date_missing"`
}

const cadojExtractJS = `Array.from(document.querySelectorAll('table.views-table tbody tr')).map(tr => {
	const td = i => (tr.cells[i] ? tr.cells[i].innerText.trim() : '');
	return {name: td(0), age: td(1), sex: td(2), city: td(3), county: td(4), date_missing: td(5)};
})`

func (c *CADOJCollector) Fetch(ctx context.Context, def SourceDefinition) ([]RawRecord, error) {
	if c == nil {
		return nil, fmt.Errorf("nil collector")
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.UserAgent(userAgent),
		)...,
	)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	reqCtx, reqCancel := context.WithTimeout(browserCtx, def.FetchTimeout())
	defer reqCancel()

	var rows []cadojRow
	err := chromedp.Run(reqCtx,
		chromedp.Navigate(c.baseURL+"/missing/search"),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(1500*time.Millisecond),
		chromedp.EvaluateAsDevTools(cadojExtractJS, &rows),
	)
	if err != nil {
		kind := ErrKindUnavailable
		if reqCtx.Err() != nil {
			kind = ErrKindTimeout
		}
		return nil, NewFetchError(c.sourceID, kind, "headless fetch", err)
	}

	now := time.Now().UTC()
	out := make([]RawRecord, 0, len(rows))
	for _, row := range rows {
		first, last := splitName(row.Name)
		p := PersonPayload{
			FirstName:   first,
			LastName:    last,
			Age:         parseAge(row.Age),
			Sex:         strings.TrimSpace(row.Sex),
			City:        strings.TrimSpace(row.City),
			County:      strings.TrimSpace(row.County),
			State:       "CA",
			Status:      "missing",
			Category:    "missing_adult",
			DateMissing: parseDateOrNil(row.DateMissing),
		}
		if p.Age != nil && *p.Age < 18 {
			p.Category = "missing_child"
		}
		if !validPerson(p) {
			continue
		}
		raw, _ := json.Marshal(row)
		out = append(out, RawRecord{
			SourceID:    c.sourceID,
			Kind:        KindMissingPerson,
			Person:      p,
			Raw:         raw,
			CollectedAt: now,
		})
	}
	if len(out) == 0 {
		return nil, NewFetchError(c.sourceID, ErrKindParse, "no rows extracted", nil)
	}
	return out, nil
}
