package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
)

// FDLECollector scrapes the Florida clearinghouse missing-persons listing.
// The listing is a paginated HTML table; each row links to a detail page.
// FDLE case numbers are stable, so records carry a natural external id.
type FDLECollector struct {
	sourceID    string
	baseURL     string
	allowedHost string
	workers     int
}

func NewFDLECollector(def SourceDefinition) *FDLECollector {
	base := strings.TrimSpace(def.BaseURL)
	if base == "" {
		base = "https://www.fdle.state.fl.us"
	}
	return &FDLECollector{
		sourceID:    def.ID,
		baseURL:     strings.TrimRight(base, "/"),
		allowedHost: hostFromBaseURL(base),
		workers:     4,
	}
}

func (c *FDLECollector) SourceID() string {
	if c == nil {
		return ""
	}
	return c.sourceID
}

type fdleListItem struct {
	Name       string
	CaseNumber string
	Link       string
}

func (c *FDLECollector) Fetch(ctx context.Context, def SourceDefinition) ([]RawRecord, error) {
	if c == nil {
		return nil, fmt.Errorf("nil collector")
	}

	items, err := c.scrapeListing(ctx)
	if err != nil {
		return nil, err
	}

	pool := NewWorkerPool(c.workers, c.workers*2)
	pool.SetRateLimit(2)
	results := pool.Run(ctx)

	for _, it := range items {
		it := it
		if strings.TrimSpace(it.Link) == "" {
			continue
		}
		pool.Submit(func(ctx context.Context) ([]RawRecord, error) {
			rec, err := c.scrapeDetail(ctx, it)
			if err != nil {
				return nil, err
			}
			return []RawRecord{rec}, nil
		})
	}
	pool.Close()

	records := make([]RawRecord, 0, len(items))
	var lastErr error
	for res := range results {
		if res.Err != nil {
			lastErr = res.Err
			continue
		}
		records = append(records, res.Records...)
	}
	if len(records) == 0 && lastErr != nil {
		return nil, NewFetchError(c.sourceID, ErrKindHTTP, "all detail fetches failed", lastErr)
	}
	return records, nil
}

func (c *FDLECollector) scrapeListing(ctx context.Context) ([]fdleListItem, error) {
	col := colly.NewCollector(
		colly.AllowedDomains(c.allowedHost),
	)
	_ = col.Limit(&colly.LimitRule{DomainGlob: "*", Parallelism: 2, Delay: 400 * time.Millisecond})

	items := make([]fdleListItem, 0)

	col.OnHTML("table tr", func(e *colly.HTMLElement) {
		link := strings.TrimSpace(e.ChildAttr("a[href]", "href"))
		if link == "" || !strings.Contains(strings.ToLower(link), "case") {
			return
		}
		items = append(items, fdleListItem{
			Name:       strings.TrimSpace(e.ChildText("td:nth-of-type(1)")),
			CaseNumber: strings.TrimSpace(e.ChildText("td:nth-of-type(2)")),
			Link:       e.Request.AbsoluteURL(link),
		})
	})

	var reqErr error
	col.OnError(func(_ *colly.Response, err error) {
		reqErr = err
	})
	col.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", userAgent)
	})

	if ctx.Err() != nil {
		return nil, NewFetchError(c.sourceID, ErrKindTimeout, "listing canceled", ctx.Err())
	}
	if err := col.Visit(c.baseURL + "/mcicsearch/persons"); err != nil {
		return nil, NewFetchError(c.sourceID, ErrKindHTTP, "listing fetch", err)
	}
	col.Wait()
	if reqErr != nil {
		return nil, NewFetchError(c.sourceID, ErrKindHTTP, "listing fetch", reqErr)
	}

	dedup := map[string]struct{}{}
	out := make([]fdleListItem, 0, len(items))
	for _, it := range items {
		if _, ok := dedup[it.Link]; ok {
			continue
		}
		dedup[it.Link] = struct{}{}
		out = append(out, it)
	}
	return out, nil
}

func (c *FDLECollector) scrapeDetail(ctx context.Context, item fdleListItem) (RawRecord, error) {
	col := colly.NewCollector(
		colly.AllowedDomains(c.allowedHost),
	)

	fields := map[string]string{}
	col.OnHTML("dl", func(e *colly.HTMLElement) {
		labels := e.ChildTexts("dt")
		values := e.ChildTexts("dd")
		for i := range labels {
			if i >= len(values) {
				break
			}
			key := strings.ToLower(strings.TrimSpace(strings.TrimSuffix(labels[i], ":")))
			fields[key] = strings.TrimSpace(values[i])
		}
	})

	var reqErr error
	col.OnError(func(_ *colly.Response, err error) {
		reqErr = err
	})
	col.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", userAgent)
	})

	if ctx.Err() != nil {
		return RawRecord{}, NewFetchError(c.sourceID, ErrKindTimeout, "detail canceled", ctx.Err())
	}
	if err := col.Visit(item.Link); err != nil {
		return RawRecord{}, NewFetchError(c.sourceID, ErrKindHTTP, "detail fetch", err)
	}
	col.Wait()
	if reqErr != nil {
		return RawRecord{}, NewFetchError(c.sourceID, ErrKindHTTP, "detail fetch", reqErr)
	}

	first, last := splitName(pickNonEmpty(fields["name"], item.Name))
	p := PersonPayload{
		FirstName:   first,
		LastName:    last,
		Age:         parseAge(fields["age"]),
		Sex:         fields["sex"],
		Ethnicity:   fields["race"],
		City:        fields["city"],
		County:      fields["county"],
		State:       "FL",
		Status:      pickNonEmpty(fields["status"], "missing"),
		Category:    "missing_adult",
		Description: fields["circumstances"],
		CaseNumber:  pickNonEmpty(fields["case number"], item.CaseNumber),
		DateMissing: parseDateOrNil(fields["date missing"]),
	}
	if p.Age != nil && *p.Age < 18 {
		p.Category = "missing_child"
	}
	if !validPerson(p) {
		return RawRecord{}, NewFetchError(c.sourceID, ErrKindParse, "detail missing required fields: "+item.Link, nil)
	}

	raw, _ := json.Marshal(fields)
	return RawRecord{
		ExternalID:  p.CaseNumber,
		SourceID:    c.sourceID,
		Kind:        KindMissingPerson,
		Person:      p,
		Raw:         raw,
		CollectedAt: time.Now().UTC(),
	}, nil
}

func hostFromBaseURL(base string) string {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil || u.Host == "" {
		return ""
	}
	host := u.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return host
}
