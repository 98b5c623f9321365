package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// NamusCollector pulls open missing-person cases from the NamUs case-set API.
// NamUs assigns stable case numbers, so records carry a natural external id.
type NamusCollector struct {
	sourceID string
	client   *http.Client
	baseURL  string
	pageSize int
	maxPages int
}

func NewNamusCollector(def SourceDefinition) *NamusCollector {
	base := strings.TrimSpace(def.BaseURL)
	if base == "" {
		base = "https://www.namus.gov"
	}
	return &NamusCollector{
		sourceID: def.ID,
		client:   newHTTPClient(def.FetchTimeout()),
		baseURL:  strings.TrimRight(base, "/"),
		pageSize: 100,
		maxPages: 10,
	}
}

func (c *NamusCollector) SourceID() string {
	if c == nil {
		return ""
	}
	return c.sourceID
}

type namusCase struct {
	NamusNumber string `json:"namus_number"`
	FirstName   string `json:"legal_first_name"`
	LastName    string `json:"legal_last_name"`
	Age         string `json:"missing_age"`
	Sex         string `json:"biological_sex"`
	Ethnicity   string `json:"race_ethnicity"`
	City        string `json:"city"`
	County      string `json:"county"`
	State       string `json:"state"`
	DateMissing string `json:"dlc"`
	Circumst    string `json:"circumstances"`
	CaseStatus  string `json:"case_status"`
}

type namusPage struct {
	Count   int         `json:"count"`
	Results []namusCase `json:"results"`
}

func (c *NamusCollector) Fetch(ctx context.Context, def SourceDefinition) ([]RawRecord, error) {
	if c == nil {
		return nil, fmt.Errorf("nil collector")
	}

	records := make([]RawRecord, 0, c.pageSize)
	for page := 0; page < c.maxPages; page++ {
		pageRecords, total, err := c.fetchPage(ctx, page)
		if err != nil {
			// Page zero failing means the source is down; a later page
			// failing still yields a usable partial batch.
			if page == 0 {
				return nil, err
			}
			return records, nil
		}
		records = append(records, pageRecords...)
		if len(records) >= total || len(pageRecords) == 0 {
			break
		}
	}
	return records, nil
}

func (c *NamusCollector) fetchPage(ctx context.Context, page int) ([]RawRecord, int, error) {
	q := url.Values{}
	q.Set("searchType", "missing")
	q.Set("caseStatus", "open")
	q.Set("take", strconv.Itoa(c.pageSize))
	q.Set("skip", strconv.Itoa(page*c.pageSize))

	u := c.baseURL + "/api/CaseSets/NamUs/MissingPersons/Search?" + q.Encode()
	body, err := fetchBody(ctx, c.client, c.sourceID, u)
	if err != nil {
		return nil, 0, err
	}

	var parsed namusPage
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, 0, NewFetchError(c.sourceID, ErrKindParse, "decode search page", err)
	}

	now := time.Now().UTC()
	out := make([]RawRecord, 0, len(parsed.Results))
	for _, nc := range parsed.Results {
		p := PersonPayload{
			FirstName:   strings.TrimSpace(nc.FirstName),
			LastName:    strings.TrimSpace(nc.LastName),
			Age:         parseAge(nc.Age),
			Sex:         strings.TrimSpace(nc.Sex),
			Ethnicity:   strings.TrimSpace(nc.Ethnicity),
			City:        strings.TrimSpace(nc.City),
			County:      strings.TrimSpace(nc.County),
			State:       strings.TrimSpace(nc.State),
			Status:      pickNonEmpty(nc.CaseStatus, "missing"),
			Category:    "missing_adult",
			Description: strings.TrimSpace(nc.Circumst),
			CaseNumber:  strings.TrimSpace(nc.NamusNumber),
			DateMissing: parseDateOrNil(nc.DateMissing),
		}
		if p.Age != nil && *p.Age < 18 {
			p.Category = "missing_child"
		}
		if !validPerson(p) {
			continue
		}
		raw, _ := json.Marshal(nc)
		out = append(out, RawRecord{
			ExternalID:  strings.TrimSpace(nc.NamusNumber),
			SourceID:    c.sourceID,
			Kind:        KindMissingPerson,
			Person:      p,
			Raw:         raw,
			CollectedAt: now,
		})
	}
	return out, parsed.Count, nil
}
