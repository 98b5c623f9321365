package collector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const userAgent = "casewatch/1.0 (missing persons awareness)"

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func fetchBody(ctx context.Context, client *http.Client, sourceID, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, NewFetchError(sourceID, ErrKindHTTP, "build request", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		kind := ErrKindHTTP
		if ctx.Err() != nil {
			kind = ErrKindTimeout
		}
		return nil, NewFetchError(sourceID, kind, "request failed", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, NewFetchError(sourceID, ErrKindHTTP, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	b, err := readAllLimit(resp.Body, 8<<20)
	if err != nil {
		return nil, NewFetchError(sourceID, ErrKindParse, "read body", err)
	}
	return b, nil
}

func readAllLimit(r io.Reader, max int64) ([]byte, error) {
	lr := &io.LimitedReader{R: r, N: max}
	b, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if lr.N <= 0 {
		return nil, fmt.Errorf("response too large")
	}
	return b, nil
}

func pickNonEmpty(vals ...string) string {
	for _, v := range vals {
		v = strings.TrimSpace(v)
		if v != "" {
			return v
		}
	}
	return ""
}

func parseAge(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	// Sources report ranges like "15-17"; take the lower bound.
	if i := strings.IndexAny(s, "-–"); i > 0 {
		s = s[:i]
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 || n > 130 {
		return nil
	}
	return &n
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"January 2, 2006",
	"Jan 2, 2006",
}

func parseDateOrNil(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// splitName separates "Last, First" and "First Last" forms.
func splitName(full string) (first, last string) {
	full = strings.TrimSpace(full)
	if full == "" {
		return "", ""
	}
	if i := strings.Index(full, ","); i >= 0 {
		return strings.TrimSpace(full[i+1:]), strings.TrimSpace(full[:i])
	}
	fields := strings.Fields(full)
	if len(fields) == 1 {
		return fields[0], ""
	}
	return strings.Join(fields[:len(fields)-1], " "), fields[len(fields)-1]
}

// validPerson applies the boundary schema check: a record must carry a name
// and at least one location dimension to be worth reconciling.
func validPerson(p PersonPayload) bool {
	if strings.TrimSpace(p.FirstName) == "" && strings.TrimSpace(p.LastName) == "" {
		return false
	}
	if pickNonEmpty(p.City, p.County, p.State) == "" {
		return false
	}
	return true
}
