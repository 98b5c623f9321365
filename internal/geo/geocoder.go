package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Point is a WGS84 coordinate pair.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Geocoder resolves a city/county/state triple to coordinates. The
// resolution algorithm itself is an external concern; this package only
// defines the contract and an HTTP client for a Nominatim-style provider.
type Geocoder interface {
	Geocode(ctx context.Context, city, county, state string) (Point, error)
}

// HTTPGeocoder calls a Nominatim-compatible search endpoint and tracks its
// own success rate for the health monitor.
type HTTPGeocoder struct {
	client  *http.Client
	baseURL string

	attempts  atomic.Int64
	successes atomic.Int64
}

func NewHTTPGeocoder(baseURL string, timeout time.Duration) *HTTPGeocoder {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = "https://nominatim.openstreetmap.org"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPGeocoder{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type nominatimHit struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

func (g *HTTPGeocoder) Geocode(ctx context.Context, city, county, state string) (Point, error) {
	if g == nil {
		return Point{}, fmt.Errorf("nil geocoder")
	}
	query := strings.Join(nonEmpty(city, county, state, "USA"), ", ")
	if query == "USA" {
		return Point{}, fmt.Errorf("empty location")
	}

	g.attempts.Add(1)

	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return Point{}, err
	}
	req.Header.Set("User-Agent", "casewatch/1.0 (missing persons awareness)")

	resp, err := g.client.Do(req)
	if err != nil {
		return Point{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return Point{}, fmt.Errorf("geocoder status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Point{}, err
	}
	var hits []nominatimHit
	if err := json.Unmarshal(body, &hits); err != nil {
		return Point{}, err
	}
	if len(hits) == 0 {
		return Point{}, fmt.Errorf("no match for %q", query)
	}

	lat, err1 := strconv.ParseFloat(hits[0].Lat, 64)
	lon, err2 := strconv.ParseFloat(hits[0].Lon, 64)
	if err1 != nil || err2 != nil {
		return Point{}, fmt.Errorf("bad coordinates for %q", query)
	}

	g.successes.Add(1)
	return Point{Latitude: lat, Longitude: lon}, nil
}

// SuccessRate reports the lifetime geocode success percentage. No attempts
// yet reads as fully healthy.
func (g *HTTPGeocoder) SuccessRate() float64 {
	if g == nil {
		return 100
	}
	attempts := g.attempts.Load()
	if attempts == 0 {
		return 100
	}
	return float64(g.successes.Load()) / float64(attempts) * 100
}

func nonEmpty(vals ...string) []string {
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
