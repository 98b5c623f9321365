package realtime

import (
	"fmt"
	"strings"
	"time"

	"casewatch/internal/domain/caserecord"

	"github.com/google/uuid"
)

type Tier string

const (
	TierFree      Tier = "free"
	TierSupporter Tier = "supporter"
	TierHero      Tier = "hero"
	TierChampion  Tier = "champion"
)

var tierRank = map[Tier]int{
	TierFree:      0,
	TierSupporter: 1,
	TierHero:      2,
	TierChampion:  3,
}

func (t Tier) Rank() int {
	return tierRank[t]
}

func (t Tier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// AtLeast reports whether t meets or exceeds min.
func (t Tier) AtLeast(min Tier) bool {
	return t.Rank() >= min.Rank()
}

const (
	maxRadiusMiles          = 500
	freeRadiusMiles         = 50
	supporterRadiusMiles    = 200
	freeCategoryFilterLimit = 2
)

type Filters struct {
	Locations  []string `json:"locations,omitempty"`
	Categories []string `json:"categories,omitempty"`
	Priorities []string `json:"priorities,omitempty"`
	// Radius in miles around (Latitude, Longitude). Zero disables the check.
	Radius    float64  `json:"radius,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

type Subscription struct {
	ID           uuid.UUID `json:"id"`
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id,omitempty"`
	Filters      Filters   `json:"filters"`
	Tier         Tier      `json:"tier"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
}

const (
	ErrCodeInvalidSubscription = "INVALID_SUBSCRIPTION"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeTierRestriction     = "TIER_RESTRICTION"
)

// SubscribeError is the structured error returned to the offending
// connection only; no state is mutated when one is returned.
type SubscribeError struct {
	Code            string `json:"type"`
	Message         string `json:"message"`
	UpgradeRequired Tier   `json:"upgrade_required,omitempty"`
}

func (e *SubscribeError) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Message
}

// validateFilters runs the schema check, step one of the validation order.
func validateFilters(f Filters) *SubscribeError {
	if f.Radius < 0 {
		return &SubscribeError{Code: ErrCodeInvalidSubscription, Message: "radius must be non-negative"}
	}
	if f.Radius > maxRadiusMiles {
		return &SubscribeError{Code: ErrCodeInvalidSubscription, Message: fmt.Sprintf("radius exceeds %d miles", maxRadiusMiles)}
	}
	if f.Radius > 0 && (f.Latitude == nil || f.Longitude == nil) {
		return &SubscribeError{Code: ErrCodeInvalidSubscription, Message: "radius filter requires latitude and longitude"}
	}
	if f.Latitude != nil && (*f.Latitude < -90 || *f.Latitude > 90) {
		return &SubscribeError{Code: ErrCodeInvalidSubscription, Message: "latitude out of range"}
	}
	if f.Longitude != nil && (*f.Longitude < -180 || *f.Longitude > 180) {
		return &SubscribeError{Code: ErrCodeInvalidSubscription, Message: "longitude out of range"}
	}
	for _, p := range f.Priorities {
		if !caserecord.Priority(strings.ToLower(strings.TrimSpace(p))).Valid() {
			return &SubscribeError{Code: ErrCodeInvalidSubscription, Message: fmt.Sprintf("unknown priority %q", p)}
		}
	}
	return nil
}

// validateTier enforces tier limits, step three of the validation order. The
// returned error names the minimum tier that would lift the restriction.
func validateTier(f Filters, tier Tier) *SubscribeError {
	if f.Radius > 0 {
		required := minTierForRadius(f.Radius)
		if !tier.AtLeast(required) {
			return &SubscribeError{
				Code:            ErrCodeTierRestriction,
				Message:         fmt.Sprintf("radius %.0f miles requires %s tier", f.Radius, required),
				UpgradeRequired: required,
			}
		}
	}
	if len(f.Categories) > freeCategoryFilterLimit && !tier.AtLeast(TierSupporter) {
		return &SubscribeError{
			Code:            ErrCodeTierRestriction,
			Message:         fmt.Sprintf("more than %d category filters requires supporter tier", freeCategoryFilterLimit),
			UpgradeRequired: TierSupporter,
		}
	}
	return nil
}

func minTierForRadius(radius float64) Tier {
	switch {
	case radius <= freeRadiusMiles:
		return TierFree
	case radius <= supporterRadiusMiles:
		return TierSupporter
	default:
		return TierHero
	}
}

// normalizeFilters lowercases and trims filter terms so matching and room
// names are deterministic.
func normalizeFilters(f Filters) Filters {
	out := f
	out.Locations = normalizeTerms(f.Locations)
	out.Categories = normalizeTerms(f.Categories)
	out.Priorities = normalizeTerms(f.Priorities)
	return out
}

func normalizeTerms(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
