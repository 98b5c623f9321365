package realtime

import (
	"strings"

	"casewatch/internal/domain/caserecord"
	"casewatch/internal/geo"
)

// matches is the single filter predicate used both for history replay and
// anywhere a subscription needs checking against a concrete event. Live
// broadcast reaches the same outcome through room membership.
func matches(sub Subscription, ev caserecord.ChangeEvent) bool {
	// Critical events and AMBER alerts bypass filters: every subscriber
	// signed up for those by connecting.
	if ev.Type == caserecord.EventAmberAlert || ev.Priority == caserecord.PriorityCritical {
		return matchesRadius(sub.Filters, ev)
	}

	if !tierReceives(sub.Tier, ev.Priority) {
		return false
	}
	if len(sub.Filters.Priorities) > 0 && !containsFold(sub.Filters.Priorities, string(ev.Priority)) {
		return false
	}
	if len(sub.Filters.Categories) > 0 && !containsFold(sub.Filters.Categories, ev.Record.Category) {
		return false
	}
	if len(sub.Filters.Locations) > 0 && !matchesLocation(sub.Filters.Locations, ev) {
		return false
	}
	return matchesRadius(sub.Filters, ev)
}

func tierReceives(t Tier, p caserecord.Priority) bool {
	switch p {
	case caserecord.PriorityCritical:
		return true
	case caserecord.PriorityHigh:
		return t.AtLeast(TierSupporter)
	case caserecord.PriorityMedium:
		return t.AtLeast(TierHero)
	default:
		return t.AtLeast(TierChampion)
	}
}

// matchesLocation does a case-insensitive substring match between filter
// terms and the event's location dimensions.
func matchesLocation(terms []string, ev caserecord.ChangeEvent) bool {
	locs := ev.Locations()
	for _, term := range terms {
		term = strings.ToLower(term)
		for _, loc := range locs {
			if strings.Contains(loc, term) || strings.Contains(term, loc) {
				return true
			}
		}
	}
	return false
}

// matchesRadius applies the haversine check when the subscription declared a
// radius. Events without coordinates pass: dropping them would hide cases
// that simply have not been geocoded yet.
func matchesRadius(f Filters, ev caserecord.ChangeEvent) bool {
	if f.Radius <= 0 || f.Latitude == nil || f.Longitude == nil {
		return true
	}
	if ev.Record.Latitude == nil || ev.Record.Longitude == nil {
		return true
	}
	d := geo.DistanceMiles(
		geo.Point{Latitude: *f.Latitude, Longitude: *f.Longitude},
		geo.Point{Latitude: *ev.Record.Latitude, Longitude: *ev.Record.Longitude},
	)
	return d <= f.Radius
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}
