package realtime

import (
	"testing"

	"casewatch/internal/domain/caserecord"
)

func TestMatches_CriticalBypassesFilters(t *testing.T) {
	sub := Subscription{
		Tier: TierFree,
		Filters: normalizeFilters(Filters{
			Locations:  []string{"alaska"},
			Categories: []string{"missing_adult"},
		}),
	}
	ev := event(caserecord.EventAmberAlert, caserecord.PriorityCritical, caserecord.CaseSummary{
		State: "TX", Category: "amber_alert",
	})

	if !matches(sub, ev) {
		t.Fatalf("critical events bypass location and category filters")
	}
}

func TestMatches_TierGatesNonCritical(t *testing.T) {
	ev := event(caserecord.EventInfoUpdate, caserecord.PriorityLow, caserecord.CaseSummary{State: "OR"})

	if matches(Subscription{Tier: TierHero}, ev) {
		t.Fatalf("low priority is champion-only")
	}
	if !matches(Subscription{Tier: TierChampion}, ev) {
		t.Fatalf("champion receives low priority")
	}

	high := event(caserecord.EventNewCase, caserecord.PriorityHigh, caserecord.CaseSummary{State: "OR"})
	if matches(Subscription{Tier: TierFree}, high) {
		t.Fatalf("free tier does not receive high priority")
	}
	if !matches(Subscription{Tier: TierSupporter}, high) {
		t.Fatalf("supporter receives high priority")
	}
}

func TestMatches_LocationSubstring(t *testing.T) {
	ev := event(caserecord.EventNewCase, caserecord.PriorityHigh, caserecord.CaseSummary{
		State: "FL", City: "Saint Petersburg",
	})
	sub := Subscription{Tier: TierChampion, Filters: normalizeFilters(Filters{Locations: []string{"petersburg"}})}
	if !matches(sub, ev) {
		t.Fatalf("substring location match expected")
	}

	sub = Subscription{Tier: TierChampion, Filters: normalizeFilters(Filters{Locations: []string{"orlando"}})}
	if matches(sub, ev) {
		t.Fatalf("non-matching location must filter the event out")
	}
}

func TestMatches_RadiusFiltering(t *testing.T) {
	tampaLat, tampaLon := 27.9506, -82.4572
	orlandoLat, orlandoLon := 28.5384, -81.3789
	seattleLat, seattleLon := 47.6062, -122.3321

	near := event(caserecord.EventNewCase, caserecord.PriorityHigh, caserecord.CaseSummary{
		State: "FL", Latitude: &orlandoLat, Longitude: &orlandoLon,
	})
	far := event(caserecord.EventNewCase, caserecord.PriorityHigh, caserecord.CaseSummary{
		State: "WA", Latitude: &seattleLat, Longitude: &seattleLon,
	})
	unlocated := event(caserecord.EventNewCase, caserecord.PriorityHigh, caserecord.CaseSummary{State: "FL"})

	sub := Subscription{Tier: TierChampion, Filters: Filters{
		Radius: 100, Latitude: &tampaLat, Longitude: &tampaLon,
	}}

	if !matches(sub, near) {
		t.Fatalf("Orlando is within 100 miles of Tampa")
	}
	if matches(sub, far) {
		t.Fatalf("Seattle is not within 100 miles of Tampa")
	}
	if !matches(sub, unlocated) {
		t.Fatalf("events without coordinates pass the radius check")
	}

	// Critical events still honor the subscriber's radius.
	farCritical := event(caserecord.EventAmberAlert, caserecord.PriorityCritical, caserecord.CaseSummary{
		State: "WA", Latitude: &seattleLat, Longitude: &seattleLon,
	})
	if matches(sub, farCritical) {
		t.Fatalf("radius applies even to critical events")
	}
}

func TestMatches_PriorityAndCategoryFilters(t *testing.T) {
	ev := event(caserecord.EventNewCase, caserecord.PriorityHigh, caserecord.CaseSummary{
		State: "NM", Category: "missing_child",
	})

	sub := Subscription{Tier: TierChampion, Filters: normalizeFilters(Filters{Priorities: []string{"medium"}})}
	if matches(sub, ev) {
		t.Fatalf("priority filter must exclude high")
	}

	sub = Subscription{Tier: TierChampion, Filters: normalizeFilters(Filters{Categories: []string{"missing_adult"}})}
	if matches(sub, ev) {
		t.Fatalf("category filter must exclude missing_child")
	}

	sub = Subscription{Tier: TierChampion, Filters: normalizeFilters(Filters{
		Priorities: []string{"high"}, Categories: []string{"missing_child"},
	})}
	if !matches(sub, ev) {
		t.Fatalf("matching filters must pass")
	}
}
