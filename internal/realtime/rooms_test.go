package realtime

import (
	"sort"
	"testing"

	"casewatch/internal/domain/caserecord"

	"github.com/google/uuid"
)

func event(t caserecord.EventType, p caserecord.Priority, summary caserecord.CaseSummary) caserecord.ChangeEvent {
	ev := caserecord.ChangeEvent{
		ID:       uuid.New(),
		Type:     t,
		Priority: p,
		Record:   summary,
	}
	ev.AffectedLocations = ev.Locations()
	return ev
}

func contains(rooms []string, want string) bool {
	for _, r := range rooms {
		if r == want {
			return true
		}
	}
	return false
}

func TestRoomsForSubscription_Deterministic(t *testing.T) {
	sub := Subscription{
		Tier: TierSupporter,
		Filters: normalizeFilters(Filters{
			Locations:  []string{"Tampa", "tampa"},
			Categories: []string{"missing_child"},
			Priorities: []string{"high"},
		}),
	}
	rooms := roomsForSubscription(sub)

	want := []string{RoomCritical, "tier_supporter", "location_tampa", "category_missing_child", "priority_high"}
	if len(rooms) != len(want) {
		t.Fatalf("got %v, want %v", rooms, want)
	}
	for _, w := range want {
		if !contains(rooms, w) {
			t.Fatalf("missing room %s in %v", w, rooms)
		}
	}
}

func TestRoomsForEvent_CriticalReachesEveryTier(t *testing.T) {
	ev := event(caserecord.EventAmberAlert, caserecord.PriorityCritical, caserecord.CaseSummary{
		State: "TX", City: "Austin", Category: "amber_alert",
	})
	rooms := roomsForEvent(ev)

	for _, want := range []string{
		RoomCritical,
		"tier_free", "tier_supporter", "tier_hero", "tier_champion",
		"location_tx", "location_austin",
		"category_amber_alert", "priority_critical",
	} {
		if !contains(rooms, want) {
			t.Fatalf("missing %s in %v", want, rooms)
		}
	}
}

func TestRoomsForEvent_TierFanoutByPriority(t *testing.T) {
	cases := []struct {
		priority caserecord.Priority
		included []string
		excluded []string
	}{
		{caserecord.PriorityHigh, []string{"tier_supporter", "tier_hero", "tier_champion"}, []string{"tier_free", RoomCritical}},
		{caserecord.PriorityMedium, []string{"tier_hero", "tier_champion"}, []string{"tier_free", "tier_supporter"}},
		{caserecord.PriorityLow, []string{"tier_champion"}, []string{"tier_free", "tier_supporter", "tier_hero"}},
	}
	for _, tc := range cases {
		ev := event(caserecord.EventInfoUpdate, tc.priority, caserecord.CaseSummary{State: "OR"})
		rooms := roomsForEvent(ev)
		for _, want := range tc.included {
			if !contains(rooms, want) {
				t.Fatalf("priority %s: missing %s in %v", tc.priority, want, rooms)
			}
		}
		for _, not := range tc.excluded {
			if contains(rooms, not) {
				t.Fatalf("priority %s: %s must not be targeted, got %v", tc.priority, not, rooms)
			}
		}
	}
}

func TestRoomsForEvent_NoDuplicates(t *testing.T) {
	ev := event(caserecord.EventNewCase, caserecord.PriorityCritical, caserecord.CaseSummary{
		State: "FL", City: "Miami", County: "miami", Category: "missing_child",
	})
	rooms := roomsForEvent(ev)
	sorted := append([]string(nil), rooms...)
	sort.Strings(sorted)
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			t.Fatalf("duplicate room %s in %v", sorted[i], rooms)
		}
	}
}
