package realtime

import (
	"strings"

	"casewatch/internal/domain/caserecord"
)

// RoomCritical is joined by every accepted subscription.
const RoomCritical = "critical"

func tierRoom(t Tier) string {
	return "tier_" + string(t)
}

func locationRoom(loc string) string {
	return "location_" + strings.ReplaceAll(strings.ToLower(strings.TrimSpace(loc)), " ", "_")
}

func categoryRoom(cat string) string {
	return "category_" + strings.ToLower(strings.TrimSpace(cat))
}

func priorityRoom(p string) string {
	return "priority_" + strings.ToLower(strings.TrimSpace(p))
}

// roomsForSubscription derives the deterministic room set an accepted
// subscription joins.
func roomsForSubscription(sub Subscription) []string {
	rooms := []string{RoomCritical, tierRoom(sub.Tier)}
	for _, loc := range sub.Filters.Locations {
		rooms = append(rooms, locationRoom(loc))
	}
	for _, cat := range sub.Filters.Categories {
		rooms = append(rooms, categoryRoom(cat))
	}
	for _, p := range sub.Filters.Priorities {
		rooms = append(rooms, priorityRoom(p))
	}
	return dedupeStrings(rooms)
}

// roomsForEvent derives broadcast targets: the event's priority room, its
// location and category rooms, and the tier fan-out. AMBER alerts and
// critical events reach every tier plus the always-joined critical room.
func roomsForEvent(ev caserecord.ChangeEvent) []string {
	rooms := []string{priorityRoom(string(ev.Priority))}
	for _, loc := range ev.AffectedLocations {
		rooms = append(rooms, locationRoom(loc))
	}
	if ev.Record.Category != "" {
		rooms = append(rooms, categoryRoom(ev.Record.Category))
	}

	critical := ev.Type == caserecord.EventAmberAlert || ev.Priority == caserecord.PriorityCritical
	if critical {
		rooms = append(rooms, RoomCritical)
	}
	for _, t := range tierFanout(ev, critical) {
		rooms = append(rooms, tierRoom(t))
	}
	return dedupeStrings(rooms)
}

func tierFanout(ev caserecord.ChangeEvent, critical bool) []Tier {
	if critical {
		return []Tier{TierFree, TierSupporter, TierHero, TierChampion}
	}
	switch ev.Priority {
	case caserecord.PriorityHigh:
		return []Tier{TierSupporter, TierHero, TierChampion}
	case caserecord.PriorityMedium:
		return []Tier{TierHero, TierChampion}
	default:
		return []Tier{TierChampion}
	}
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
