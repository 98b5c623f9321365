package metrics

import "casewatch/internal/domain/caserecord"

// Pipeline-facing helpers so callers record outcomes without touching
// prometheus types directly.

func (m *Metrics) RunFinished(sourceID, outcome string, records int) {
	if m == nil {
		return
	}
	m.CollectionRuns.WithLabelValues(sourceID, outcome).Inc()
	if records > 0 {
		m.CollectionRecords.WithLabelValues(sourceID).Add(float64(records))
	}
}

func (m *Metrics) SetActiveSources(n int) {
	if m == nil {
		return
	}
	m.ActiveSources.Set(float64(n))
}

func (m *Metrics) EventsEmitted(events []caserecord.ChangeEvent) {
	if m == nil {
		return
	}
	for _, ev := range events {
		m.ChangeEvents.WithLabelValues(string(ev.Type)).Inc()
	}
}

func (m *Metrics) SetConnectedClients(n int) {
	if m == nil {
		return
	}
	m.ConnectedClients.Set(float64(n))
}

func (m *Metrics) BroadcastDelivered() {
	if m == nil {
		return
	}
	m.BroadcastsTotal.Inc()
}

func (m *Metrics) SetHealthScore(score float64) {
	if m == nil {
		return
	}
	m.HealthScore.Set(score)
}
