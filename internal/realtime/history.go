package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"casewatch/internal/domain/caserecord"
)

const historyKey = "realtime:events"

type historyCache interface {
	AppendEvent(ctx context.Context, key string, payload []byte, at time.Time) error
	EventsSince(ctx context.Context, key string, since time.Time, limit int) ([][]byte, error)
	PurgeEventsBefore(ctx context.Context, key string, cutoff time.Time) error
}

// eventHistory keeps the bounded recent-event window used for replay on
// subscribe. Redis is the primary store; a mirrored in-memory ring serves
// reads when redis is down. Writes happen on the broadcast path, so every
// failure is swallowed after logging.
type eventHistory struct {
	cache  historyCache
	logger *log.Logger
	window time.Duration

	mu     sync.RWMutex
	events []caserecord.ChangeEvent
}

func newEventHistory(cache historyCache, logger *log.Logger, window time.Duration) *eventHistory {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &eventHistory{cache: cache, logger: logger, window: window}
}

func (h *eventHistory) Store(ctx context.Context, ev caserecord.ChangeEvent) {
	if h == nil {
		return
	}

	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()

	if h.cache == nil {
		return
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := h.cache.AppendEvent(ctx, historyKey, b, ev.Timestamp); err != nil && h.logger != nil {
		h.logger.Printf("History append error | event=%s err=%v", ev.ID, err)
	}
}

// Recent returns up to limit events newer than the cutoff, most recent
// first.
func (h *eventHistory) Recent(ctx context.Context, since time.Time, limit int) []caserecord.ChangeEvent {
	if h == nil {
		return nil
	}
	if limit <= 0 {
		limit = 10
	}

	if h.cache != nil {
		if raw, err := h.cache.EventsSince(ctx, historyKey, since, limit); err == nil && len(raw) > 0 {
			out := make([]caserecord.ChangeEvent, 0, len(raw))
			for _, b := range raw {
				var ev caserecord.ChangeEvent
				if json.Unmarshal(b, &ev) == nil {
					out = append(out, ev)
				}
			}
			return out
		}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]caserecord.ChangeEvent, 0, limit)
	for i := len(h.events) - 1; i >= 0 && len(out) < limit; i-- {
		if h.events[i].Timestamp.Before(since) {
			break
		}
		out = append(out, h.events[i])
	}
	return out
}

// Purge drops events outside the retention window from both stores.
func (h *eventHistory) Purge(ctx context.Context) {
	if h == nil {
		return
	}
	cutoff := time.Now().UTC().Add(-h.window)

	h.mu.Lock()
	kept := h.events[:0]
	for _, ev := range h.events {
		if ev.Timestamp.After(cutoff) {
			kept = append(kept, ev)
		}
	}
	h.events = kept
	h.mu.Unlock()

	if h.cache != nil {
		if err := h.cache.PurgeEventsBefore(ctx, historyKey, cutoff); err != nil && h.logger != nil {
			h.logger.Printf("History purge error | err=%v", err)
		}
	}
}
