package realtime

import (
	"fmt"
	"testing"
	"time"

	"casewatch/internal/domain/caserecord"
)

func testClient(sessionID string, tier Tier) *Client {
	return &Client{
		sessionID: sessionID,
		tier:      tier,
		send:      make(chan []byte, sendBuffer),
		lastSeen:  time.Now().UTC(),
	}
}

func joinRooms(h *Hub, c *Client, rooms ...string) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	for _, room := range rooms {
		if h.rooms[room] == nil {
			h.rooms[room] = map[*Client]struct{}{}
		}
		h.rooms[room][c] = struct{}{}
	}
	h.mu.Unlock()
	c.setSubscription(&Subscription{SessionID: c.sessionID, Tier: c.tier}, rooms)
}

func TestDeliver_ClientInMultipleRoomsGetsOneCopy(t *testing.T) {
	h := NewHub(nil, nil, nil, Options{})

	c := testClient("multi", TierChampion)
	joinRooms(h, c, "location_tx", "category_amber_alert", RoomCritical, "tier_champion")

	ev := event(caserecord.EventAmberAlert, caserecord.PriorityCritical, caserecord.CaseSummary{
		State: "TX", Category: "amber_alert",
	})
	h.deliver(ev)

	if got := len(c.send); got != 1 {
		t.Fatalf("client in several target rooms must receive exactly one copy, got %d", got)
	}
}

func TestDeliver_OnlyTargetRoomsReceive(t *testing.T) {
	h := NewHub(nil, nil, nil, Options{})

	champion := testClient("champion", TierChampion)
	free := testClient("free", TierFree)
	joinRooms(h, champion, "tier_champion", RoomCritical)
	joinRooms(h, free, "tier_free", RoomCritical)

	low := event(caserecord.EventInfoUpdate, caserecord.PriorityLow, caserecord.CaseSummary{State: "OR"})
	h.deliver(low)

	if len(champion.send) != 1 {
		t.Fatalf("champion should receive the low priority event")
	}
	if len(free.send) != 0 {
		t.Fatalf("free tier should not receive the low priority event")
	}
}

func TestDeliver_SharedRoomStillGatesByTier(t *testing.T) {
	h := NewHub(nil, nil, nil, Options{})

	free := testClient("free", TierFree)
	supporter := testClient("supporter", TierSupporter)
	champion := testClient("champion", TierChampion)
	joinRooms(h, free, "location_oregon")
	joinRooms(h, supporter, "location_oregon")
	joinRooms(h, champion, "location_oregon")

	low := event(caserecord.EventInfoUpdate, caserecord.PriorityLow, caserecord.CaseSummary{State: "oregon"})
	h.deliver(low)

	if len(free.send) != 0 || len(supporter.send) != 0 {
		t.Fatalf("a low priority event must reach only the champion subscriber, free=%d supporter=%d",
			len(free.send), len(supporter.send))
	}
	if len(champion.send) != 1 {
		t.Fatalf("champion in the location room should receive the low priority event, got %d", len(champion.send))
	}

	high := event(caserecord.EventStatusUpdate, caserecord.PriorityHigh, caserecord.CaseSummary{State: "oregon"})
	h.deliver(high)

	if len(free.send) != 0 {
		t.Fatalf("free tier must not receive high priority via a shared location room")
	}
	if len(supporter.send) != 1 || len(champion.send) != 2 {
		t.Fatalf("supporter and above should receive high priority, supporter=%d champion=%d",
			len(supporter.send), len(champion.send))
	}
}

func TestDeliver_SlowClientNeverBlocks(t *testing.T) {
	h := NewHub(nil, nil, nil, Options{})

	slow := testClient("slow", TierChampion)
	slow.send = make(chan []byte, 1)
	healthy := testClient("healthy", TierChampion)
	joinRooms(h, slow, "tier_champion")
	joinRooms(h, healthy, "tier_champion")

	ev := event(caserecord.EventInfoUpdate, caserecord.PriorityLow, caserecord.CaseSummary{State: "OR"})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			h.deliver(ev)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("delivery blocked on a slow client")
	}
	if len(healthy.send) != 5 {
		t.Fatalf("healthy client should get all 5, got %d", len(healthy.send))
	}
	if len(slow.send) != 1 {
		t.Fatalf("slow client keeps its buffered copy only, got %d", len(slow.send))
	}
}

func TestSubscribe_ValidationOrderAndReplay(t *testing.T) {
	h := NewHub(nil, nil, nil, Options{ReplayLimit: 2})

	// Seed history with three matching events.
	for i := 0; i < 3; i++ {
		ev := event(caserecord.EventNewCase, caserecord.PriorityCritical, caserecord.CaseSummary{State: "FL"})
		ev.Timestamp = time.Now().UTC()
		h.history.Store(nil, ev)
	}

	c := testClient("sess-1", TierFree)
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	// Schema failure comes before the tier check even when both would fail.
	lat, lon := ptr(27.9), ptr(-82.5)
	_, _, subErr := h.Subscribe(c, Filters{Radius: 900, Latitude: lat, Longitude: lon})
	if subErr == nil || subErr.Code != ErrCodeInvalidSubscription {
		t.Fatalf("expected schema failure first, got %+v", subErr)
	}

	// Tier failure on an otherwise valid subscription.
	_, _, subErr = h.Subscribe(c, Filters{Radius: 300, Latitude: lat, Longitude: lon})
	if subErr == nil || subErr.Code != ErrCodeTierRestriction {
		t.Fatalf("expected tier restriction, got %+v", subErr)
	}
	if len(c.joinedRooms()) != 0 {
		t.Fatalf("a rejected subscribe must not join rooms")
	}

	sub, replay, subErr := h.Subscribe(c, Filters{Locations: []string{"FL"}})
	if subErr != nil {
		t.Fatalf("valid subscribe failed: %+v", subErr)
	}
	if sub.Tier != TierFree || sub.SessionID != "sess-1" {
		t.Fatalf("unexpected subscription: %+v", sub)
	}
	if len(replay) != 2 {
		t.Fatalf("replay must honor the limit, got %d", len(replay))
	}
	if len(c.joinedRooms()) == 0 {
		t.Fatalf("accepted subscribe must join rooms")
	}
}

func TestSubscribe_RateLimited(t *testing.T) {
	h := NewHub(nil, nil, nil, Options{SubscribeLimit: 2})

	c := testClient("sess-rl", TierFree)
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	for i := 0; i < 2; i++ {
		if _, _, subErr := h.Subscribe(c, Filters{}); subErr != nil {
			t.Fatalf("subscribe %d failed: %+v", i, subErr)
		}
	}
	_, _, subErr := h.Subscribe(c, Filters{})
	if subErr == nil || subErr.Code != ErrCodeRateLimited {
		t.Fatalf("expected RATE_LIMITED, got %+v", subErr)
	}
}

func TestSubscribe_RejectedAfterStopAccepting(t *testing.T) {
	h := NewHub(nil, nil, nil, Options{})
	h.StopAccepting()

	c := testClient("sess-stop", TierFree)
	if _, _, subErr := h.Subscribe(c, Filters{}); subErr == nil {
		t.Fatalf("shutdown must reject new subscriptions")
	}
}

func TestUnregister_NeverBlocksAfterRunExits(t *testing.T) {
	h := NewHub(nil, nil, nil, Options{})

	// No Run loop draining the channel; well past its buffer size.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 300; i++ {
			c := testClient(fmt.Sprintf("stale-%d", i), TierFree)
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
			h.Unregister(c)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("unregister blocked once the hub loop stopped draining")
	}
}

func TestResubscribeReplacesRooms(t *testing.T) {
	h := NewHub(nil, nil, nil, Options{})

	c := testClient("sess-re", TierFree)
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	if _, _, subErr := h.Subscribe(c, Filters{Locations: []string{"tampa"}}); subErr != nil {
		t.Fatalf("first subscribe: %+v", subErr)
	}
	if _, _, subErr := h.Subscribe(c, Filters{Locations: []string{"miami"}}); subErr != nil {
		t.Fatalf("second subscribe: %+v", subErr)
	}

	h.mu.RLock()
	_, inOld := h.rooms["location_tampa"][c]
	_, inNew := h.rooms["location_miami"][c]
	h.mu.RUnlock()

	if inOld {
		t.Fatalf("resubscribe must leave the previous room set")
	}
	if !inNew {
		t.Fatalf("resubscribe must join the new room set")
	}
}
