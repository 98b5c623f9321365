package realtime

import (
	"context"
	"log"
	"sync"
	"time"

	"casewatch/internal/domain/caserecord"

	"github.com/google/uuid"
)

type Options struct {
	HistoryWindow  time.Duration
	ReplayWindow   time.Duration
	ReplayLimit    int
	IdleTimeout    time.Duration
	SubscribeLimit int
}

func (o Options) withDefaults() Options {
	if o.HistoryWindow <= 0 {
		o.HistoryWindow = 24 * time.Hour
	}
	if o.ReplayWindow <= 0 {
		o.ReplayWindow = time.Hour
	}
	if o.ReplayLimit <= 0 {
		o.ReplayLimit = 10
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 30 * time.Minute
	}
	if o.SubscribeLimit <= 0 {
		o.SubscribeLimit = 10
	}
	return o
}

type hubInstruments interface {
	SetConnectedClients(n int)
	BroadcastDelivered()
}

// Hub is the broadcast core. Clients register on connect and receive
// nothing until an accepted subscribe joins them to rooms; events are
// delivered once per target room, never per subscriber. Producers enqueue
// and move on: a slow client drops messages instead of backing up
// collection.
type Hub struct {
	opts    Options
	logger  *log.Logger
	inst    hubInstruments
	history *eventHistory
	limiter *subscribeLimiter

	register   chan *Client
	unregister chan *Client
	broadcast  chan caserecord.ChangeEvent

	mu        sync.RWMutex
	clients   map[*Client]struct{}
	rooms     map[string]map[*Client]struct{}
	accepting bool
}

func NewHub(cache historyCache, inst hubInstruments, logger *log.Logger, opts Options) *Hub {
	opts = opts.withDefaults()
	return &Hub{
		opts:       opts,
		logger:     logger,
		inst:       inst,
		history:    newEventHistory(cache, logger, opts.HistoryWindow),
		limiter:    newSubscribeLimiter(opts.SubscribeLimit, time.Minute),
		register:   make(chan *Client, 128),
		unregister: make(chan *Client, 128),
		broadcast:  make(chan caserecord.ChangeEvent, 1024),
		clients:    map[*Client]struct{}{},
		rooms:      map[string]map[*Client]struct{}{},
		accepting:  true,
	}
}

// Run processes registration and broadcast until the context is canceled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			if client == nil {
				continue
			}
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			h.setClientGauge(total)
			if h.logger != nil {
				h.logger.Printf("WS connected | session=%s total_clients=%d", client.sessionID, total)
			}

		case client := <-h.unregister:
			if client == nil {
				continue
			}
			h.dropClient(client)

		case ev := <-h.broadcast:
			h.deliver(ev)
		}
	}
}

// Publish enqueues events for broadcast, dropping on a full buffer rather
// than blocking the pipeline.
func (h *Hub) Publish(events []caserecord.ChangeEvent) {
	if h == nil {
		return
	}
	for _, ev := range events {
		h.history.Store(context.Background(), ev)
		select {
		case h.broadcast <- ev:
		default:
			if h.logger != nil {
				h.logger.Printf("Broadcast dropped | reason=buffer_full event=%s", ev.ID)
			}
		}
	}
}

// deliver fans one event out to its target rooms. Cost is proportional to
// the room set; a client in several matching rooms still gets one copy. A
// marshal or send failure for one room never blocks the rest.
func (h *Hub) deliver(ev caserecord.ChangeEvent) {
	targetRooms := roomsForEvent(ev)
	payload, err := marshalServerMessage(msgRealtimeUpdate, ev)
	if err != nil {
		if h.logger != nil {
			h.logger.Printf("Broadcast marshal error | event=%s err=%v", ev.ID, err)
		}
		return
	}

	h.mu.RLock()
	seen := map[*Client]struct{}{}
	for _, room := range targetRooms {
		for client := range h.rooms[room] {
			// Room overlap is not entitlement: a free-tier client sits in
			// the same location room as a champion, but only tiers inside
			// the event's fan-out band receive it.
			if ev.Type != caserecord.EventAmberAlert && !tierReceives(client.tier, ev.Priority) {
				continue
			}
			seen[client] = struct{}{}
		}
		if h.inst != nil {
			h.inst.BroadcastDelivered()
		}
	}
	recipients := make([]*Client, 0, len(seen))
	for client := range seen {
		recipients = append(recipients, client)
	}
	h.mu.RUnlock()

	for _, client := range recipients {
		client.enqueue(payload)
	}

	if h.logger != nil {
		h.logger.Printf("WS broadcast | event=%s type=%s priority=%s rooms=%d recipients=%d",
			ev.ID, ev.Type, ev.Priority, len(targetRooms), len(recipients))
	}
}

// Subscribe runs the validation order (schema, rate limit, tier), joins the
// deterministic room set, and returns the replayable recent events. A
// returned error mutates no hub state.
func (h *Hub) Subscribe(c *Client, f Filters) (*Subscription, []caserecord.ChangeEvent, *SubscribeError) {
	if h == nil || c == nil {
		return nil, nil, &SubscribeError{Code: ErrCodeInvalidSubscription, Message: "connection closed"}
	}
	if !h.isAccepting() {
		return nil, nil, &SubscribeError{Code: ErrCodeInvalidSubscription, Message: "server shutting down"}
	}

	if err := validateFilters(f); err != nil {
		return nil, nil, err
	}
	if !h.limiter.Allow(c.sessionID) {
		return nil, nil, &SubscribeError{Code: ErrCodeRateLimited, Message: "too many subscribe attempts"}
	}
	if err := validateTier(f, c.tier); err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	sub := Subscription{
		ID:           uuid.New(),
		SessionID:    c.sessionID,
		UserID:       c.userID,
		Filters:      normalizeFilters(f),
		Tier:         c.tier,
		ConnectedAt:  now,
		LastActivity: now,
	}
	rooms := roomsForSubscription(sub)

	h.mu.Lock()
	h.leaveRoomsLocked(c)
	for _, room := range rooms {
		if h.rooms[room] == nil {
			h.rooms[room] = map[*Client]struct{}{}
		}
		h.rooms[room][c] = struct{}{}
	}
	h.mu.Unlock()

	c.setSubscription(&sub, rooms)

	replay := make([]caserecord.ChangeEvent, 0, h.opts.ReplayLimit)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, ev := range h.history.Recent(ctx, now.Add(-h.opts.ReplayWindow), h.opts.ReplayLimit*4) {
		if matches(sub, ev) {
			replay = append(replay, ev)
			if len(replay) >= h.opts.ReplayLimit {
				break
			}
		}
	}

	if h.logger != nil {
		h.logger.Printf("Subscription accepted | session=%s tier=%s rooms=%d replay=%d",
			c.sessionID, c.tier, len(rooms), len(replay))
	}
	return &sub, replay, nil
}

// Unsubscribe leaves every room but keeps the connection open.
func (h *Hub) Unsubscribe(c *Client) {
	if h == nil || c == nil {
		return
	}
	h.mu.Lock()
	h.leaveRoomsLocked(c)
	h.mu.Unlock()
	c.setSubscription(nil, nil)
}

func (h *Hub) leaveRoomsLocked(c *Client) {
	for _, room := range c.joinedRooms() {
		if members, ok := h.rooms[room]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
}

func (h *Hub) dropClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	h.leaveRoomsLocked(c)
	total := len(h.clients)
	h.mu.Unlock()

	h.limiter.Forget(c.sessionID)
	c.closeSend()
	h.setClientGauge(total)
	if h.logger != nil {
		h.logger.Printf("WS disconnected | session=%s total_clients=%d", c.sessionID, total)
	}
}

// StartMaintenance launches the independent sweeps: idle subscription
// eviction, history purge, and hourly rate-limiter reset. None of them
// touches the broadcast path.
func (h *Hub) StartMaintenance(ctx context.Context) {
	if h == nil {
		return
	}
	go h.sweep(ctx, 5*time.Minute, h.evictIdle)
	go h.sweep(ctx, time.Hour, func() {
		purgeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		h.history.Purge(purgeCtx)
	})
	go h.sweep(ctx, time.Hour, h.limiter.Reset)
}

func (h *Hub) sweep(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// evictIdle disconnects clients whose subscription has seen no activity
// within the idle timeout. Clients that never subscribed are measured from
// their connect time.
func (h *Hub) evictIdle() {
	cutoff := time.Now().UTC().Add(-h.opts.IdleTimeout)

	h.mu.RLock()
	stale := make([]*Client, 0)
	for c := range h.clients {
		if c.lastActivity().Before(cutoff) {
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		if h.logger != nil {
			h.logger.Printf("Subscription evicted | session=%s reason=idle", c.sessionID)
		}
		c.closeConn()
		h.dropClient(c)
	}
}

// StopAccepting rejects new subscriptions; part of the shutdown ordering
// that runs before scheduler timers are canceled.
func (h *Hub) StopAccepting() {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.accepting = false
	h.mu.Unlock()
}

func (h *Hub) isAccepting() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.accepting
}

func (h *Hub) Register(c *Client) {
	if h == nil {
		return
	}
	h.register <- c
}

// Unregister never blocks: once Run has exited the channel stops draining,
// and a blocked send here would pin the caller's ReadPump goroutine for the
// rest of shutdown. The fallback drops the client inline.
func (h *Hub) Unregister(c *Client) {
	if h == nil {
		return
	}
	select {
	case h.unregister <- c:
	default:
		h.dropClient(c)
	}
}

func (h *Hub) ClientCount() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) setClientGauge(n int) {
	if h.inst != nil {
		h.inst.SetConnectedClients(n)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = map[*Client]struct{}{}
	h.rooms = map[string]map[*Client]struct{}{}
	h.mu.Unlock()

	for _, c := range clients {
		c.closeSend()
	}
	h.setClientGauge(0)
}
