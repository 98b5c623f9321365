package realtime

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Client is one websocket connection. All writes to the socket go through
// WritePump; other goroutines only enqueue onto send.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	logger *log.Logger

	sessionID string
	userID    string
	tier      Tier

	send chan []byte

	mu       sync.Mutex
	sub      *Subscription
	rooms    []string
	closed   bool
	lastSeen time.Time
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string, tier Tier, logger *log.Logger) *Client {
	if !tier.Valid() {
		tier = TierFree
	}
	return &Client{
		hub:       hub,
		conn:      conn,
		logger:    logger,
		sessionID: uuid.NewString(),
		userID:    userID,
		tier:      tier,
		send:      make(chan []byte, sendBuffer),
		lastSeen:  time.Now().UTC(),
	}
}

// ReadPump consumes client messages until the connection drops. It owns the
// read side of the socket and must run in its own goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.sendMessage(msgConnected, connectedData{SessionID: c.sessionID, Tier: c.tier})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && c.logger != nil {
				c.logger.Printf("WS read error | session=%s err=%v", c.sessionID, err)
			}
			return
		}
		c.touch()

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendError(&SubscribeError{Code: ErrCodeInvalidSubscription, Message: "malformed message"})
			continue
		}

		switch msg.Type {
		case "subscribe":
			c.handleSubscribe(msg.Filters)
		case "unsubscribe":
			c.hub.Unsubscribe(c)
		case "ping":
			c.sendMessage(msgPong, nil)
		default:
			c.sendError(&SubscribeError{Code: ErrCodeInvalidSubscription, Message: "unknown message type: " + msg.Type})
		}
	}
}

func (c *Client) handleSubscribe(f Filters) {
	sub, replay, subErr := c.hub.Subscribe(c, f)
	if subErr != nil {
		c.sendError(subErr)
		return
	}

	c.sendMessage(msgSubscriptionConfirmed, confirmedData{
		SubscriptionID: sub.ID.String(),
		Filters:        sub.Filters,
		Tier:           sub.Tier,
		ConnectedAt:    sub.ConnectedAt,
	})
	c.sendMessage(msgRecentUpdates, recentUpdatesData{Events: replay, Count: len(replay)})
}

// WritePump drains the send channel onto the socket and keeps the
// connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue hands payload to the write pump without blocking; a full buffer
// means the client is too slow and the message is dropped. The send attempt
// stays under the same lock as the closed flag so closeSend cannot close the
// channel between the check and the send.
func (c *Client) enqueue(payload []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	dropped := false
	select {
	case c.send <- payload:
	default:
		dropped = true
	}
	c.mu.Unlock()

	if dropped && c.logger != nil {
		c.logger.Printf("WS send dropped | session=%s reason=slow_client", c.sessionID)
	}
}

func (c *Client) sendMessage(msgType string, data interface{}) {
	payload, err := marshalServerMessage(msgType, data)
	if err != nil {
		return
	}
	c.enqueue(payload)
}

func (c *Client) sendError(subErr *SubscribeError) {
	c.sendMessage(msgError, subErr)
}

func (c *Client) setSubscription(sub *Subscription, rooms []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sub = sub
	c.rooms = rooms
	c.lastSeen = time.Now().UTC()
}

func (c *Client) joinedRooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now().UTC()
	if c.sub != nil {
		c.sub.LastActivity = time.Now().UTC()
	}
	c.mu.Unlock()
}

func (c *Client) lastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) closeConn() {
	_ = c.conn.Close()
}
