package realtime

import (
	"encoding/json"
	"time"

	"casewatch/internal/domain/caserecord"
)

const (
	msgConnected             = "connected"
	msgSubscriptionConfirmed = "subscription_confirmed"
	msgError                 = "error"
	msgRecentUpdates         = "recent_updates"
	msgRealtimeUpdate        = "realtime_update"
	msgPong                  = "pong"
)

type serverMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

func marshalServerMessage(msgType string, data interface{}) ([]byte, error) {
	return json.Marshal(serverMessage{Type: msgType, Data: data})
}

type clientMessage struct {
	Type    string  `json:"type"`
	Filters Filters `json:"filters"`
}

type connectedData struct {
	SessionID string `json:"session_id"`
	Tier      Tier   `json:"tier"`
}

type confirmedData struct {
	SubscriptionID string    `json:"subscription_id"`
	Filters        Filters   `json:"filters"`
	Tier           Tier      `json:"tier"`
	ConnectedAt    time.Time `json:"connected_at"`
}

type recentUpdatesData struct {
	Events []caserecord.ChangeEvent `json:"events"`
	Count  int                      `json:"count"`
}
