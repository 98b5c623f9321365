package realtime

import (
	"log"
	"net/http"

	"casewatch/internal/pkg/token"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gorilla/websocket"
)

type Handler struct {
	hub      *Hub
	verifier token.Verifier
	logger   *log.Logger
}

func NewHandler(hub *Hub, verifier token.Verifier, logger *log.Logger) *Handler {
	return &Handler{hub: hub, verifier: verifier, logger: logger}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandleUpdatesWS upgrades the connection and starts the pumps. The
// optional ?token= query carries the tier claim; anonymous or invalid
// tokens connect at the free tier rather than being rejected.
func (h *Handler) HandleUpdatesWS(c fiber.Ctx) error {
	if h == nil || h.hub == nil {
		return fiber.ErrServiceUnavailable
	}

	fiberHandler := adaptor.HTTPHandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			if h.logger != nil {
				h.logger.Printf("WS upgrade error | error=%v", err)
			}
			return
		}

		userID, tier := h.identify(r.URL.Query().Get("token"))
		client := NewClient(h.hub, conn, userID, tier, h.logger)
		h.hub.Register(client)
		go client.WritePump()
		go client.ReadPump()
	})

	return fiberHandler(c)
}

func (h *Handler) identify(raw string) (string, Tier) {
	if raw == "" || h.verifier == nil {
		return "", TierFree
	}
	claims, err := h.verifier.Verify(raw)
	if err != nil {
		if h.logger != nil {
			h.logger.Printf("WS token rejected | error=%v", err)
		}
		return "", TierFree
	}
	tier := Tier(claims.Tier)
	if !tier.Valid() {
		tier = TierFree
	}
	return claims.UserID, tier
}
