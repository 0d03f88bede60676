package handlers

import (
	"encoding/json"
	"net/http"

	"moment-backend/internal/middleware"
	"moment-backend/internal/services"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // clients are native apps, not browsers
	},
}

// WebSocketHandler handles realtime channel subscriptions. A connection is
// authenticated with the JWT from the query string and subscribed to the
// caller's couple channel after membership is verified; lifecycle events for
// that couple are then pushed over the socket.
type WebSocketHandler struct {
	hub           *services.WSHub
	userService   *services.UserService
	coupleService *services.CoupleService
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(
	hub *services.WSHub,
	userService *services.UserService,
	coupleService *services.CoupleService,
) *WebSocketHandler {
	return &WebSocketHandler{
		hub:           hub,
		userService:   userService,
		coupleService: coupleService,
	}
}

// HandleWebSocket handles GET /ws
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.ValidateWebSocketToken(r.URL.Query().Get("token"), h.userService)
	if err != nil {
		respondError(w, "invalid token", http.StatusUnauthorized)
		return
	}

	// Channel authorization: the subscriber may only join the channel of
	// the couple they belong to.
	ctx := r.Context()
	coupleID := ""
	partnerID := ""
	if couple, err := h.coupleService.GetCoupleByUserID(ctx, userID); err == nil {
		coupleID = couple.ID
		partnerID = couple.PartnerOf(userID)
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	h.hub.Register(userID, coupleID, conn)
	defer h.hub.Unregister(userID)

	if partnerID != "" {
		h.hub.NotifyPartnerStatus(partnerID, true)
		defer h.hub.NotifyPartnerStatus(partnerID, false)
	}

	statusMsg := services.Envelope{
		Type: "channel_status",
		Data: map[string]any{
			"subscribed":     coupleID != "",
			"couple_id":      coupleID,
			"partner_online": partnerID != "" && h.hub.IsOnline(partnerID),
		},
	}
	if err := h.hub.SendToUser(userID, statusMsg); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to send channel_status message")
	}

	log.Info().Str("user_id", userID).Msg("WebSocket connection established")

	// The channel is push-only; the read loop exists to detect disconnects
	// and answer pings.
	for {
		_, messageBytes, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("user_id", userID).Msg("WebSocket error")
			}
			break
		}

		var msg services.Envelope
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			h.sendError(userID, "Invalid message format")
			continue
		}

		switch msg.Type {
		case "ping":
			if err := h.hub.SendToUser(userID, services.Envelope{Type: "pong"}); err != nil {
				log.Debug().Err(err).Str("user_id", userID).Msg("Failed to answer ping")
			}
		default:
			h.sendError(userID, "Unknown message type")
		}
	}
}

// sendError sends an error envelope to a connected user
func (h *WebSocketHandler) sendError(userID, message string) {
	env := services.Envelope{
		Type: "error",
		Data: map[string]string{"message": message},
	}
	if err := h.hub.SendToUser(userID, env); err != nil {
		log.Debug().Err(err).Str("user_id", userID).Msg("Failed to send error message")
	}
}
