package services

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// client is one registered websocket connection.
type client struct {
	conn     *websocket.Conn
	coupleID string
	mu       sync.Mutex // serializes writes to conn
}

func (c *client) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// WSHub manages websocket connections, indexed by user and by couple channel.
// A user subscribes to their couple's private channel at connect time, after
// the handler has verified membership.
type WSHub struct {
	mu      sync.RWMutex
	byUser  map[string]*client
	couples map[string]map[string]*client // coupleID -> userID -> client
}

// NewWSHub creates a new websocket hub
func NewWSHub() *WSHub {
	return &WSHub{
		byUser:  make(map[string]*client),
		couples: make(map[string]map[string]*client),
	}
}

// Register registers a connection for a user. coupleID may be empty when the
// user is not paired yet. An existing connection for the user is replaced.
func (h *WSHub) Register(userID, coupleID string, conn *websocket.Conn) {
	h.mu.Lock()
	if existing, ok := h.byUser[userID]; ok {
		existing.conn.Close()
		h.removeLocked(userID, existing)
	}
	c := &client{conn: conn, coupleID: coupleID}
	h.byUser[userID] = c
	if coupleID != "" {
		if h.couples[coupleID] == nil {
			h.couples[coupleID] = make(map[string]*client)
		}
		h.couples[coupleID][userID] = c
	}
	h.mu.Unlock()

	log.Info().Str("user_id", userID).Str("couple_id", coupleID).Msg("WebSocket connection registered")
}

// Unregister removes a user's connection.
func (h *WSHub) Unregister(userID string) {
	h.mu.Lock()
	c, ok := h.byUser[userID]
	if ok {
		c.conn.Close()
		h.removeLocked(userID, c)
	}
	h.mu.Unlock()

	if ok {
		log.Info().Str("user_id", userID).Msg("WebSocket connection unregistered")
	}
}

func (h *WSHub) removeLocked(userID string, c *client) {
	delete(h.byUser, userID)
	if c.coupleID != "" {
		if members, ok := h.couples[c.coupleID]; ok {
			delete(members, userID)
			if len(members) == 0 {
				delete(h.couples, c.coupleID)
			}
		}
	}
}

// SendToUser sends an event envelope to one user.
func (h *WSHub) SendToUser(userID string, env Envelope) error {
	h.mu.RLock()
	c, exists := h.byUser[userID]
	h.mu.RUnlock()

	if !exists {
		return fmt.Errorf("user %s is not connected", userID)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := c.write(data); err != nil {
		h.Unregister(userID)
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// BroadcastToCouple delivers a pre-marshaled event to every member of the
// couple's channel currently connected to this instance.
func (h *WSHub) BroadcastToCouple(coupleID string, data []byte) {
	h.mu.RLock()
	members := make([]*client, 0, 2)
	userIDs := make([]string, 0, 2)
	for userID, c := range h.couples[coupleID] {
		members = append(members, c)
		userIDs = append(userIDs, userID)
	}
	h.mu.RUnlock()

	for i, c := range members {
		if err := c.write(data); err != nil {
			log.Error().Err(err).
				Str("user_id", userIDs[i]).
				Str("couple_id", coupleID).
				Msg("Failed to deliver channel event")
			h.Unregister(userIDs[i])
		}
	}
}

// IsOnline checks if a user has a live connection on this instance.
func (h *WSHub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, exists := h.byUser[userID]
	return exists
}

// NotifyPartnerStatus tells the partner that userID went online or offline.
func (h *WSHub) NotifyPartnerStatus(partnerID string, online bool) {
	if partnerID == "" {
		return
	}
	env := Envelope{
		Type: "partner_status",
		Data: map[string]bool{"online": online},
	}
	if err := h.SendToUser(partnerID, env); err != nil {
		log.Debug().Err(err).Str("user_id", partnerID).Msg("Partner not reachable for status update")
	}
}
