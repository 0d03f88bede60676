package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"moment-backend/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Event types carried on a couple's private channel.
const (
	EventMomentInitiated = "moment:initiated"
	EventMomentCompleted = "moment:completed"
	EventCouplePaired    = "couple:paired"
	EventCoupleUnpaired  = "couple:unpaired"
)

// redisChannelPrefix namespaces couple channels on the relay.
const redisChannelPrefix = "couple."

// MomentInitiatedEvent is the payload of EventMomentInitiated.
type MomentInitiatedEvent struct {
	MomentID  string             `json:"moment_id"`
	Initiator *models.PublicUser `json:"initiator"`
	ExpiresAt time.Time          `json:"expires_at"`
}

// MomentCompletedEvent is the payload of EventMomentCompleted.
type MomentCompletedEvent struct {
	MomentID         string `json:"moment_id"`
	CombinedImageURL string `json:"combined_image_url"`
}

// CouplePairedEvent is the payload of EventCouplePaired.
type CouplePairedEvent struct {
	CoupleID  string    `json:"couple_id"`
	UserAID   string    `json:"user_a_id"`
	UserBID   string    `json:"user_b_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Envelope is the wire shape of every channel event.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// EventPublisher delivers lifecycle events to a couple's private channel.
// Delivery is best-effort: implementations log failures and never return them.
type EventPublisher interface {
	Publish(coupleID, eventType string, data any)
}

// Dispatcher routes domain events to the realtime transport. With a Redis
// client configured it publishes to the couple's Redis channel so every API
// instance (including this one, via the relay loop) fans the event out to its
// local sockets; without Redis it writes straight to the local hub.
type Dispatcher struct {
	hub   *WSHub
	redis *redis.Client
}

// NewDispatcher creates a dispatcher. rdb may be nil for single-instance mode.
func NewDispatcher(hub *WSHub, rdb *redis.Client) *Dispatcher {
	return &Dispatcher{hub: hub, redis: rdb}
}

// Publish sends one event to the couple's channel. Failures are logged and
// never retried; the state change that produced the event is already
// committed and must not be rolled back.
func (d *Dispatcher) Publish(coupleID, eventType string, data any) {
	payload, err := json.Marshal(Envelope{Type: eventType, Data: data})
	if err != nil {
		log.Error().Err(err).Str("type", eventType).Msg("Failed to marshal event")
		return
	}

	if d.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := d.redis.Publish(ctx, redisChannelPrefix+coupleID, payload).Err(); err != nil {
			log.Error().Err(err).
				Str("couple_id", coupleID).
				Str("type", eventType).
				Msg("Failed to publish event to relay")
		}
		return
	}

	d.hub.BroadcastToCouple(coupleID, payload)
}

// RunRelay consumes couple-channel events from Redis and fans them out to the
// local websocket hub. Blocks until ctx is canceled. No-op without Redis.
func (d *Dispatcher) RunRelay(ctx context.Context) {
	if d.redis == nil {
		return
	}

	pubsub := d.redis.PSubscribe(ctx, redisChannelPrefix+"*")
	defer pubsub.Close()

	log.Info().Msg("Event relay subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			coupleID := strings.TrimPrefix(msg.Channel, redisChannelPrefix)
			d.hub.BroadcastToCouple(coupleID, []byte(msg.Payload))
		}
	}
}
