package services

import (
	"fmt"

	appconfig "moment-backend/internal/config"

	"github.com/rs/zerolog/log"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

// PushService delivers APNs alerts to a partner's device when they have no
// live websocket. Best-effort: failures are logged, never surfaced.
type PushService struct {
	client *apns2.Client
	topic  string
}

// NewPushService creates a push service from the APNs config section.
// Returns (nil, nil) when push is not configured.
func NewPushService(cfg appconfig.APNsConfig) (*PushService, error) {
	if cfg.KeyFile == "" {
		return nil, nil
	}

	authKey, err := token.AuthKeyFromFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load APNs key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	})
	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	return &PushService{client: client, topic: cfg.Topic}, nil
}

// SendMomentInvite pushes a "your partner started a Moment" alert.
func (p *PushService) SendMomentInvite(deviceToken, initiatorName string) {
	body := fmt.Sprintf("%s started a Moment. You have a few minutes to join!", initiatorName)
	notification := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       p.topic,
		Payload: payload.NewPayload().
			AlertTitle("Moment invitation").
			AlertBody(body).
			Sound("default"),
	}

	res, err := p.client.Push(notification)
	if err != nil {
		log.Error().Err(err).Msg("Failed to send moment invite push")
		return
	}
	if !res.Sent() {
		log.Warn().
			Int("status", res.StatusCode).
			Str("reason", res.Reason).
			Msg("Moment invite push rejected")
	}
}
