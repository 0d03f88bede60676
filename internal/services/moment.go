package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"moment-backend/internal/imaging"
	"moment-backend/internal/models"
	"moment-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Domain errors surfaced by the lifecycle controller. Handlers translate
// these into status codes; none of them leaves partial state behind except
// ErrMomentExpired, which moves the Moment to FAILED as part of the rejection.
var (
	ErrNoCouple            = errors.New("user is not in a couple")
	ErrMomentNotFound      = errors.New("moment not found")
	ErrMomentNotPending    = errors.New("moment is no longer pending")
	ErrMomentExpired       = errors.New("moment invitation expired")
	ErrSelfComplete        = errors.New("initiator cannot complete their own moment")
	ErrPendingMomentExists = errors.New("couple already has a pending moment")
	ErrMemoryNotFound      = errors.New("memory not found")
)

// MomentStore is the persistence contract for Moments. Complete and
// MarkFailed are conditional on the row still being PENDING_PARTNER and
// report whether this writer won; ExpireDue is the sweeper's set-based
// transition.
type MomentStore interface {
	Create(ctx context.Context, m *models.Moment) error
	GetByID(ctx context.Context, id string) (*models.Moment, error)
	GetActiveByCouple(ctx context.Context, coupleID string) (*models.Moment, error)
	Complete(ctx context.Context, id, participantID, partnerImage, combinedImage string, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, id string, now time.Time) (bool, error)
	ExpireDue(ctx context.Context, now time.Time) (int, error)
}

// CoupleStore resolves the caller's couple.
type CoupleStore interface {
	GetByUserID(ctx context.Context, userID string) (*models.Couple, error)
}

// UserStore resolves public profiles and push tokens.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// MemoryStore checks that a linked memory exists and belongs to the couple.
type MemoryStore interface {
	GetByID(ctx context.Context, id string) (*models.Memory, error)
}

// ImageStore persists image artifacts under opaque keys.
type ImageStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

// Presence reports whether a user has a live realtime connection.
type Presence interface {
	IsOnline(userID string) bool
}

// MomentView is a Moment enriched with the initiator's public profile and
// resolved artifact URLs.
type MomentView struct {
	models.Moment
	Initiator         *models.PublicUser `json:"initiator,omitempty"`
	InitiatorImageURL string             `json:"initiator_image_url,omitempty"`
	PartnerImageURL   string             `json:"partner_image_url,omitempty"`
	CombinedImageURL  string             `json:"combined_image_url,omitempty"`
}

// MomentService orchestrates the Moment lifecycle: initiate, complete,
// expire. All dependencies are injected so the state machine is testable
// with in-memory fakes.
type MomentService struct {
	moments  MomentStore
	couples  CoupleStore
	users    UserStore
	memories MemoryStore
	images   ImageStore
	events   EventPublisher
	presence Presence
	push     *PushService // nil when push is not configured

	window time.Duration
	now    func() time.Time
}

// NewMomentService creates a new moment service. push may be nil.
func NewMomentService(
	moments MomentStore,
	couples CoupleStore,
	users UserStore,
	memories MemoryStore,
	images ImageStore,
	events EventPublisher,
	presence Presence,
	push *PushService,
	window time.Duration,
) *MomentService {
	return &MomentService{
		moments:  moments,
		couples:  couples,
		users:    users,
		memories: memories,
		images:   images,
		events:   events,
		presence: presence,
		push:     push,
		window:   window,
		now:      time.Now,
	}
}

// Initiate opens a new Moment for the caller's couple: persists the
// initiator's image, creates the row in PENDING_PARTNER with a fixed
// deadline, and announces the invitation on the couple's channel. At most
// one Moment per couple may be pending; a second initiation returns
// ErrPendingMomentExists.
func (s *MomentService) Initiate(ctx context.Context, initiatorID string, memoryID *string, imageData []byte) (*MomentView, error) {
	couple, err := s.couples.GetByUserID(ctx, initiatorID)
	if err != nil {
		return nil, ErrNoCouple
	}

	if memoryID != nil {
		memory, err := s.memories.GetByID(ctx, *memoryID)
		if err != nil || memory.CoupleID != couple.ID {
			return nil, ErrMemoryNotFound
		}
	}

	now := s.now()
	momentID := uuid.New().String()
	initiatorKey := fmt.Sprintf("moments/%s/%s/initiator.jpg", couple.ID, momentID)

	if err := s.images.Put(ctx, initiatorKey, imageData, "image/jpeg"); err != nil {
		return nil, fmt.Errorf("failed to store initiator image: %w", err)
	}

	moment := &models.Moment{
		ID:             momentID,
		CoupleID:       couple.ID,
		InitiatorID:    initiatorID,
		MemoryID:       memoryID,
		InitiatorImage: initiatorKey,
		Status:         models.MomentPendingPartner,
		ExpiresAt:      now.Add(s.window),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.moments.Create(ctx, moment); err != nil {
		s.discard(initiatorKey)
		if errors.Is(err, repository.ErrDuplicatePendingMoment) {
			return nil, ErrPendingMomentExists
		}
		return nil, fmt.Errorf("failed to create moment: %w", err)
	}

	initiator := s.publicProfile(ctx, initiatorID)

	s.events.Publish(couple.ID, EventMomentInitiated, MomentInitiatedEvent{
		MomentID:  moment.ID,
		Initiator: initiator,
		ExpiresAt: moment.ExpiresAt,
	})
	s.pushInvite(ctx, couple, initiatorID, initiator)

	log.Info().
		Str("moment_id", moment.ID).
		Str("couple_id", couple.ID).
		Str("initiator_id", initiatorID).
		Time("expires_at", moment.ExpiresAt).
		Msg("Moment initiated")

	return s.view(moment, initiator), nil
}

// Complete finishes a pending Moment: validates deadline and identity,
// builds the combined artifact, persists the partner and combined images,
// and flips the row to COMPLETED with a conditional update. Exactly one of
// two racing completions can win; the loser gets ErrMomentNotPending and
// its uploaded artifacts are discarded.
//
// A completion attempt past the deadline moves the Moment to FAILED and
// returns ErrMomentExpired.
func (s *MomentService) Complete(ctx context.Context, participantID, momentID string, imageData []byte) (*MomentView, error) {
	couple, err := s.couples.GetByUserID(ctx, participantID)
	if err != nil {
		return nil, ErrNoCouple
	}

	moment, err := s.moments.GetByID(ctx, momentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load moment: %w", err)
	}
	if moment == nil || moment.CoupleID != couple.ID {
		return nil, ErrMomentNotFound
	}
	if moment.Status != models.MomentPendingPartner {
		return nil, ErrMomentNotPending
	}

	now := s.now()
	if moment.Expired(now) {
		// The rejection itself finalizes the Moment. If the sweeper got
		// there first the conditional update is a no-op.
		if _, err := s.moments.MarkFailed(ctx, moment.ID, now); err != nil {
			log.Error().Err(err).Str("moment_id", moment.ID).Msg("Failed to mark expired moment failed")
		}
		return nil, ErrMomentExpired
	}

	if participantID == moment.InitiatorID {
		return nil, ErrSelfComplete
	}

	initiatorData, err := s.images.Get(ctx, moment.InitiatorImage)
	if err != nil {
		return nil, fmt.Errorf("failed to load initiator image: %w", err)
	}

	combinedData, err := imaging.Combine(initiatorData, imageData)
	if err != nil {
		return nil, fmt.Errorf("failed to combine images: %w", err)
	}

	// Keys are unique per attempt, so two racing completions never write
	// to (or compensate-delete) each other's objects.
	attemptID := uuid.New().String()
	partnerKey := fmt.Sprintf("moments/%s/%s/partner-%s.jpg", couple.ID, moment.ID, attemptID)
	combinedKey := fmt.Sprintf("moments/%s/%s/combined-%s.jpg", couple.ID, moment.ID, attemptID)

	if err := s.images.Put(ctx, partnerKey, imageData, "image/jpeg"); err != nil {
		return nil, fmt.Errorf("failed to store partner image: %w", err)
	}
	if err := s.images.Put(ctx, combinedKey, combinedData, "image/jpeg"); err != nil {
		s.discard(partnerKey)
		return nil, fmt.Errorf("failed to store combined image: %w", err)
	}

	won, err := s.moments.Complete(ctx, moment.ID, participantID, partnerKey, combinedKey, now)
	if err != nil {
		return nil, fmt.Errorf("failed to update moment: %w", err)
	}
	if !won {
		// Lost the race against the sweeper or a concurrent completion:
		// the row is already terminal, so compensate the orphaned uploads.
		s.discard(partnerKey)
		s.discard(combinedKey)
		return nil, ErrMomentNotPending
	}

	moment.Status = models.MomentCompleted
	moment.ParticipantID = &participantID
	moment.PartnerImage = &partnerKey
	moment.CombinedImage = &combinedKey
	moment.UpdatedAt = now

	s.events.Publish(couple.ID, EventMomentCompleted, MomentCompletedEvent{
		MomentID:         moment.ID,
		CombinedImageURL: s.images.URL(combinedKey),
	})

	log.Info().
		Str("moment_id", moment.ID).
		Str("couple_id", couple.ID).
		Str("participant_id", participantID).
		Msg("Moment completed")

	return s.view(moment, s.publicProfile(ctx, moment.InitiatorID)), nil
}

// ActiveForCouple returns the caller's couple's current pending Moment, or
// nil when there is none. Read-only.
func (s *MomentService) ActiveForCouple(ctx context.Context, userID string) (*MomentView, error) {
	couple, err := s.couples.GetByUserID(ctx, userID)
	if err != nil {
		return nil, ErrNoCouple
	}

	moment, err := s.moments.GetActiveByCouple(ctx, couple.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load active moment: %w", err)
	}
	if moment == nil {
		return nil, nil
	}

	return s.view(moment, s.publicProfile(ctx, moment.InitiatorID)), nil
}

// ExpireDue transitions every pending Moment past its deadline to EXPIRED
// and returns how many were processed. Safe to call repeatedly and
// concurrently: each Moment leaves PENDING_PARTNER at most once.
func (s *MomentService) ExpireDue(ctx context.Context) (int, error) {
	count, err := s.moments.ExpireDue(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to expire moments: %w", err)
	}
	if count > 0 {
		log.Info().Int("processed_count", count).Msg("Expired pending moments")
	}
	return count, nil
}

func (s *MomentService) publicProfile(ctx context.Context, userID string) *models.PublicUser {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to load user profile")
		return &models.PublicUser{ID: userID}
	}
	return user.Public()
}

// pushInvite sends an APNs alert to the partner when they have no live
// socket to receive the channel event.
func (s *MomentService) pushInvite(ctx context.Context, couple *models.Couple, initiatorID string, initiator *models.PublicUser) {
	if s.push == nil {
		return
	}
	partnerID := couple.PartnerOf(initiatorID)
	if partnerID == "" || s.presence.IsOnline(partnerID) {
		return
	}
	partner, err := s.users.GetByID(ctx, partnerID)
	if err != nil || partner.PushToken == nil {
		return
	}
	go s.push.SendMomentInvite(*partner.PushToken, initiator.Name)
}

// discard best-effort deletes an artifact that no committed Moment state
// references.
func (s *MomentService) discard(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.images.Delete(ctx, key); err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to delete orphaned artifact")
	}
}

func (s *MomentService) view(m *models.Moment, initiator *models.PublicUser) *MomentView {
	v := &MomentView{
		Moment:            *m,
		Initiator:         initiator,
		InitiatorImageURL: s.images.URL(m.InitiatorImage),
	}
	if m.PartnerImage != nil {
		v.PartnerImageURL = s.images.URL(*m.PartnerImage)
	}
	if m.CombinedImage != nil {
		v.CombinedImageURL = s.images.URL(*m.CombinedImage)
	}
	return v
}
