package services

import (
	"context"
	"fmt"
	"time"

	"moment-backend/internal/models"
	"moment-backend/internal/repository"

	"github.com/google/uuid"
)

// CoupleService handles couple-related business logic
type CoupleService struct {
	coupleRepo *repository.CoupleRepository
	userRepo   *repository.UserRepository
}

// NewCoupleService creates a new couple service
func NewCoupleService(coupleRepo *repository.CoupleRepository, userRepo *repository.UserRepository) *CoupleService {
	return &CoupleService{
		coupleRepo: coupleRepo,
		userRepo:   userRepo,
	}
}

// CreateCouple pairs two users by the partner's code
func (s *CoupleService) CreateCouple(ctx context.Context, userAID, partnerCode string) (*models.Couple, error) {
	if len(partnerCode) != codeLength {
		return nil, fmt.Errorf("partner code must be %d characters", codeLength)
	}

	partnerUser, err := s.userRepo.GetByCode(ctx, partnerCode)
	if err != nil {
		return nil, fmt.Errorf("partner not found: %w", err)
	}

	userBID := partnerUser.ID

	if userAID == userBID {
		return nil, fmt.Errorf("cannot create couple with yourself")
	}

	hasCouple, err := s.coupleRepo.UserHasCouple(ctx, userAID)
	if err != nil {
		return nil, fmt.Errorf("failed to check if user has couple: %w", err)
	}
	if hasCouple {
		return nil, fmt.Errorf("user is already in a couple")
	}

	partnerHasCouple, err := s.coupleRepo.UserHasCouple(ctx, userBID)
	if err != nil {
		return nil, fmt.Errorf("failed to check if partner has couple: %w", err)
	}
	if partnerHasCouple {
		return nil, fmt.Errorf("partner is already in a couple")
	}

	// user_a_id is the lexicographically smaller ID so the pairing is canonical
	if userAID > userBID {
		userAID, userBID = userBID, userAID
	}

	couple := &models.Couple{
		ID:        uuid.New().String(),
		UserAID:   userAID,
		UserBID:   userBID,
		CreatedAt: time.Now(),
	}

	if err := s.coupleRepo.Create(ctx, couple); err != nil {
		return nil, fmt.Errorf("failed to create couple: %w", err)
	}

	return couple, nil
}

// DeleteCouple unpairs a couple if the user is a member
func (s *CoupleService) DeleteCouple(ctx context.Context, coupleID, userID string) error {
	couple, err := s.coupleRepo.GetByID(ctx, coupleID)
	if err != nil {
		return fmt.Errorf("couple not found: %w", err)
	}

	if !couple.HasMember(userID) {
		return fmt.Errorf("user is not a member of this couple")
	}

	if err := s.coupleRepo.Delete(ctx, coupleID); err != nil {
		return fmt.Errorf("failed to delete couple: %w", err)
	}

	return nil
}

// GetCoupleByID gets a couple by ID
func (s *CoupleService) GetCoupleByID(ctx context.Context, coupleID string) (*models.Couple, error) {
	return s.coupleRepo.GetByID(ctx, coupleID)
}

// GetCoupleByUserID gets the couple for a user
func (s *CoupleService) GetCoupleByUserID(ctx context.Context, userID string) (*models.Couple, error) {
	return s.coupleRepo.GetByUserID(ctx, userID)
}
