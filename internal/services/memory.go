package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"moment-backend/internal/models"
	"moment-backend/internal/repository"

	"github.com/google/uuid"
)

const maxTitleLen = 200

// MemoryService handles memory-related business logic
type MemoryService struct {
	memoryRepo *repository.MemoryRepository
	coupleRepo *repository.CoupleRepository
}

// NewMemoryService creates a new memory service
func NewMemoryService(memoryRepo *repository.MemoryRepository, coupleRepo *repository.CoupleRepository) *MemoryService {
	return &MemoryService{
		memoryRepo: memoryRepo,
		coupleRepo: coupleRepo,
	}
}

// CreateMemory creates a memory scoped to the author's couple
func (s *MemoryService) CreateMemory(ctx context.Context, authorID, title string, description *string) (*models.Memory, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("title is required")
	}
	if len(title) > maxTitleLen {
		return nil, fmt.Errorf("title must be at most %d characters", maxTitleLen)
	}

	couple, err := s.coupleRepo.GetByUserID(ctx, authorID)
	if err != nil {
		return nil, fmt.Errorf("user is not in a couple: %w", err)
	}

	memory := &models.Memory{
		ID:          uuid.New().String(),
		CoupleID:    couple.ID,
		AuthorID:    authorID,
		Title:       title,
		Description: description,
		CreatedAt:   time.Now(),
	}

	if err := s.memoryRepo.Create(ctx, memory); err != nil {
		return nil, fmt.Errorf("failed to create memory: %w", err)
	}

	return memory, nil
}

// GetMemoriesByUser lists the user's couple's memories with pagination
func (s *MemoryService) GetMemoriesByUser(ctx context.Context, userID string, limit, offset int) ([]*models.Memory, int, error) {
	couple, err := s.coupleRepo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, 0, fmt.Errorf("user is not in a couple: %w", err)
	}

	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	return s.memoryRepo.GetByCoupleID(ctx, couple.ID, limit, offset)
}
