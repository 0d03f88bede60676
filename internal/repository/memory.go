package repository

import (
	"context"
	"fmt"

	"moment-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MemoryRepository handles database operations for memories
type MemoryRepository struct {
	db *pgxpool.Pool
}

// NewMemoryRepository creates a new memory repository
func NewMemoryRepository(db *pgxpool.Pool) *MemoryRepository {
	return &MemoryRepository{db: db}
}

// Create creates a new memory
func (r *MemoryRepository) Create(ctx context.Context, memory *models.Memory) error {
	query := `
		INSERT INTO memories (id, couple_id, author_id, title, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Exec(ctx, query,
		memory.ID, memory.CoupleID, memory.AuthorID, memory.Title, memory.Description, memory.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create memory: %w", err)
	}
	return nil
}

// GetByID retrieves a memory by ID
func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*models.Memory, error) {
	query := `
		SELECT id, couple_id, author_id, title, description, created_at
		FROM memories
		WHERE id = $1
	`
	var memory models.Memory
	err := r.db.QueryRow(ctx, query, id).Scan(
		&memory.ID, &memory.CoupleID, &memory.AuthorID,
		&memory.Title, &memory.Description, &memory.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("memory not found: %w", err)
		}
		return nil, fmt.Errorf("failed to get memory: %w", err)
	}
	return &memory, nil
}

// GetByCoupleID retrieves memories for a couple with pagination
func (r *MemoryRepository) GetByCoupleID(ctx context.Context, coupleID string, limit, offset int) ([]*models.Memory, int, error) {
	countQuery := `SELECT COUNT(*) FROM memories WHERE couple_id = $1`
	var total int
	err := r.db.QueryRow(ctx, countQuery, coupleID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count memories: %w", err)
	}

	query := `
		SELECT id, couple_id, author_id, title, description, created_at
		FROM memories
		WHERE couple_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.Query(ctx, query, coupleID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get memories: %w", err)
	}
	defer rows.Close()

	var memories []*models.Memory
	for rows.Next() {
		var memory models.Memory
		err := rows.Scan(
			&memory.ID, &memory.CoupleID, &memory.AuthorID,
			&memory.Title, &memory.Description, &memory.CreatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan memory: %w", err)
		}
		memories = append(memories, &memory)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating memories: %w", err)
	}

	return memories, total, nil
}
