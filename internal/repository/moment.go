package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"moment-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDuplicatePendingMoment is returned by Create when the couple already has
// a Moment in PENDING_PARTNER. Enforced by the partial unique index
// moments_one_pending_per_couple.
var ErrDuplicatePendingMoment = errors.New("couple already has a pending moment")

// MomentRepository handles database operations for moments.
//
// All transitions out of PENDING_PARTNER are conditional updates guarded by
// `WHERE status = 'PENDING_PARTNER'`; zero rows affected means another writer
// (the partner's request or the sweeper) already moved the row. The status
// column is the single point of mutual exclusion for a Moment.
type MomentRepository struct {
	db *pgxpool.Pool
}

// NewMomentRepository creates a new moment repository
func NewMomentRepository(db *pgxpool.Pool) *MomentRepository {
	return &MomentRepository{db: db}
}

const momentColumns = `
	id, couple_id, initiator_id, participant_id, memory_id,
	initiator_image, partner_image, combined_image,
	status, expires_at, created_at, updated_at
`

func scanMoment(row pgx.Row) (*models.Moment, error) {
	var m models.Moment
	err := row.Scan(
		&m.ID, &m.CoupleID, &m.InitiatorID, &m.ParticipantID, &m.MemoryID,
		&m.InitiatorImage, &m.PartnerImage, &m.CombinedImage,
		&m.Status, &m.ExpiresAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Create inserts a new Moment in PENDING_PARTNER. Returns
// ErrDuplicatePendingMoment if the couple already has one open.
func (r *MomentRepository) Create(ctx context.Context, m *models.Moment) error {
	query := `
		INSERT INTO moments (` + momentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.Exec(ctx, query,
		m.ID, m.CoupleID, m.InitiatorID, m.ParticipantID, m.MemoryID,
		m.InitiatorImage, m.PartnerImage, m.CombinedImage,
		m.Status, m.ExpiresAt, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicatePendingMoment
		}
		return fmt.Errorf("failed to create moment: %w", err)
	}
	return nil
}

// GetByID retrieves a moment by ID. Returns (nil, nil) when no such row exists.
func (r *MomentRepository) GetByID(ctx context.Context, id string) (*models.Moment, error) {
	query := `SELECT ` + momentColumns + ` FROM moments WHERE id = $1`
	m, err := scanMoment(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get moment: %w", err)
	}
	return m, nil
}

// GetActiveByCouple retrieves the couple's current PENDING_PARTNER moment.
// Returns (nil, nil) when the couple has no open moment.
func (r *MomentRepository) GetActiveByCouple(ctx context.Context, coupleID string) (*models.Moment, error) {
	query := `
		SELECT ` + momentColumns + `
		FROM moments
		WHERE couple_id = $1 AND status = 'PENDING_PARTNER'
		LIMIT 1
	`
	m, err := scanMoment(r.db.QueryRow(ctx, query, coupleID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active moment: %w", err)
	}
	return m, nil
}

// Complete transitions a pending moment to COMPLETED, recording the
// participant and both new image keys. Returns false if the moment was no
// longer PENDING_PARTNER, i.e. this writer lost the race.
func (r *MomentRepository) Complete(ctx context.Context, id, participantID, partnerImage, combinedImage string, now time.Time) (bool, error) {
	query := `
		UPDATE moments
		SET status = 'COMPLETED', participant_id = $2, partner_image = $3,
		    combined_image = $4, updated_at = $5
		WHERE id = $1 AND status = 'PENDING_PARTNER'
	`
	result, err := r.db.Exec(ctx, query, id, participantID, partnerImage, combinedImage, now)
	if err != nil {
		return false, fmt.Errorf("failed to complete moment: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// MarkFailed transitions a pending moment to FAILED (late completion attempt).
// Returns false if the moment was no longer PENDING_PARTNER.
func (r *MomentRepository) MarkFailed(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
		UPDATE moments
		SET status = 'FAILED', updated_at = $2
		WHERE id = $1 AND status = 'PENDING_PARTNER'
	`
	result, err := r.db.Exec(ctx, query, id, now)
	if err != nil {
		return false, fmt.Errorf("failed to mark moment failed: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// ExpireDue transitions every pending moment whose deadline has passed to
// EXPIRED and returns how many rows were updated. The status guard makes
// repeated and concurrent sweeps process each moment at most once.
func (r *MomentRepository) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	query := `
		UPDATE moments
		SET status = 'EXPIRED', updated_at = $1
		WHERE status = 'PENDING_PARTNER' AND expires_at < $1
	`
	result, err := r.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire moments: %w", err)
	}
	return int(result.RowsAffected()), nil
}
