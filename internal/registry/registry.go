package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/yuchenfeng/TrustGate/internal/models"
)

// Service errors
var (
	ErrProjectNotFound = errors.New("project not found")
	ErrReviewNotFound  = errors.New("review not found")
	ErrInvalidRating   = errors.New("rating must be between 1 and 5")
	ErrContentTooLong  = errors.New("review content exceeds maximum length")
	ErrAddressRequired = errors.New("reviewer address is required")
	ErrProjectRequired = errors.New("project id or slug is required")
)

// MaxContentLength bounds review free text.
const MaxContentLength = 4000

// Service handles project, review and reviewer persistence
type Service struct {
	db *pgxpool.Pool
}

// NewService creates a new registry service
func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

const projectColumns = `id, slug, name, category, chain_address, average_rating, review_count, created_at, updated_at`

func scanProject(row pgx.Row) (*models.Project, error) {
	var p models.Project
	err := row.Scan(
		&p.ID, &p.Slug, &p.Name, &p.Category, &p.ChainAddress,
		&p.AverageRating, &p.ReviewCount, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to scan project: %w", err)
	}
	return &p, nil
}

// GetProjectBySlug retrieves a project by its slug
func (s *Service) GetProjectBySlug(ctx context.Context, slug string) (*models.Project, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+projectColumns+` FROM projects WHERE slug = $1
	`, strings.ToLower(strings.TrimSpace(slug)))
	return scanProject(row)
}

// GetProjectByID retrieves a project by ID
func (s *Service) GetProjectByID(ctx context.Context, projectID uuid.UUID) (*models.Project, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+projectColumns+` FROM projects WHERE id = $1
	`, projectID)
	return scanProject(row)
}

const reviewColumns = `id, project_id, reviewer_address, rating, content, status, upvotes, downvotes, on_chain_proof_hash, ai_verified, ai_score, created_at`

func scanReviewRows(rows pgx.Rows) ([]models.Review, error) {
	var reviews []models.Review
	for rows.Next() {
		var r models.Review
		err := rows.Scan(
			&r.ID, &r.ProjectID, &r.ReviewerAddress, &r.Rating, &r.Content,
			&r.Status, &r.Upvotes, &r.Downvotes, &r.OnChainProofHash,
			&r.AIVerified, &r.AIScore, &r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		reviews = append(reviews, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reviews: %w", err)
	}
	return reviews, nil
}

// ListReviews retrieves the most recent reviews for a project
func (s *Service) ListReviews(ctx context.Context, projectID uuid.UUID, limit int) ([]models.Review, error) {
	if limit < 1 || limit > 100 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+reviewColumns+`
		FROM reviews
		WHERE project_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reviews: %w", err)
	}
	defer rows.Close()
	return scanReviewRows(rows)
}

// ListAllReviews retrieves every review for a project, regardless of
// status. Used by the scoring engine, which needs the full population to
// compute verified, active and recency fractions.
func (s *Service) ListAllReviews(ctx context.Context, projectID uuid.UUID) ([]models.Review, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+reviewColumns+`
		FROM reviews
		WHERE project_id = $1
		ORDER BY created_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reviews: %w", err)
	}
	defer rows.Close()
	return scanReviewRows(rows)
}

// GetReview retrieves a review by ID
func (s *Service) GetReview(ctx context.Context, reviewID uuid.UUID) (*models.Review, error) {
	var r models.Review
	err := s.db.QueryRow(ctx, `
		SELECT `+reviewColumns+` FROM reviews WHERE id = $1
	`, reviewID).Scan(
		&r.ID, &r.ProjectID, &r.ReviewerAddress, &r.Rating, &r.Content,
		&r.Status, &r.Upvotes, &r.Downvotes, &r.OnChainProofHash,
		&r.AIVerified, &r.AIScore, &r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReviewNotFound
		}
		return nil, fmt.Errorf("failed to get review: %w", err)
	}
	return &r, nil
}

// CreateReviewRequest carries the inputs for a new review
type CreateReviewRequest struct {
	ProjectID       uuid.UUID
	ReviewerAddress string
	Rating          int
	Content         string
}

// CreateReview persists a review as active and recomputes the project's
// aggregates inside the same transaction. The average is always recomputed
// from the active rows, so concurrent submissions cannot produce a stale
// incremental value.
func (s *Service) CreateReview(ctx context.Context, req *CreateReviewRequest) (*models.Review, error) {
	if req.Rating < 1 || req.Rating > 5 {
		return nil, ErrInvalidRating
	}
	if len(req.Content) > MaxContentLength {
		return nil, ErrContentTooLong
	}
	if req.ReviewerAddress == "" {
		return nil, ErrAddressRequired
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Verify project exists
	var exists bool
	err = tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM projects WHERE id = $1)`, req.ProjectID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check project existence: %w", err)
	}
	if !exists {
		return nil, ErrProjectNotFound
	}

	reviewID := uuid.New()
	_, err = tx.Exec(ctx, `
		INSERT INTO reviews (id, project_id, reviewer_address, rating, content, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, reviewID, req.ProjectID, req.ReviewerAddress, req.Rating, req.Content, models.ReviewStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to create review: %w", err)
	}

	// Upsert reviewer bookkeeping
	_, err = tx.Exec(ctx, `
		INSERT INTO reviewers (address, reputation, review_count)
		VALUES ($1, 0, 1)
		ON CONFLICT (address) DO UPDATE SET review_count = reviewers.review_count + 1
	`, req.ReviewerAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert reviewer: %w", err)
	}

	if err := recomputeAggregates(ctx, tx, req.ProjectID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return s.GetReview(ctx, reviewID)
}

// SetReviewStatus flags or reactivates a review and recomputes the project's
// aggregates so non-active reviews stop contributing to the average.
func (s *Service) SetReviewStatus(ctx context.Context, reviewID uuid.UUID, status models.ReviewStatus) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var projectID uuid.UUID
	err = tx.QueryRow(ctx, `
		UPDATE reviews SET status = $1 WHERE id = $2 RETURNING project_id
	`, status, reviewID).Scan(&projectID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrReviewNotFound
		}
		return fmt.Errorf("failed to update review status: %w", err)
	}

	if err := recomputeAggregates(ctx, tx, projectID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// recomputeAggregates rewrites the project's average rating and review count
// from the active review rows.
func recomputeAggregates(ctx context.Context, tx pgx.Tx, projectID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE projects SET
			average_rating = COALESCE((
				SELECT AVG(rating)::numeric(3,2) FROM reviews
				WHERE project_id = $1 AND status = 'active'
			), 0),
			review_count = (
				SELECT COUNT(*) FROM reviews
				WHERE project_id = $1 AND status = 'active'
			),
			updated_at = NOW()
		WHERE id = $1
	`, projectID)
	if err != nil {
		return fmt.Errorf("failed to recompute aggregates: %w", err)
	}
	return nil
}

// MarkAIVerified flips the review's AI verification flag, but only if no
// earlier request already did. Returns true when this call won the race.
func (s *Service) MarkAIVerified(ctx context.Context, reviewID uuid.UUID, score int) (bool, error) {
	result, err := s.db.Exec(ctx, `
		UPDATE reviews SET ai_verified = TRUE, ai_score = $2
		WHERE id = $1 AND ai_verified = FALSE
	`, reviewID, score)
	if err != nil {
		return false, fmt.Errorf("failed to mark review verified: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// SetUsageProof records the on-chain proof hash, only if still unset.
// Returns true when this call performed the write; the loser of a
// concurrent race gets false and should read the winner's value.
func (s *Service) SetUsageProof(ctx context.Context, reviewID uuid.UUID, proofHash string) (bool, error) {
	result, err := s.db.Exec(ctx, `
		UPDATE reviews SET on_chain_proof_hash = $2
		WHERE id = $1 AND (on_chain_proof_hash IS NULL OR on_chain_proof_hash = '')
	`, reviewID, proofHash)
	if err != nil {
		return false, fmt.Errorf("failed to set usage proof: %w", err)
	}
	return result.RowsAffected() > 0, nil
}
