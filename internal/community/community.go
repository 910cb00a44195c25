package community

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Signal is the aggregate community evidence for a project. Zero reviews
// yields all zeros, by contract.
type Signal struct {
	TotalUpvotes          int     `json:"total_upvotes"`
	TotalReviews          int     `json:"total_reviews"`
	AvgReviewerReputation float64 `json:"avg_reviewer_reputation"`
}

// Reader aggregates stored review and reviewer facts. Pure read, no
// network calls.
type Reader struct {
	db *pgxpool.Pool
}

// NewReader creates a community signal reader
func NewReader(db *pgxpool.Pool) *Reader {
	return &Reader{db: db}
}

// ReadSignal aggregates upvotes, review count and reviewer reputation
// over the project's active reviews.
func (r *Reader) ReadSignal(ctx context.Context, projectID uuid.UUID) (*Signal, error) {
	var s Signal
	err := r.db.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(rv.upvotes), 0),
			COUNT(rv.id),
			COALESCE(AVG(rw.reputation), 0)
		FROM reviews rv
		LEFT JOIN reviewers rw ON rw.address = rv.reviewer_address
		WHERE rv.project_id = $1 AND rv.status = 'active'
	`, projectID).Scan(&s.TotalUpvotes, &s.TotalReviews, &s.AvgReviewerReputation)
	if err != nil {
		return nil, fmt.Errorf("failed to read community signal: %w", err)
	}
	return &s, nil
}
