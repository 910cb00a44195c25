package models

import (
	"time"

	"github.com/google/uuid"
)

// ReviewStatus represents the status of a review
type ReviewStatus string

const (
	ReviewStatusActive  ReviewStatus = "active"
	ReviewStatusPending ReviewStatus = "pending"
	ReviewStatusFlagged ReviewStatus = "flagged"
)

// Review represents one rating+text submission for a project.
// A review with status other than active never contributes to the
// project's average rating.
type Review struct {
	ID               uuid.UUID    `json:"id" db:"id"`
	ProjectID        uuid.UUID    `json:"project_id" db:"project_id"`
	ReviewerAddress  string       `json:"reviewer_address" db:"reviewer_address"`
	Rating           int          `json:"rating" db:"rating"`
	Content          string       `json:"content" db:"content"`
	Status           ReviewStatus `json:"status" db:"status"`
	Upvotes          int          `json:"upvotes" db:"upvotes"`
	Downvotes        int          `json:"downvotes" db:"downvotes"`
	OnChainProofHash *string      `json:"on_chain_proof_hash,omitempty" db:"on_chain_proof_hash"`
	AIVerified       bool         `json:"ai_verified" db:"ai_verified"`
	AIScore          *int         `json:"ai_score,omitempty" db:"ai_score"`
	CreatedAt        time.Time    `json:"created_at" db:"created_at"`
}

// Verified reports whether the review carries an on-chain usage proof.
// This is the "verified review" input to the on-chain activity sub-score,
// distinct from the AI verdict.
func (r *Review) Verified() bool {
	return r.OnChainProofHash != nil && *r.OnChainProofHash != ""
}
