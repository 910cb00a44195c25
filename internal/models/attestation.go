package models

import (
	"time"

	"github.com/google/uuid"
)

// AttestationRecord is the local audit copy of an append-only log entry
// recording a completed review verification. Immutable once written;
// at most one per review.
type AttestationRecord struct {
	ID          uuid.UUID `json:"id" db:"id"`
	ReviewID    uuid.UUID `json:"review_id" db:"review_id"`
	ContentHash string    `json:"content_hash" db:"content_hash"`
	Score       int       `json:"score" db:"score"`
	Verdict     string    `json:"verdict" db:"verdict"`
	Topic       string    `json:"topic" db:"topic"`
	Sequence    int64     `json:"sequence" db:"sequence"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
