package models

import "time"

// Reviewer is a pseudonymous identity keyed by wallet address.
// Reputation is adjusted externally and only read here.
type Reviewer struct {
	Address     string    `json:"address" db:"address"`
	Reputation  int       `json:"reputation" db:"reputation"`
	ReviewCount int       `json:"review_count" db:"review_count"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
