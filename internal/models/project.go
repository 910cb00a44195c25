package models

import (
	"time"

	"github.com/google/uuid"
)

// Category represents the kind of entity a project is
type Category string

const (
	CategoryAgent        Category = "agent"
	CategoryDeFiProtocol Category = "defi-protocol"
	CategoryMerchant     Category = "merchant"
)

// Valid reports whether the category is one of the closed set.
func (c Category) Valid() bool {
	switch c {
	case CategoryAgent, CategoryDeFiProtocol, CategoryMerchant:
		return true
	}
	return false
}

// Project represents a reviewable entity. AverageRating and ReviewCount are
// aggregates recomputed from active review rows, never patched incrementally.
type Project struct {
	ID            uuid.UUID `json:"id" db:"id"`
	Slug          string    `json:"slug" db:"slug"`
	Name          string    `json:"name" db:"name"`
	Category      Category  `json:"category" db:"category"`
	ChainAddress  string    `json:"chain_address" db:"chain_address"`
	AverageRating float64   `json:"average_rating" db:"average_rating"`
	ReviewCount   int       `json:"review_count" db:"review_count"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}
