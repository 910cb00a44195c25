package trustscore

import (
	"strings"

	"github.com/yuchenfeng/TrustGate/internal/models"
)

// BaselineConfig is the hand-curated baseline trust table, keyed by
// normalized project name. Immutable after construction; safe for
// unsynchronized concurrent reads.
type BaselineConfig struct {
	known           map[string]int
	defaultDeFi     int
	defaultFallback int
}

// DefaultBaselines returns the built-in curated table. Unknown names fall
// back to 60 for defi-protocol projects and 50 for everything else.
func DefaultBaselines() *BaselineConfig {
	return &BaselineConfig{
		known: map[string]int{
			"uniswap":   90,
			"aave":      88,
			"chainlink": 85,
			"compound":  82,
			"curve":     80,
			"opensea":   72,
			"ens":       78,
		},
		defaultDeFi:     60,
		defaultFallback: 50,
	}
}

// Lookup returns the baseline trust score for a project name, normalized
// case-insensitively, with the category default as fallback.
func (b *BaselineConfig) Lookup(name string, category models.Category) int {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if score, ok := b.known[normalized]; ok {
		return score
	}
	if category == models.CategoryDeFiProtocol {
		return b.defaultDeFi
	}
	return b.defaultFallback
}

// Known reports whether a name is in the curated table.
func (b *BaselineConfig) Known(name string) bool {
	_, ok := b.known[strings.ToLower(strings.TrimSpace(name))]
	return ok
}
