// Package keyword provides full-text search over stored records.
package keyword

import (
	"context"

	"github.com/MLenaBleile/sandy/internal/models"
)

// SearchOptions optional parameters for record search. Nil means use defaults.
type SearchOptions struct {
	// NameBoost multiplies the score contribution from matches in the record name.
	// Values > 1 make name matches rank higher. Use 1.0 for no boost.
	NameBoost float64
	// FuzzyEnabled enables fuzzy matching for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum edit distance for fuzzy matching (1 or 2).
	// Default is 1 when FuzzyEnabled is true.
	Fuzziness int
	// StructureType restricts hits to one structure type.
	StructureType string
}

// RecordIndex defines record search operations.
type RecordIndex interface {
	Index(ctx context.Context, rec *models.StoredRecord) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*Result, error)
	Delete(ctx context.Context, id string) error
	// DocCount returns the total number of records in the index.
	DocCount() (uint64, error)
	// Terms returns every distinct indexed term with its document frequency.
	Terms() (map[string]int, error)
	Close() error
}

// Result is a single search hit.
type Result struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}
