package search

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultLimit          = 10
	MaxLimit              = 100
	DefaultKeywordWeight  = 0.6
	DefaultSemanticWeight = 0.4
)

// Query is a record search request.
type Query struct {
	Query          string  `json:"query" validate:"required"`
	Limit          int     `json:"limit" validate:"gte=0,lte=100"`
	Offset         int     `json:"offset" validate:"gte=0"`
	Fuzzy          bool    `json:"fuzzy"`
	StructureType  string  `json:"structure_type,omitempty"`
	KeywordWeight  float64 `json:"keyword_weight" validate:"gte=0,lte=1"`
	SemanticWeight float64 `json:"semantic_weight" validate:"gte=0,lte=1"`
	MinScore       float64 `json:"min_score" validate:"gte=0,lte=1"`
}

// ErrInvalidQuery is wrapped by every query validation failure.
var ErrInvalidQuery = errors.New("invalid query")

var checker = validator.New()

// ProcessQuery trims and validates the query and applies defaults.
func ProcessQuery(q *Query) error {
	q.Query = strings.TrimSpace(q.Query)
	if err := checker.Struct(q); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
	if q.KeywordWeight == 0 && q.SemanticWeight == 0 {
		q.KeywordWeight = DefaultKeywordWeight
		q.SemanticWeight = DefaultSemanticWeight
	}
	return nil
}
