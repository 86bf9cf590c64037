// Package storage defines the persistence interface for records, ingredients
// and the outcome log.
package storage

import (
	"context"
	"errors"

	"github.com/MLenaBleile/sandy/internal/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ListQuery filters and pages record listings. Zero fields do not filter.
type ListQuery struct {
	Offset        int
	Limit         int
	StructureType string
	MinOverall    float64
}

// Storage defines record, ingredient and outcome persistence operations.
type Storage interface {
	// Records
	SaveRecord(ctx context.Context, rec *models.StoredRecord) error
	GetRecord(ctx context.Context, id string) (*models.StoredRecord, error)
	ListRecords(ctx context.Context, q ListQuery) ([]*models.StoredRecord, error)
	CountRecords(ctx context.Context) (int64, error)

	// Ingredients
	SaveIngredient(ctx context.Context, ing models.Ingredient) error
	ListIngredients(ctx context.Context) ([]models.Ingredient, error)

	// Outcome log
	LogOutcome(ctx context.Context, entry models.OutcomeLogEntry) error
	ListOutcomes(ctx context.Context, limit int) ([]models.OutcomeLogEntry, error)

	Close() error
}
