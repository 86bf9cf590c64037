package models

// IngredientKind distinguishes anchor fragments from filling fragments.
type IngredientKind string

const (
	KindAnchor  IngredientKind = "anchor"
	KindFilling IngredientKind = "filling"
)

// Ingredient is a deduplicated text fragment tracked by the corpus.
type Ingredient struct {
	ID         string         `json:"id" db:"id"`
	Text       string         `json:"text" db:"text"`
	Kind       IngredientKind `json:"kind" db:"kind"`
	Embedding  []float32      `json:"-" db:"embedding"`
	UsageCount int            `json:"usage_count" db:"usage_count"`
}
