// Package models defines the value types that flow through the sandwich pipeline
// and out to persistence.
package models

import "time"

// ContentKind tags raw content as markup or plain text.
type ContentKind string

const (
	ContentMarkup ContentKind = "markup"
	ContentPlain  ContentKind = "plain"
)

// ParseContentKind maps loose names ("html", "text", ...) to a ContentKind.
// Unknown values are treated as plain text.
func ParseContentKind(s string) ContentKind {
	switch s {
	case "markup", "html", "htm", "text/html":
		return ContentMarkup
	default:
		return ContentPlain
	}
}

// Candidate is one bounded-triple structure proposed by the identifier.
type Candidate struct {
	AnchorA       string  `json:"anchor_a"`
	AnchorB       string  `json:"anchor_b"`
	Filling       string  `json:"filling"`
	StructureType string  `json:"structure_type"`
	Confidence    float64 `json:"confidence"`
	Rationale     string  `json:"rationale"`
}

// AssembledRecord is a candidate expanded into a named, described record.
type AssembledRecord struct {
	Name                string `json:"name"`
	Description         string `json:"description"`
	ContainmentArgument string `json:"containment_argument"`
	Commentary          string `json:"commentary"`
	AnchorA             string `json:"anchor_a"`
	AnchorB             string `json:"anchor_b"`
	Filling             string `json:"filling"`
	StructureType       string `json:"structure_type"`
	SourceSnippet       string `json:"source_snippet"`
}

// Recommendation is the validator's verdict.
type Recommendation string

const (
	Accept Recommendation = "accept"
	Review Recommendation = "review"
	Reject Recommendation = "reject"
)

// ValidationResult holds component scores, each in [0,1], and the weighted verdict.
type ValidationResult struct {
	RelationCompat float64        `json:"relation_compat"`
	Containment    float64        `json:"containment"`
	Specificity    float64        `json:"specificity"`
	Nontrivial     float64        `json:"nontrivial"`
	Novelty        float64        `json:"novelty"`
	Overall        float64        `json:"overall"`
	Recommendation Recommendation `json:"recommendation"`
	Rationale      string         `json:"rationale"`
}

// RecordEmbeddings are the four vectors stored with a record.
type RecordEmbeddings struct {
	AnchorA []float32 `json:"anchor_a"`
	AnchorB []float32 `json:"anchor_b"`
	Filling []float32 `json:"filling"`
	Full    []float32 `json:"full"`
}

// SourceMetadata describes where content came from.
type SourceMetadata struct {
	URL         string      `json:"url,omitempty"`
	Domain      string      `json:"domain,omitempty"`
	ContentKind ContentKind `json:"content_kind"`
	SourceID    string      `json:"source_id,omitempty"`
}

// StoredRecord is the terminal artifact of a successful pipeline run.
type StoredRecord struct {
	ID          string            `json:"id" db:"id"`
	Assembled   AssembledRecord   `json:"assembled"`
	Validation  ValidationResult  `json:"validation"`
	Embeddings  RecordEmbeddings  `json:"-"`
	Source      SourceMetadata    `json:"source"`
	Ingredients RecordIngredients `json:"ingredients"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
}

// RecordIngredients links a record to the corpus ingredients it used.
type RecordIngredients struct {
	AnchorA Ingredient `json:"anchor_a"`
	AnchorB Ingredient `json:"anchor_b"`
	Filling Ingredient `json:"filling"`
}
