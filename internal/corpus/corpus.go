// Package corpus holds the in-memory index of accepted records: their full
// embeddings, structure-type counts, and deduplicated ingredients.
package corpus

import (
	"fmt"
	"strings"
	"sync"

	"github.com/MLenaBleile/sandy/internal/models"
	"github.com/MLenaBleile/sandy/internal/vector"
)

// DefaultMatchThreshold is the cosine similarity above which two ingredient
// fragments of the same kind are treated as the same ingredient.
const DefaultMatchThreshold = 0.92

// Corpus grows monotonically for the life of the process. All methods are
// safe for concurrent use.
type Corpus struct {
	mu             sync.RWMutex
	records        *vector.Flat
	typeFreq       map[string]int
	ingredients    []*models.Ingredient
	byText         map[ingredientKey]*models.Ingredient
	matchThreshold float64
}

type ingredientKey struct {
	kind models.IngredientKind
	text string
}

// Option configures a Corpus.
type Option func(*Corpus)

// WithMatchThreshold sets the embedding similarity threshold for ingredient reuse.
func WithMatchThreshold(t float64) Option {
	return func(c *Corpus) { c.matchThreshold = t }
}

// New returns an empty corpus.
func New(opts ...Option) *Corpus {
	c := &Corpus{
		records:        vector.NewFlat(0),
		typeFreq:       make(map[string]int),
		byText:         make(map[ingredientKey]*models.Ingredient),
		matchThreshold: DefaultMatchThreshold,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func normalize(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// IsEmpty reports whether no record has been added.
func (c *Corpus) IsEmpty() bool {
	return c.records.Len() == 0
}

// Size returns the number of records added.
func (c *Corpus) Size() int {
	return c.records.Len()
}

// Embeddings returns the full-record embeddings in insertion order.
func (c *Corpus) Embeddings() [][]float32 {
	return c.records.Vectors()
}

// TypeFrequencies returns a copy of the structure_type -> count map.
func (c *Corpus) TypeFrequencies() map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]int, len(c.typeFreq))
	for k, v := range c.typeFreq {
		out[k] = v
	}
	return out
}

// AddSandwich registers a record's full embedding and increments its structure type count.
func (c *Corpus) AddSandwich(id string, embedding []float32, structureType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.records.Add(id, embedding); err != nil {
		return fmt.Errorf("add record %s: %w", id, err)
	}
	c.typeFreq[structureType]++
	return nil
}

// Similar returns the k records whose full embeddings are closest to query.
func (c *Corpus) Similar(query []float32, k int) ([]vector.Result, error) {
	return c.records.Search(query, k)
}

// FindMatchingIngredient returns an ingredient of the same kind whose text
// matches exactly (case and whitespace folded) or whose embedding similarity
// exceeds the match threshold.
func (c *Corpus) FindMatchingIngredient(text string, kind models.IngredientKind, embedding []float32) (models.Ingredient, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if ing := c.findLocked(text, kind, embedding); ing != nil {
		return *ing, true
	}
	return models.Ingredient{}, false
}

func (c *Corpus) findLocked(text string, kind models.IngredientKind, embedding []float32) *models.Ingredient {
	if ing, ok := c.byText[ingredientKey{kind, normalize(text)}]; ok {
		return ing
	}
	if len(embedding) == 0 {
		return nil
	}
	var best *models.Ingredient
	bestSim := c.matchThreshold
	for _, ing := range c.ingredients {
		if ing.Kind != kind || len(ing.Embedding) == 0 {
			continue
		}
		if sim := vector.CosineSimilarity(embedding, ing.Embedding); sim > bestSim {
			best, bestSim = ing, sim
		}
	}
	return best
}

// AddIngredient stores a new ingredient. An ingredient with the same kind and
// folded text must not already exist.
func (c *Corpus) AddIngredient(ing models.Ingredient) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addLocked(ing)
}

func (c *Corpus) addLocked(ing models.Ingredient) error {
	key := ingredientKey{ing.Kind, normalize(ing.Text)}
	if _, ok := c.byText[key]; ok {
		return fmt.Errorf("ingredient %q (%s) already exists", ing.Text, ing.Kind)
	}
	stored := ing
	c.ingredients = append(c.ingredients, &stored)
	c.byText[key] = &stored
	return nil
}

// Reuse finds a matching ingredient and increments its usage count, or adds a
// new ingredient with usage count 1. The lookup and mutation are atomic.
// reused reports which path was taken.
func (c *Corpus) Reuse(text string, kind models.IngredientKind, embedding []float32, newID func() string) (ing models.Ingredient, reused bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing := c.findLocked(text, kind, embedding); existing != nil {
		existing.UsageCount++
		return *existing, true, nil
	}
	ing = models.Ingredient{
		ID:         newID(),
		Text:       text,
		Kind:       kind,
		Embedding:  embedding,
		UsageCount: 1,
	}
	if err := c.addLocked(ing); err != nil {
		return models.Ingredient{}, false, err
	}
	return ing, false, nil
}

// Ingredients returns copies of all ingredients in insertion order.
func (c *Corpus) Ingredients() []models.Ingredient {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Ingredient, len(c.ingredients))
	for i, ing := range c.ingredients {
		out[i] = *ing
	}
	return out
}

// IngredientCount returns the number of distinct ingredients.
func (c *Corpus) IngredientCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ingredients)
}

// Stats summarizes the corpus.
type Stats struct {
	Records         int            `json:"records"`
	Ingredients     int            `json:"ingredients"`
	Dimensions      int            `json:"dimensions"`
	TypeFrequencies map[string]int `json:"type_frequencies"`
}

// Stats returns a snapshot summary.
func (c *Corpus) Stats() Stats {
	return Stats{
		Records:         c.records.Len(),
		Ingredients:     c.IngredientCount(),
		Dimensions:      c.records.Dimensions(),
		TypeFrequencies: c.TypeFrequencies(),
	}
}

// Reset empties the corpus.
func (c *Corpus) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records.Reset(0)
	c.typeFreq = make(map[string]int)
	c.ingredients = nil
	c.byText = make(map[ingredientKey]*models.Ingredient)
}
