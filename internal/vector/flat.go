package vector

import (
	"fmt"
	"sort"
	"sync"
)

// Result is a single nearest-neighbour hit.
type Result struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Flat is an append-only brute-force cosine index. The dimensionality is
// fixed by the first vector added unless set at construction.
type Flat struct {
	dimensions int
	ids        []string
	vectors    [][]float32
	mu         sync.RWMutex
}

// NewFlat creates an index. dimensions may be 0 to adopt the first vector's length.
func NewFlat(dimensions int) *Flat {
	return &Flat{dimensions: dimensions}
}

// Add appends a copy of vec under id.
func (f *Flat) Add(id string, vec []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(vec) == 0 {
		return fmt.Errorf("empty vector for %s", id)
	}
	if f.dimensions == 0 {
		f.dimensions = len(vec)
	}
	if len(vec) != f.dimensions {
		return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vec), f.dimensions)
	}
	cp := make([]float32, len(vec))
	copy(cp, vec)
	f.ids = append(f.ids, id)
	f.vectors = append(f.vectors, cp)
	return nil
}

// Search returns the top-k vectors by cosine similarity to query.
func (f *Flat) Search(query []float32, k int) ([]Result, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if k <= 0 || len(f.ids) == 0 {
		return nil, nil
	}
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), f.dimensions)
	}
	scores := make([]Result, len(f.ids))
	for i, vec := range f.vectors {
		scores[i] = Result{ID: f.ids[i], Score: CosineSimilarity(query, vec)}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
	if k > len(scores) {
		k = len(scores)
	}
	return scores[:k], nil
}

// Vectors returns the stored vectors in insertion order. The slices are shared; do not modify.
func (f *Flat) Vectors() [][]float32 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([][]float32(nil), f.vectors...)
}

// Dimensions returns the fixed dimensionality, or 0 before the first Add.
func (f *Flat) Dimensions() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dimensions
}

// Len returns the number of stored vectors.
func (f *Flat) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.ids)
}

// Reset drops all vectors and the fixed dimensionality.
func (f *Flat) Reset(dimensions int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dimensions = dimensions
	f.ids = nil
	f.vectors = nil
}
