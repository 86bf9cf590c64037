package corpus

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MLenaBleile/sandy/internal/models"
)

func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("ing-%d", n)
	}
}

func TestCorpus_EmptyAndAddSandwich(t *testing.T) {
	c := New()
	assert.True(t, c.IsEmpty())
	assert.Empty(t, c.Embeddings())

	require.NoError(t, c.AddSandwich("r1", []float32{1, 0}, "bound"))
	require.NoError(t, c.AddSandwich("r2", []float32{0, 1}, "bound"))
	require.NoError(t, c.AddSandwich("r3", []float32{1, 1}, "temporal"))

	assert.False(t, c.IsEmpty())
	assert.Len(t, c.Embeddings(), 3)
	assert.Equal(t, map[string]int{"bound": 2, "temporal": 1}, c.TypeFrequencies())

	err := c.AddSandwich("r4", []float32{1, 0, 0}, "bound")
	assert.Error(t, err, "dimensionality is fixed per corpus")
	assert.Equal(t, 2, c.TypeFrequencies()["bound"], "failed add must not count")
}

func TestCorpus_TypeFrequenciesIsCopy(t *testing.T) {
	c := New()
	require.NoError(t, c.AddSandwich("r1", []float32{1}, "bound"))
	freq := c.TypeFrequencies()
	freq["bound"] = 99
	assert.Equal(t, 1, c.TypeFrequencies()["bound"])
}

func TestCorpus_FindMatchingIngredient(t *testing.T) {
	c := New(WithMatchThreshold(0.9))
	require.NoError(t, c.AddIngredient(models.Ingredient{
		ID: "a", Text: "Supply", Kind: models.KindAnchor, Embedding: []float32{1, 0, 0}, UsageCount: 1,
	}))

	tests := []struct {
		name  string
		text  string
		kind  models.IngredientKind
		emb   []float32
		found bool
	}{
		{"exact folded", "  supply ", models.KindAnchor, nil, true},
		{"similar embedding", "provision", models.KindAnchor, []float32{0.99, 0.05, 0}, true},
		{"dissimilar embedding", "demand", models.KindAnchor, []float32{0, 1, 0}, false},
		{"kind mismatch", "supply", models.KindFilling, []float32{1, 0, 0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ing, ok := c.FindMatchingIngredient(tt.text, tt.kind, tt.emb)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, "a", ing.ID)
			}
		})
	}
}

func TestCorpus_ReuseIncrementsUsage(t *testing.T) {
	c := New()
	ids := seqIDs()

	first, reused, err := c.Reuse("Price", models.KindFilling, []float32{0, 1}, ids)
	require.NoError(t, err)
	assert.False(t, reused)
	assert.Equal(t, 1, first.UsageCount)

	second, reused, err := c.Reuse("price", models.KindFilling, []float32{0, 1}, ids)
	require.NoError(t, err)
	assert.True(t, reused)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.UsageCount)
	assert.Equal(t, 1, c.IngredientCount())
}

func TestCorpus_AddIngredientDuplicate(t *testing.T) {
	c := New()
	require.NoError(t, c.AddIngredient(models.Ingredient{ID: "1", Text: "Ice", Kind: models.KindAnchor}))
	assert.Error(t, c.AddIngredient(models.Ingredient{ID: "2", Text: "ice", Kind: models.KindAnchor}))
	assert.NoError(t, c.AddIngredient(models.Ingredient{ID: "3", Text: "ice", Kind: models.KindFilling}))
}

func TestCorpus_ConcurrentReuse(t *testing.T) {
	c := New()
	var mu sync.Mutex
	n := 0
	newID := func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = c.Reuse("shared", models.KindAnchor, []float32{1, 0}, newID)
		}()
	}
	wg.Wait()
	ings := c.Ingredients()
	require.Len(t, ings, 1)
	assert.Equal(t, 50, ings[0].UsageCount)
}

func TestCorpus_SimilarAndReset(t *testing.T) {
	c := New()
	require.NoError(t, c.AddSandwich("near", []float32{1, 0.1}, "bound"))
	require.NoError(t, c.AddSandwich("far", []float32{-1, 0}, "bound"))
	res, err := c.Similar([]float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "near", res[0].ID)

	st := c.Stats()
	assert.Equal(t, 2, st.Records)
	assert.Equal(t, 2, st.Dimensions)

	c.Reset()
	assert.True(t, c.IsEmpty())
	assert.Empty(t, c.TypeFrequencies())
	assert.Zero(t, c.IngredientCount())
}
