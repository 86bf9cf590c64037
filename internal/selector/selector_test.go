package selector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MLenaBleile/sandy/internal/embedding"
	"github.com/MLenaBleile/sandy/internal/errs"
	"github.com/MLenaBleile/sandy/internal/models"
)

func cand(filling, typ string, conf float64) models.Candidate {
	return models.Candidate{AnchorA: "a", AnchorB: "b", Filling: filling, StructureType: typ, Confidence: conf}
}

func TestDiversity(t *testing.T) {
	assert.Equal(t, 1.0, Diversity("bound", nil))
	freq := map[string]int{"bound": 3, "temporal": 1}
	assert.InDelta(t, 0.25, Diversity("bound", freq), 1e-9)
	assert.InDelta(t, 0.75, Diversity("temporal", freq), 1e-9)
	assert.Equal(t, 1.0, Diversity("dialectic", freq))
}

func TestSelect_EmptyCorpusPrefersConfidence(t *testing.T) {
	s := New(DefaultConfig())
	got, err := s.Select(context.Background(), []models.Candidate{
		cand("x", "bound", 0.9),
		cand("y", "temporal", 0.6),
	}, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "x", got.Candidate.Filling)
	// 0.5*0.9 + 0.3*0.9 + 0.2*1
	assert.InDelta(t, 0.92, got.Score, 1e-9)
	assert.Equal(t, 0.9, got.Novelty)
}

func TestSelect_DiversityCanOverturnConfidence(t *testing.T) {
	cfg := Config{ConfidenceWeight: 0.4, NoveltyWeight: 0, DiversityWeight: 0.6, MinScore: 0}
	got, err := New(cfg).Select(context.Background(), []models.Candidate{
		cand("common", "bound", 0.8),
		cand("rare", "temporal", 0.7),
	}, [][]float32{{1}}, map[string]int{"bound": 9, "temporal": 1})
	require.NoError(t, err)
	assert.Equal(t, "rare", got.Candidate.Filling)
}

func TestSelect_NoneAboveMinimum(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinScore = 0.9
	got, err := New(cfg).Select(context.Background(), []models.Candidate{cand("x", "bound", 0.2)}, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = New(cfg).Select(context.Background(), nil, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSelect_EmbeddingNovelty(t *testing.T) {
	dup := cand("dup", "bound", 0.8)
	fresh := cand("fresh", "bound", 0.7)
	emb, err := embedding.NewStaticEmbedder(map[string][]float32{
		ProxyText(dup):   {1, 0},
		ProxyText(fresh): {0, 1},
	})
	require.NoError(t, err)

	cfg := Config{ConfidenceWeight: 0.3, NoveltyWeight: 0.7, MinScore: 0}
	got, err := New(cfg, WithEmbedder(emb)).Select(context.Background(),
		[]models.Candidate{dup, fresh}, [][]float32{{1, 0}}, map[string]int{"bound": 1})
	require.NoError(t, err)
	assert.Equal(t, "fresh", got.Candidate.Filling)
	assert.InDelta(t, 1.0, got.Novelty, 1e-6)
}

type failingEmbedder struct {
	*embedding.MockEmbedder
	err error
}

func (f failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, f.err
}

func TestSelect_EmbeddingFailure(t *testing.T) {
	cands := []models.Candidate{cand("x", "bound", 0.9)}
	corpus := [][]float32{{1, 0}}

	soft := failingEmbedder{embedding.NewMockEmbedder(2), errs.Retryable(errs.Network, "down", errors.New("refused"))}
	got, err := New(DefaultConfig(), WithEmbedder(soft)).Select(context.Background(), cands, corpus, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.9, got.Novelty, "falls back to confidence")

	hard := failingEmbedder{embedding.NewMockEmbedder(2), errs.Fatal(errs.AuthError, "bad key", nil)}
	_, err = New(DefaultConfig(), WithEmbedder(hard)).Select(context.Background(), cands, corpus, nil)
	assert.True(t, errs.IsFatal(err))
}
