package search

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/MLenaBleile/sandy/internal/corpus"
	"github.com/MLenaBleile/sandy/internal/embedding"
	"github.com/MLenaBleile/sandy/internal/keyword"
	"github.com/MLenaBleile/sandy/internal/models"
	"github.com/MLenaBleile/sandy/internal/storage"
)

type fixture struct {
	store  *storage.SQLiteStorage
	kw     *keyword.BleveIndex
	corpus *corpus.Corpus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	kw, err := keyword.NewBleveIndex(filepath.Join(dir, "bleve"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = kw.Close() })
	f := &fixture{store: store, kw: kw, corpus: corpus.New()}

	f.add(t, "r1", "Market Melt", "supply", "demand", "price", "bound", "Price settles where the curves cross.", []float32{1, 0})
	f.add(t, "r2", "Tidal Club", "moon", "sun", "tide height", "causal", "Two bodies pull on the sea.", []float32{0, 1})
	return f
}

func (f *fixture) add(t *testing.T, id, name, top, bottom, filling, typ, description string, full []float32) {
	t.Helper()
	rec := &models.StoredRecord{
		ID: id,
		Assembled: models.AssembledRecord{
			Name: name, AnchorA: top, AnchorB: bottom, Filling: filling,
			StructureType: typ, Description: description,
		},
		Validation: models.ValidationResult{Overall: 0.8, Recommendation: models.Accept},
		Embeddings: models.RecordEmbeddings{Full: full},
	}
	ctx := context.Background()
	if err := f.store.SaveRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := f.kw.Index(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := f.corpus.AddSandwich(id, full, typ); err != nil {
		t.Fatal(err)
	}
}

func TestEngine_KeywordSearch(t *testing.T) {
	f := newFixture(t)
	engine := NewEngine(f.store, f.kw)

	resp, err := engine.Search(context.Background(), &Query{Query: "supply"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || len(resp.Results) != 1 {
		t.Fatalf("expected 1 result, got %+v", resp)
	}
	hit := resp.Results[0]
	if hit.Record.ID != "r1" || hit.Rank != 1 {
		t.Errorf("hit = %+v", hit)
	}
	if hit.Score != 1.0 || hit.SemanticScore != 0 {
		t.Errorf("keyword-only score should be normalized to 1: %+v", hit)
	}
	if hit.Snippet != "Price settles where the curves cross." {
		t.Errorf("snippet = %q", hit.Snippet)
	}
	if resp.Suggestion != "" {
		t.Errorf("unexpected suggestion %q", resp.Suggestion)
	}
}

func TestEngine_SemanticSearch(t *testing.T) {
	f := newFixture(t)
	emb, err := embedding.NewStaticEmbedder(map[string][]float32{"gravity": {0.1, 1}})
	if err != nil {
		t.Fatal(err)
	}
	engine := NewEngine(f.store, f.kw, WithSemantic(emb, f.corpus))

	resp, err := engine.Search(context.Background(), &Query{Query: "gravity"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(resp.Results))
	}
	if resp.Results[0].Record.ID != "r2" || resp.Results[0].KeywordScore != 0 {
		t.Errorf("first = %+v", resp.Results[0])
	}
	if resp.Results[0].Score <= resp.Results[1].Score {
		t.Error("results should be sorted by score")
	}

	resp, err = engine.Search(context.Background(), &Query{Query: "gravity", StructureType: "bound"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Record.ID != "r1" {
		t.Errorf("structure type filter: %+v", resp.Results)
	}
}

func TestEngine_MinScoreAndPaging(t *testing.T) {
	f := newFixture(t)
	emb, err := embedding.NewStaticEmbedder(map[string][]float32{"gravity": {0.1, 1}})
	if err != nil {
		t.Fatal(err)
	}
	engine := NewEngine(f.store, f.kw, WithSemantic(emb, f.corpus))
	ctx := context.Background()

	resp, err := engine.Search(ctx, &Query{Query: "gravity", MinScore: 0.1})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 {
		t.Errorf("min score: total = %d", resp.Total)
	}

	resp, err = engine.Search(ctx, &Query{Query: "gravity", Limit: 1, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 2 || len(resp.Results) != 1 || resp.Results[0].Rank != 2 {
		t.Errorf("paging: %+v", resp)
	}

	resp, err = engine.Search(ctx, &Query{Query: "gravity", Offset: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 0 {
		t.Errorf("offset past end should be empty, got %d", len(resp.Results))
	}
}

func TestEngine_SuggestsOnMiss(t *testing.T) {
	f := newFixture(t)
	engine := NewEngine(f.store, f.kw)

	resp, err := engine.Search(context.Background(), &Query{Query: "suppli"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 0 || resp.Suggestion != "supply" {
		t.Errorf("response = %+v", resp)
	}
}

func TestEngine_InvalidQuery(t *testing.T) {
	f := newFixture(t)
	engine := NewEngine(f.store, f.kw)
	for _, q := range []*Query{
		{Query: "   "},
		{Query: "moon", Limit: 500},
		{Query: "moon", MinScore: 2},
	} {
		if _, err := engine.Search(context.Background(), q); err == nil {
			t.Errorf("expected error for %+v", q)
		}
	}
}

func TestProcessQuery_defaults(t *testing.T) {
	q := &Query{Query: "  moon  "}
	if err := ProcessQuery(q); err != nil {
		t.Fatal(err)
	}
	if q.Query != "moon" || q.Limit != DefaultLimit {
		t.Errorf("query = %+v", q)
	}
	if q.KeywordWeight != DefaultKeywordWeight || q.SemanticWeight != DefaultSemanticWeight {
		t.Errorf("weights = %v/%v", q.KeywordWeight, q.SemanticWeight)
	}
}

func TestProcessQuery_wrapsErrInvalidQuery(t *testing.T) {
	err := ProcessQuery(&Query{})
	if !errors.Is(err, ErrInvalidQuery) {
		t.Errorf("err = %v", err)
	}
}
