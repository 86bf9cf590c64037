package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MLenaBleile/sandy/internal/corpus"
	"github.com/MLenaBleile/sandy/internal/embedding"
	"github.com/MLenaBleile/sandy/internal/keyword"
	"github.com/MLenaBleile/sandy/internal/models"
	"github.com/MLenaBleile/sandy/internal/storage"
	"github.com/MLenaBleile/sandy/internal/vector"
)

const (
	defaultTopK    = 50
	snippetMaxLen  = 200
	suggestMaxEdit = 2
)

// Hit is one ranked record.
type Hit struct {
	Record        *models.StoredRecord `json:"record"`
	Score         float64              `json:"score"`
	KeywordScore  float64              `json:"keyword_score"`
	SemanticScore float64              `json:"semantic_score"`
	Rank          int                  `json:"rank"`
	Snippet       string               `json:"snippet"`
}

// Response is the result of a search.
type Response struct {
	Query      string `json:"query"`
	Results    []*Hit `json:"results"`
	Total      int    `json:"total"`
	Suggestion string `json:"suggestion,omitempty"`
	QueryTime  int64  `json:"query_time_ms"`
}

// Engine runs hybrid (keyword + semantic) record search. Semantic search
// needs an embedder and a corpus; without them it is keyword only.
type Engine struct {
	storage      storage.Storage
	keywordIndex keyword.RecordIndex
	embedder     embedding.Embedder
	corpus       *corpus.Corpus
	suggester    *keyword.Suggester
	topK         int
	logger       *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSemantic enables semantic search over the corpus record embeddings.
func WithSemantic(emb embedding.Embedder, c *corpus.Corpus) EngineOption {
	return func(e *Engine) {
		e.embedder = emb
		e.corpus = c
	}
}

// WithTopK sets how many candidates each leg contributes before fusion.
func WithTopK(k int) EngineOption {
	return func(e *Engine) {
		if k > 0 {
			e.topK = k
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates a search engine with the given dependencies.
func NewEngine(store storage.Storage, keywordIndex keyword.RecordIndex, opts ...EngineOption) *Engine {
	e := &Engine{
		storage:      store,
		keywordIndex: keywordIndex,
		suggester:    keyword.NewSuggester(keywordIndex, suggestMaxEdit),
		topK:         defaultTopK,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) semanticEnabled() bool {
	return e.embedder != nil && e.corpus != nil && !e.corpus.IsEmpty()
}

// Search runs keyword and semantic search concurrently, fuses the scores and
// returns hydrated records. A query with no hits carries a spelling suggestion
// when one exists.
func (e *Engine) Search(ctx context.Context, query *Query) (*Response, error) {
	startTime := time.Now()
	if err := ProcessQuery(query); err != nil {
		return nil, err
	}

	keywordWeight, semanticWeight := query.KeywordWeight, query.SemanticWeight
	if !e.semanticEnabled() {
		semanticWeight = 0
	}
	if sum := keywordWeight + semanticWeight; sum > 0 {
		keywordWeight, semanticWeight = keywordWeight/sum, semanticWeight/sum
	}

	var (
		keywordResults  []*keyword.Result
		semanticResults []vector.Result
	)
	g, gctx := errgroup.WithContext(ctx)
	if keywordWeight > 0 {
		g.Go(func() error {
			results, err := e.keywordIndex.Search(gctx, query.Query, e.topK, &keyword.SearchOptions{
				FuzzyEnabled:  query.Fuzzy,
				StructureType: query.StructureType,
			})
			if err != nil {
				return fmt.Errorf("keyword search failed: %w", err)
			}
			keywordResults = results
			return nil
		})
	}
	if semanticWeight > 0 {
		g.Go(func() error {
			queryEmbedding, err := e.embedder.Embed(gctx, query.Query)
			if err != nil {
				return fmt.Errorf("embedding failed: %w", err)
			}
			results, err := e.corpus.Similar(queryEmbedding, e.topK)
			if err != nil {
				return fmt.Errorf("vector search failed: %w", err)
			}
			semanticResults = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := Fuse(NormalizeKeywordScores(keywordResults), NormalizeSemanticScores(semanticResults), keywordWeight, semanticWeight)

	hits := make([]*Hit, 0, len(fused))
	for _, f := range fused {
		if f.Score < query.MinScore {
			continue
		}
		rec, err := e.storage.GetRecord(ctx, f.RecordID)
		if errors.Is(err, storage.ErrNotFound) {
			e.logger.Debug("search hit missing from storage", zap.String("id", f.RecordID))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load record %s: %w", f.RecordID, err)
		}
		if query.StructureType != "" && rec.Assembled.StructureType != query.StructureType {
			continue
		}
		hits = append(hits, &Hit{
			Record:        rec,
			Score:         f.Score,
			KeywordScore:  f.KeywordScore,
			SemanticScore: f.SemanticScore,
			Snippet:       Highlight(rec.Assembled.Description, query.Query, snippetMaxLen),
		})
	}

	start := min(query.Offset, len(hits))
	end := min(query.Offset+query.Limit, len(hits))
	paged := hits[start:end]
	for i, h := range paged {
		h.Rank = start + i + 1
	}

	response := &Response{
		Query:   query.Query,
		Results: paged,
		Total:   len(hits),
	}
	if len(hits) == 0 {
		suggestion, err := e.suggester.Suggest(query.Query)
		if err != nil {
			e.logger.Warn("search suggestion failed", zap.Error(err))
		}
		response.Suggestion = suggestion
	}
	response.QueryTime = time.Since(startTime).Milliseconds()
	e.logger.Debug("search",
		zap.String("query", query.Query),
		zap.Int("total", response.Total),
		zap.Int64("ms", response.QueryTime))
	return response, nil
}

// KeywordDocCount returns the number of records in the keyword index.
func (e *Engine) KeywordDocCount() (uint64, error) {
	return e.keywordIndex.DocCount()
}
