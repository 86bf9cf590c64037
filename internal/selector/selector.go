// Package selector chooses one candidate structure, trading stated confidence
// against novelty and structure-type diversity relative to the corpus.
package selector

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/MLenaBleile/sandy/internal/embedding"
	"github.com/MLenaBleile/sandy/internal/errs"
	"github.com/MLenaBleile/sandy/internal/models"
	"github.com/MLenaBleile/sandy/internal/vector"
	"github.com/MLenaBleile/sandy/pkg/utils"
)

// Config holds the selection weights and the minimum winning score.
type Config struct {
	ConfidenceWeight float64 `yaml:"confidence_weight" mapstructure:"confidence_weight" validate:"gte=0,lte=1"`
	NoveltyWeight    float64 `yaml:"novelty_weight" mapstructure:"novelty_weight" validate:"gte=0,lte=1"`
	DiversityWeight  float64 `yaml:"diversity_weight" mapstructure:"diversity_weight" validate:"gte=0,lte=1"`
	MinScore         float64 `yaml:"min_score" mapstructure:"min_score" validate:"gte=0,lte=1"`
	// EmbedCandidates measures novelty on candidate embeddings once the corpus has records.
	EmbedCandidates bool `yaml:"embed_candidates" mapstructure:"embed_candidates"`
}

// DefaultConfig returns the default weights.
func DefaultConfig() Config {
	return Config{
		ConfidenceWeight: 0.5,
		NoveltyWeight:    0.3,
		DiversityWeight:  0.2,
		MinScore:         0.3,
		EmbedCandidates:  true,
	}
}

// Selected is the winning candidate and the terms that produced its score.
type Selected struct {
	Candidate models.Candidate `json:"candidate"`
	Score     float64          `json:"score"`
	Novelty   float64          `json:"novelty"`
	Diversity float64          `json:"diversity"`
}

// Selector scores candidates. With an embedder and a non-empty corpus, the
// novelty term is measured on a proxy embedding of each candidate; otherwise
// it falls back to the candidate's confidence.
type Selector struct {
	cfg      Config
	embedder embedding.Embedder
	logger   *zap.Logger
}

// Option configures a Selector.
type Option func(*Selector)

// WithEmbedder enables embedding-based novelty.
func WithEmbedder(e embedding.Embedder) Option {
	return func(s *Selector) { s.embedder = e }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Selector) {
		if l != nil {
			s.logger = l
		}
	}
}

// New returns a Selector.
func New(cfg Config, opts ...Option) *Selector {
	s := &Selector{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProxyText is the text embedded to estimate a candidate's novelty before
// the record has a description.
func ProxyText(c models.Candidate) string {
	return fmt.Sprintf("%s | %s | %s", c.AnchorA, c.Filling, c.AnchorB)
}

// Diversity is 1 minus the share of the corpus already of structureType, or 1
// for an empty distribution.
func Diversity(structureType string, freq map[string]int) float64 {
	total := 0
	for _, n := range freq {
		total += n
	}
	if total == 0 {
		return 1
	}
	return utils.Clamp01(1 - float64(freq[structureType])/float64(total))
}

// Select returns the highest-scoring candidate whose score reaches MinScore,
// or nil when none does. Ties keep the earlier (higher-confidence) candidate.
func (s *Selector) Select(ctx context.Context, candidates []models.Candidate, corpusEmbeddings [][]float32, typeFreq map[string]int) (*Selected, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	novelty, err := s.novelty(ctx, candidates, corpusEmbeddings)
	if err != nil {
		return nil, err
	}

	var best *Selected
	for i, c := range candidates {
		div := Diversity(c.StructureType, typeFreq)
		score := s.cfg.ConfidenceWeight*c.Confidence +
			s.cfg.NoveltyWeight*novelty[i] +
			s.cfg.DiversityWeight*div
		s.logger.Debug("scored candidate",
			zap.String("filling", c.Filling),
			zap.Float64("confidence", c.Confidence),
			zap.Float64("novelty", novelty[i]),
			zap.Float64("diversity", div),
			zap.Float64("score", score))
		if score < s.cfg.MinScore {
			continue
		}
		if best == nil || score > best.Score {
			best = &Selected{Candidate: c, Score: score, Novelty: novelty[i], Diversity: div}
		}
	}
	return best, nil
}

func (s *Selector) novelty(ctx context.Context, candidates []models.Candidate, corpusEmbeddings [][]float32) ([]float64, error) {
	out := make([]float64, len(candidates))
	for i, c := range candidates {
		out[i] = c.Confidence
	}
	if s.embedder == nil || len(corpusEmbeddings) == 0 {
		return out, nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = ProxyText(c)
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		if errs.IsFatal(err) || ctx.Err() != nil {
			return nil, err
		}
		s.logger.Warn("proxy embedding failed, using confidence for novelty", zap.Error(err))
		return out, nil
	}
	for i, v := range vecs {
		sim, _ := vector.MaxSimilarity(v, corpusEmbeddings)
		out[i] = utils.Clamp01(1 - sim)
	}
	return out, nil
}
