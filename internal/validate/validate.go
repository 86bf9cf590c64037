// Package validate is the quality gate: a judge call scores relational
// quality, embedding similarity scores non-triviality and corpus novelty, and
// a weighted sum decides accept, review or reject.
package validate

import (
	"context"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/MLenaBleile/sandy/internal/embedding"
	"github.com/MLenaBleile/sandy/internal/errs"
	"github.com/MLenaBleile/sandy/internal/llm"
	"github.com/MLenaBleile/sandy/internal/models"
	"github.com/MLenaBleile/sandy/internal/prompts"
	"github.com/MLenaBleile/sandy/internal/retry"
	"github.com/MLenaBleile/sandy/internal/vector"
	"github.com/MLenaBleile/sandy/pkg/utils"
)

// WeightTolerance bounds how far the five weights may sum from 1.
const WeightTolerance = 1e-9

// Config holds the component weights and verdict thresholds.
type Config struct {
	WeightRelationCompat float64 `yaml:"weight_relation_compat" mapstructure:"weight_relation_compat" validate:"gte=0,lte=1"`
	WeightContainment    float64 `yaml:"weight_containment" mapstructure:"weight_containment" validate:"gte=0,lte=1"`
	WeightSpecificity    float64 `yaml:"weight_specificity" mapstructure:"weight_specificity" validate:"gte=0,lte=1"`
	WeightNontrivial     float64 `yaml:"weight_nontrivial" mapstructure:"weight_nontrivial" validate:"gte=0,lte=1"`
	WeightNovelty        float64 `yaml:"weight_novelty" mapstructure:"weight_novelty" validate:"gte=0,lte=1"`
	AcceptThreshold      float64 `yaml:"accept_threshold" mapstructure:"accept_threshold" validate:"gte=0,lte=1,gtefield=MarginalThreshold"`
	MarginalThreshold    float64 `yaml:"marginal_threshold" mapstructure:"marginal_threshold" validate:"gte=0,lte=1"`
}

// DefaultConfig returns the default weights (summing to 1) and thresholds.
func DefaultConfig() Config {
	return Config{
		WeightRelationCompat: 0.20,
		WeightContainment:    0.25,
		WeightSpecificity:    0.20,
		WeightNontrivial:     0.15,
		WeightNovelty:        0.20,
		AcceptThreshold:      0.7,
		MarginalThreshold:    0.5,
	}
}

// WeightSum returns the sum of the five weights.
func (c Config) WeightSum() float64 {
	return c.WeightRelationCompat + c.WeightContainment + c.WeightSpecificity + c.WeightNontrivial + c.WeightNovelty
}

// Check reports weights that do not sum to 1 or thresholds out of order.
func (c Config) Check() error {
	if sum := c.WeightSum(); math.Abs(sum-1) > WeightTolerance {
		return fmt.Errorf("validation weights sum to %v, want 1", sum)
	}
	if c.MarginalThreshold > c.AcceptThreshold {
		return fmt.Errorf("marginal threshold %v exceeds accept threshold %v", c.MarginalThreshold, c.AcceptThreshold)
	}
	return nil
}

// Verdict maps an overall score to a recommendation.
func (c Config) Verdict(overall float64) models.Recommendation {
	switch {
	case overall >= c.AcceptThreshold:
		return models.Accept
	case overall >= c.MarginalThreshold:
		return models.Review
	default:
		return models.Reject
	}
}

var judgeFields = []string{"bread_compat_score", "containment_score", "specificity_score", "rationale"}

// Validator scores assembled records.
type Validator struct {
	cfg      Config
	gen      llm.Generator
	embedder embedding.Embedder
	logger   *zap.Logger
}

// New returns a Validator. cfg must pass Check.
func New(cfg Config, gen llm.Generator, embedder embedding.Embedder, logger *zap.Logger) (*Validator, error) {
	if err := cfg.Check(); err != nil {
		return nil, errs.Fatal(errs.ConfigError, "invalid validation config", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{cfg: cfg, gen: gen, embedder: embedder, logger: logger}, nil
}

// Validate scores rec. corpusEmbeddings may be empty, in which case novelty is 1.
func (v *Validator) Validate(ctx context.Context, rec models.AssembledRecord, corpusEmbeddings [][]float32) (models.ValidationResult, error) {
	compat, containment, specificity, judgeRationale, err := v.judge(ctx, rec)
	if err != nil {
		return models.ValidationResult{}, err
	}

	vecs, err := v.embedder.EmbedBatch(ctx, []string{rec.AnchorA, rec.AnchorB, rec.Filling})
	if err != nil {
		return models.ValidationResult{}, err
	}
	if len(vecs) != 3 {
		return models.ValidationResult{}, fmt.Errorf("embedder returned %d vectors for 3 texts", len(vecs))
	}
	anchorA, anchorB, filling := vecs[0], vecs[1], vecs[2]

	simA := vector.CosineSimilarity(filling, anchorA)
	simB := vector.CosineSimilarity(filling, anchorB)
	nontrivial := utils.Clamp01(1 - math.Max(simA, simB))

	novelty := 1.0
	noveltyNote := "corpus empty"
	if len(corpusEmbeddings) > 0 {
		maxSim, _ := vector.MaxSimilarity(vector.Centroid(anchorA, anchorB, filling), corpusEmbeddings)
		novelty = utils.Clamp01(1 - maxSim)
		noveltyNote = fmt.Sprintf("max_corpus_sim=%.3f", 1-novelty)
	}

	overall := utils.Clamp01(v.cfg.WeightRelationCompat*compat +
		v.cfg.WeightContainment*containment +
		v.cfg.WeightSpecificity*specificity +
		v.cfg.WeightNontrivial*nontrivial +
		v.cfg.WeightNovelty*novelty)

	res := models.ValidationResult{
		RelationCompat: compat,
		Containment:    containment,
		Specificity:    specificity,
		Nontrivial:     nontrivial,
		Novelty:        novelty,
		Overall:        overall,
		Recommendation: v.cfg.Verdict(overall),
		Rationale: fmt.Sprintf("LLM: %s | Specificity: %.3f | Nontrivial: sim(filling,top)=%.3f, sim(filling,bottom)=%.3f | Novelty: %s",
			judgeRationale, specificity, simA, simB, noveltyNote),
	}
	v.logger.Info("validated record",
		zap.String("name", rec.Name),
		zap.Float64("relation_compat", compat),
		zap.Float64("containment", containment),
		zap.Float64("specificity", specificity),
		zap.Float64("nontrivial", nontrivial),
		zap.Float64("novelty", novelty),
		zap.Float64("overall", overall),
		zap.String("recommendation", string(res.Recommendation)))
	return res, nil
}

func (v *Validator) judge(ctx context.Context, rec models.AssembledRecord) (compat, containment, specificity float64, rationale string, err error) {
	prompt, err := prompts.Judge(prompts.JudgeInput{
		Name:                rec.Name,
		AnchorA:             rec.AnchorA,
		AnchorB:             rec.AnchorB,
		Filling:             rec.Filling,
		StructureType:       rec.StructureType,
		Description:         rec.Description,
		ContainmentArgument: rec.ContainmentArgument,
	})
	if err != nil {
		return 0, 0, 0, "", fmt.Errorf("render judge prompt: %w", err)
	}
	raw, err := v.gen.Call(llm.WithComponent(ctx, llm.ComponentJudge), prompts.JudgeSystem, prompt)
	if err != nil {
		return 0, 0, 0, "", err
	}
	parsed, err := retry.Parser{
		Recover: llm.Recovery(v.gen, prompts.JudgeSystem),
		Prompt:  prompts.JudgeRecovery,
		Logger:  v.logger,
	}.Parse(ctx, raw, judgeFields)
	if err != nil {
		return 0, 0, 0, "", err
	}

	scores := make([]float64, 3)
	for i, key := range judgeFields[:3] {
		f, ferr := retry.Float(parsed, key)
		if ferr != nil {
			pe := errs.Parse(fmt.Sprintf("judge score %s is not a number", key), raw)
			pe.Err = ferr
			return 0, 0, 0, "", pe
		}
		scores[i] = utils.Clamp01(f)
	}
	return scores[0], scores[1], scores[2], retry.String(parsed, "rationale"), nil
}
