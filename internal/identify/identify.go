// Package identify extracts ranked candidate structures from cleaned content
// with one generation call.
package identify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/MLenaBleile/sandy/internal/errs"
	"github.com/MLenaBleile/sandy/internal/llm"
	"github.com/MLenaBleile/sandy/internal/models"
	"github.com/MLenaBleile/sandy/internal/prompts"
	"github.com/MLenaBleile/sandy/internal/retry"
	"github.com/MLenaBleile/sandy/pkg/utils"
)

// MaxCandidates caps the candidates returned per call.
const MaxCandidates = 3

const (
	reasonUnparseable = "Could not parse identification results."
	reasonNone        = "No viable sandwich structures identified."
)

// StructureTypes are the recognised structure types. Other types returned by
// the model are kept as-is, lowercased.
var StructureTypes = []string{
	"bound", "dialectic", "epistemic", "temporal", "perspectival",
	"conditional", "stochastic", "optimization", "negotiation", "definitional",
}

// IsKnownType reports whether t is one of StructureTypes.
func IsKnownType(t string) bool {
	for _, s := range StructureTypes {
		if s == t {
			return true
		}
	}
	return false
}

// Result holds the candidates, best first. NoCandidatesReason is set only
// when Candidates is empty.
type Result struct {
	Candidates         []models.Candidate `json:"candidates"`
	NoCandidatesReason string             `json:"no_candidates_reason,omitempty"`
}

// Identifier runs the identification stage.
type Identifier struct {
	gen    llm.Generator
	logger *zap.Logger
}

// New returns an Identifier using gen.
func New(gen llm.Generator, logger *zap.Logger) *Identifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Identifier{gen: gen, logger: logger}
}

// Identify asks for candidate structures in content. Unparseable output is
// not an error: it yields no candidates with an explanatory reason. Errors
// from the generation call itself, and fatal errors from recovery, are
// returned.
func (id *Identifier) Identify(ctx context.Context, content string) (Result, error) {
	prompt, err := prompts.Identify(content)
	if err != nil {
		return Result{}, fmt.Errorf("render identify prompt: %w", err)
	}
	raw, err := id.gen.Call(llm.WithComponent(ctx, llm.ComponentIdentify), prompts.Persona, prompt)
	if err != nil {
		return Result{}, err
	}

	parser := retry.Parser{
		Recover: llm.Recovery(id.gen, prompts.IdentifyRecoverySystem),
		Prompt:  prompts.IdentifyRecovery,
		Logger:  id.logger,
	}
	parsed, err := parser.Parse(ctx, raw, []string{"candidates"})
	if err != nil {
		if errs.IsFatal(err) || ctx.Err() != nil {
			return Result{}, err
		}
		id.logger.Warn("identification output unparseable", zap.Error(err))
		return Result{NoCandidatesReason: reasonUnparseable}, nil
	}

	rawList, _ := parsed["candidates"].([]any)
	candidates := make([]models.Candidate, 0, len(rawList))
	for _, item := range rawList {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		c, ok := parseCandidate(obj)
		if !ok {
			id.logger.Debug("dropping malformed candidate", zap.Any("candidate", obj))
			continue
		}
		if !IsKnownType(c.StructureType) {
			id.logger.Debug("unknown structure type kept", zap.String("structure_type", c.StructureType))
		}
		candidates = append(candidates, c)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	if len(candidates) > MaxCandidates {
		candidates = candidates[:MaxCandidates]
	}

	res := Result{Candidates: candidates}
	if len(candidates) == 0 {
		res.NoCandidatesReason = reasonNone
		if r := retry.String(parsed, "no_sandwich_reason"); r != "" {
			res.NoCandidatesReason = r
		}
	}
	id.logger.Info("identified candidates",
		zap.Int("count", len(candidates)),
		zap.Int("content_chars", len([]rune(content))))
	return res, nil
}

func parseCandidate(obj map[string]any) (models.Candidate, bool) {
	c := models.Candidate{
		AnchorA:       retry.String(obj, "bread_top"),
		AnchorB:       retry.String(obj, "bread_bottom"),
		Filling:       retry.String(obj, "filling"),
		StructureType: strings.ToLower(retry.String(obj, "structure_type")),
		Rationale:     retry.String(obj, "rationale"),
	}
	if c.AnchorA == "" || c.AnchorB == "" || c.Filling == "" {
		return models.Candidate{}, false
	}
	if _, present := obj["confidence"]; present && obj["confidence"] != nil {
		conf, err := retry.Float(obj, "confidence")
		if err != nil {
			return models.Candidate{}, false
		}
		c.Confidence = utils.Clamp01(conf)
	}
	return c, true
}
