// Package assemble expands a selected candidate into a named, described record.
package assemble

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/MLenaBleile/sandy/internal/llm"
	"github.com/MLenaBleile/sandy/internal/models"
	"github.com/MLenaBleile/sandy/internal/prompts"
	"github.com/MLenaBleile/sandy/internal/retry"
)

// SnippetLength bounds the source excerpt sent to the model and stored with the record.
const SnippetLength = 500

var requiredFields = []string{"name", "description", "containment_argument", "sandy_commentary"}

// Assembler runs the assembly stage.
type Assembler struct {
	gen    llm.Generator
	logger *zap.Logger
}

// New returns an Assembler using gen.
func New(gen llm.Generator, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{gen: gen, logger: logger}
}

// Snippet returns the first SnippetLength characters of text.
func Snippet(text string) string {
	r := []rune(text)
	if len(r) <= SnippetLength {
		return text
	}
	return string(r[:SnippetLength])
}

// Assemble describes candidate using the start of content. The anchors,
// filling and structure type are copied from the candidate unchanged. A
// response missing any descriptive field, or with one blank, is a parse error.
func (a *Assembler) Assemble(ctx context.Context, candidate models.Candidate, content string) (models.AssembledRecord, error) {
	snippet := Snippet(content)
	prompt, err := prompts.Assemble(prompts.AssembleInput{
		AnchorA:       candidate.AnchorA,
		AnchorB:       candidate.AnchorB,
		Filling:       candidate.Filling,
		StructureType: candidate.StructureType,
		Snippet:       snippet,
	})
	if err != nil {
		return models.AssembledRecord{}, fmt.Errorf("render assemble prompt: %w", err)
	}

	raw, err := a.gen.Call(llm.WithComponent(ctx, llm.ComponentAssemble), prompts.Persona, prompt)
	if err != nil {
		return models.AssembledRecord{}, err
	}

	parsed, err := retry.Parser{
		Recover:  llm.Recovery(a.gen, prompts.Persona),
		Prompt:   prompts.AssembleRecovery,
		Logger:   a.logger,
		NonBlank: true,
	}.Parse(ctx, raw, requiredFields)
	if err != nil {
		return models.AssembledRecord{}, err
	}

	rec := models.AssembledRecord{
		Name:                retry.String(parsed, "name"),
		Description:         retry.String(parsed, "description"),
		ContainmentArgument: retry.String(parsed, "containment_argument"),
		Commentary:          retry.String(parsed, "sandy_commentary"),
		AnchorA:             candidate.AnchorA,
		AnchorB:             candidate.AnchorB,
		Filling:             candidate.Filling,
		StructureType:       candidate.StructureType,
		SourceSnippet:       snippet,
	}
	a.logger.Info("assembled record",
		zap.String("name", rec.Name),
		zap.String("structure_type", rec.StructureType))
	return rec, nil
}
