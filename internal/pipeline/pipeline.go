// Package pipeline runs one piece of content through every stage and, when
// the result is good enough, commits it to the corpus.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MLenaBleile/sandy/internal/assemble"
	"github.com/MLenaBleile/sandy/internal/corpus"
	"github.com/MLenaBleile/sandy/internal/embedding"
	"github.com/MLenaBleile/sandy/internal/errs"
	"github.com/MLenaBleile/sandy/internal/identify"
	"github.com/MLenaBleile/sandy/internal/llm"
	"github.com/MLenaBleile/sandy/internal/models"
	"github.com/MLenaBleile/sandy/internal/preprocess"
	"github.com/MLenaBleile/sandy/internal/selector"
	"github.com/MLenaBleile/sandy/internal/validate"
)

const noneViableDetail = "all candidates below threshold"

// Config groups the stage settings a pipeline is built from.
type Config struct {
	Preprocess preprocess.Config
	Selection  selector.Config
	Validation validate.Config
}

// DefaultConfig returns the default settings of every stage.
func DefaultConfig() Config {
	return Config{
		Preprocess: preprocess.DefaultConfig(),
		Selection:  selector.DefaultConfig(),
		Validation: validate.DefaultConfig(),
	}
}

// Publisher receives pipeline events. events.Bus satisfies it.
type Publisher interface {
	Publish(eventType string, data map[string]any)
}

// Event types published by the pipeline.
const (
	EventStage                = "pipeline.stage"
	EventIngredientIdentified = "ingredient.identified"
	EventValidationScored     = "validation.scored"
	EventRecordCreated        = "sandwich.created"
)

// StageError wraps an error raised while a stage was running.
type StageError struct {
	Stage models.Stage
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }

func (e *StageError) Unwrap() error { return e.Err }

// StageOf returns the stage an error was raised in, or "" if unknown.
func StageOf(err error) models.Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// Pipeline holds the constructed stages. A Pipeline is safe for concurrent
// use; the corpus serialises its own mutations.
type Pipeline struct {
	corpus       *corpus.Corpus
	embedder     embedding.Embedder
	preprocessor *preprocess.Preprocessor
	identifier   *identify.Identifier
	selector     *selector.Selector
	assembler    *assemble.Assembler
	validator    *validate.Validator

	logger    *zap.Logger
	publisher Publisher
	onStage   func(models.Stage)
	newID     func() string
	now       func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger shared by every stage.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithPublisher publishes stage, ingredient, score and record events.
func WithPublisher(pub Publisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

// WithStageHook calls fn as each stage starts.
func WithStageHook(fn func(models.Stage)) Option {
	return func(p *Pipeline) { p.onStage = fn }
}

type stageObserverKey struct{}

// ObserveStages returns a context under which MakeSandwich calls fn as each
// stage starts, in addition to any hook set with WithStageHook.
func ObserveStages(ctx context.Context, fn func(models.Stage)) context.Context {
	return context.WithValue(ctx, stageObserverKey{}, fn)
}

// WithIDFunc overrides record and ingredient id generation.
func WithIDFunc(fn func() string) Option {
	return func(p *Pipeline) { p.newID = fn }
}

// WithClock overrides the record creation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New wires the stages. Invalid configuration is returned as a fatal error.
func New(cfg Config, c *corpus.Corpus, gen llm.Generator, emb embedding.Embedder, detector preprocess.LanguageDetector, opts ...Option) (*Pipeline, error) {
	if c == nil || gen == nil || emb == nil {
		return nil, errs.Fatal(errs.ConfigError, "pipeline needs a corpus, a generator and an embedder", nil)
	}
	p := &Pipeline{
		corpus:   c,
		embedder: emb,
		logger:   zap.NewNop(),
		newID:    func() string { return uuid.NewString() },
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	pre, err := preprocess.New(cfg.Preprocess, detector, preprocess.WithLogger(p.logger))
	if err != nil {
		return nil, err
	}
	val, err := validate.New(cfg.Validation, gen, emb, p.logger)
	if err != nil {
		return nil, err
	}
	selOpts := []selector.Option{selector.WithLogger(p.logger)}
	if cfg.Selection.EmbedCandidates {
		selOpts = append(selOpts, selector.WithEmbedder(emb))
	}

	p.preprocessor = pre
	p.identifier = identify.New(gen, p.logger)
	p.selector = selector.New(cfg.Selection, selOpts...)
	p.assembler = assemble.New(gen, p.logger)
	p.validator = val
	return p, nil
}

// Corpus returns the corpus records are committed to.
func (p *Pipeline) Corpus() *corpus.Corpus { return p.corpus }

// MakeSandwich runs content through preprocessing, identification,
// selection, assembly and validation. A record is returned, and committed to
// the corpus, only when the outcome is storage/success. Errors are returned
// only for failures that are not ordinary outcomes: fatal errors, exhausted
// retries and unrecoverable parse failures. Such errors are *StageError.
func (p *Pipeline) MakeSandwich(ctx context.Context, content string, source models.SourceMetadata) (*models.StoredRecord, models.Outcome, error) {
	start := time.Now()
	rec, outcome, err := p.run(ctx, content, source)
	if err != nil {
		stage := StageOf(err)
		outcomesTotal.WithLabelValues(string(stage), "error").Inc()
		p.logger.Warn("pipeline failed",
			zap.String("stage", string(stage)),
			zap.String("url", source.URL),
			zap.Error(err))
		return nil, models.Outcome{}, err
	}

	outcomesTotal.WithLabelValues(string(outcome.Stage), string(outcome.Outcome)).Inc()
	corpusRecords.Set(float64(p.corpus.Size()))
	p.logger.Info("pipeline outcome",
		zap.String("stage", string(outcome.Stage)),
		zap.String("outcome", string(outcome.Outcome)),
		zap.String("detail", outcome.Detail),
		zap.String("url", source.URL),
		zap.Duration("elapsed", time.Since(start)))
	return rec, outcome, nil
}

func (p *Pipeline) run(ctx context.Context, content string, source models.SourceMetadata) (*models.StoredRecord, models.Outcome, error) {
	done := p.enter(ctx, models.StagePreprocessing)
	pre := p.preprocessor.Process(content, source.ContentKind)
	done()
	if pre.Skip {
		return nil, models.Outcome{Stage: models.StagePreprocessing, Outcome: models.OutcomeSkipped, Detail: string(pre.SkipReason)}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, models.Outcome{}, &StageError{models.StagePreprocessing, err}
	}

	done = p.enter(ctx, models.StageIdentification)
	ident, err := p.identifier.Identify(ctx, pre.Text)
	done()
	if err != nil {
		return nil, models.Outcome{}, &StageError{models.StageIdentification, err}
	}
	if len(ident.Candidates) == 0 {
		return nil, models.Outcome{Stage: models.StageIdentification, Outcome: models.OutcomeNoCandidates, Detail: ident.NoCandidatesReason}, nil
	}
	for _, c := range ident.Candidates {
		p.publish(EventIngredientIdentified, map[string]any{
			"bread_top":      c.AnchorA,
			"bread_bottom":   c.AnchorB,
			"filling":        c.Filling,
			"structure_type": c.StructureType,
			"confidence":     c.Confidence,
		})
	}

	var corpusEmbeddings [][]float32
	var typeFreq map[string]int
	if !p.corpus.IsEmpty() {
		corpusEmbeddings = p.corpus.Embeddings()
		typeFreq = p.corpus.TypeFrequencies()
	}

	done = p.enter(ctx, models.StageSelection)
	selected, err := p.selector.Select(ctx, ident.Candidates, corpusEmbeddings, typeFreq)
	done()
	if err != nil {
		return nil, models.Outcome{}, &StageError{models.StageSelection, err}
	}
	if selected == nil {
		return nil, models.Outcome{Stage: models.StageSelection, Outcome: models.OutcomeNoneViable, Detail: noneViableDetail}, nil
	}

	done = p.enter(ctx, models.StageAssembly)
	assembled, err := p.assembler.Assemble(ctx, selected.Candidate, pre.Text)
	done()
	if err != nil {
		return nil, models.Outcome{}, &StageError{models.StageAssembly, err}
	}

	done = p.enter(ctx, models.StageValidation)
	validation, err := p.validator.Validate(ctx, assembled, p.corpus.Embeddings())
	done()
	if err != nil {
		return nil, models.Outcome{}, &StageError{models.StageValidation, err}
	}
	validationScore.Observe(validation.Overall)
	p.publish(EventValidationScored, map[string]any{
		"name":           assembled.Name,
		"overall":        validation.Overall,
		"recommendation": string(validation.Recommendation),
	})
	if validation.Recommendation == models.Reject {
		return nil, models.Outcome{Stage: models.StageValidation, Outcome: models.OutcomeRejected, Detail: validation.Rationale}, nil
	}

	done = p.enter(ctx, models.StageStorage)
	rec, err := p.commit(ctx, assembled, validation, source)
	done()
	if err != nil {
		return nil, models.Outcome{}, &StageError{models.StageStorage, err}
	}
	p.publish(EventRecordCreated, map[string]any{
		"id":             rec.ID,
		"name":           rec.Assembled.Name,
		"structure_type": rec.Assembled.StructureType,
		"overall":        rec.Validation.Overall,
		"source_url":     source.URL,
	})
	return rec, models.Outcome{Stage: models.StageStorage, Outcome: models.OutcomeSuccess, Detail: rec.ID}, nil
}

// FullText is the text whose embedding represents a whole record.
func FullText(rec models.AssembledRecord) string {
	return fmt.Sprintf("%s | %s | %s: %s", rec.AnchorA, rec.Filling, rec.AnchorB, rec.Description)
}

// commit embeds the record and its ingredients and adds them to the corpus.
// The record is added first: it is the only step that can fail.
func (p *Pipeline) commit(ctx context.Context, rec models.AssembledRecord, validation models.ValidationResult, source models.SourceMetadata) (*models.StoredRecord, error) {
	vecs, err := p.embedder.EmbedBatch(ctx, []string{rec.AnchorA, rec.AnchorB, rec.Filling, FullText(rec)})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 4 {
		return nil, errs.Parse(fmt.Sprintf("embedder returned %d vectors for 4 texts", len(vecs)), "")
	}
	embs := models.RecordEmbeddings{AnchorA: vecs[0], AnchorB: vecs[1], Filling: vecs[2], Full: vecs[3]}

	id := p.newID()
	if err := p.corpus.AddSandwich(id, embs.Full, rec.StructureType); err != nil {
		return nil, errs.Fatal(errs.ConfigError, "corpus rejected record embedding", err)
	}

	var ings models.RecordIngredients
	for _, part := range []struct {
		text string
		kind models.IngredientKind
		emb  []float32
		dst  *models.Ingredient
	}{
		{rec.AnchorA, models.KindAnchor, embs.AnchorA, &ings.AnchorA},
		{rec.AnchorB, models.KindAnchor, embs.AnchorB, &ings.AnchorB},
		{rec.Filling, models.KindFilling, embs.Filling, &ings.Filling},
	} {
		ing, reused, err := p.corpus.Reuse(part.text, part.kind, part.emb, p.newID)
		if err != nil {
			return nil, err
		}
		if reused {
			p.logger.Debug("ingredient reused",
				zap.String("id", ing.ID),
				zap.String("text", ing.Text),
				zap.Int("usage_count", ing.UsageCount))
		}
		*part.dst = ing
	}

	return &models.StoredRecord{
		ID:          id,
		Assembled:   rec,
		Validation:  validation,
		Embeddings:  embs,
		Source:      source,
		Ingredients: ings,
		CreatedAt:   p.now().UTC(),
	}, nil
}

// enter notifies the stage hooks and returns a func that records the stage latency.
func (p *Pipeline) enter(ctx context.Context, stage models.Stage) func() {
	if p.onStage != nil {
		p.onStage(stage)
	}
	if fn, ok := ctx.Value(stageObserverKey{}).(func(models.Stage)); ok {
		fn(stage)
	}
	p.publish(EventStage, map[string]any{"stage": string(stage)})
	start := time.Now()
	return func() {
		stageSeconds.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
	}
}

func (p *Pipeline) publish(eventType string, data map[string]any) {
	if p.publisher != nil {
		p.publisher.Publish(eventType, data)
	}
}
