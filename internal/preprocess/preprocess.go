// Package preprocess cleans raw content and gates it on length, language and
// a heuristic quality score before any generation call is made.
package preprocess

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/MLenaBleile/sandy/internal/errs"
	"github.com/MLenaBleile/sandy/internal/models"
)

// SkipReason says why content was not carried forward. The zero value means
// the content passed.
type SkipReason string

const (
	SkipNone        SkipReason = ""
	SkipTooShort    SkipReason = SkipReason(errs.TooShort)
	SkipBoilerplate SkipReason = SkipReason(errs.Boilerplate)
	SkipNonEnglish  SkipReason = SkipReason(errs.NonEnglish)
	SkipLowQuality  SkipReason = SkipReason(errs.LowQuality)
)

// Config controls the gates. A zero MinLength or QualityThreshold disables
// that gate; negative values and an unset MaxLength take the defaults.
type Config struct {
	MinLength           int      `yaml:"min_length" mapstructure:"min_length" validate:"gte=0"`
	MaxLength           int      `yaml:"max_length" mapstructure:"max_length" validate:"gtefield=MinLength"`
	AllowedLanguages    []string `yaml:"allowed_languages" mapstructure:"allowed_languages"`
	QualityThreshold    float64  `yaml:"quality_threshold" mapstructure:"quality_threshold" validate:"gte=0,lte=1"`
	BoilerplatePatterns []string `yaml:"boilerplate_patterns" mapstructure:"boilerplate_patterns"`
}

// DefaultConfig returns the default gates.
func DefaultConfig() Config {
	return Config{
		MinLength:           200,
		MaxLength:           10000,
		AllowedLanguages:    []string{"en"},
		QualityThreshold:    0.4,
		BoilerplatePatterns: slices.Clone(DefaultBoilerplatePatterns),
	}
}

// Result is the outcome of preprocessing one piece of content. Text is empty
// whenever Skip is set. Lengths are in characters.
type Result struct {
	Text            string     `json:"text,omitempty"`
	Skip            bool       `json:"skip"`
	SkipReason      SkipReason `json:"skip_reason,omitempty"`
	QualityScore    float64    `json:"quality_score"`
	OriginalLength  int        `json:"original_length"`
	ProcessedLength int        `json:"processed_length"`
	Language        string     `json:"language"`
}

// Err returns the skip as a content error, or nil when the content passed.
func (r Result) Err() error {
	if !r.Skip {
		return nil
	}
	return errs.Content(errs.Reason(r.SkipReason), fmt.Sprintf("content skipped: %s", r.SkipReason))
}

var sentenceEnd = regexp.MustCompile(`[.!?][\s"]`)

// Preprocessor is stateless after construction and safe for concurrent use.
type Preprocessor struct {
	cfg      Config
	patterns []*regexp.Regexp
	detector LanguageDetector
	logger   *zap.Logger
}

// Option configures a Preprocessor.
type Option func(*Preprocessor)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Preprocessor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New builds a Preprocessor. The detector is required; build a LinguaDetector
// once per process and share it.
func New(cfg Config, detector LanguageDetector, opts ...Option) (*Preprocessor, error) {
	if detector == nil {
		return nil, fmt.Errorf("language detector is required")
	}
	def := DefaultConfig()
	if cfg.MinLength < 0 {
		cfg.MinLength = def.MinLength
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = def.MaxLength
	}
	if len(cfg.AllowedLanguages) == 0 {
		cfg.AllowedLanguages = def.AllowedLanguages
	}
	if cfg.QualityThreshold < 0 {
		cfg.QualityThreshold = def.QualityThreshold
	}
	if cfg.BoilerplatePatterns == nil {
		cfg.BoilerplatePatterns = def.BoilerplatePatterns
	}
	patterns, err := compilePatterns(cfg.BoilerplatePatterns)
	if err != nil {
		return nil, errs.Fatal(errs.ConfigError, "compile boilerplate patterns", err)
	}
	p := &Preprocessor{cfg: cfg, patterns: patterns, detector: detector, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Config returns the effective configuration.
func (p *Preprocessor) Config() Config { return p.cfg }

// Process runs extraction, boilerplate removal, the length floor, the
// language filter, the length ceiling and the quality gate, stopping at the
// first gate that rejects.
func (p *Preprocessor) Process(content string, kind models.ContentKind) Result {
	originalLength := utf8.RuneCountInString(content)

	text := content
	if kind == models.ContentMarkup {
		extracted, err := ExtractMainText(content)
		if err != nil {
			p.logger.Warn("markup extraction failed, using raw content", zap.Error(err))
		} else {
			text = extracted
		}
	}

	text = removeBoilerplate(text, p.patterns)
	text = strings.TrimSpace(excessNewlines.ReplaceAllString(text, "\n\n"))

	if text == "" || utf8.RuneCountInString(text) < p.cfg.MinLength {
		reason := SkipTooShort
		if originalLength >= p.cfg.MinLength && strings.TrimSpace(content) != "" {
			reason = SkipBoilerplate
		}
		return p.skip(reason, 0, originalLength, text, UnknownLanguage)
	}

	language := p.detector.Detect(text)
	if !slices.Contains(p.cfg.AllowedLanguages, language) {
		return p.skip(SkipNonEnglish, 0, originalLength, text, language)
	}

	text, reason := normalizeLength(text, p.cfg.MinLength, p.cfg.MaxLength)
	if reason != SkipNone {
		return p.skip(reason, 0, originalLength, text, language)
	}

	score := Quality(text)
	if score < p.cfg.QualityThreshold {
		return p.skip(SkipLowQuality, score, originalLength, text, language)
	}

	processed := utf8.RuneCountInString(text)
	p.logger.Debug("preprocessed",
		zap.Int("original_length", originalLength),
		zap.Int("processed_length", processed),
		zap.String("language", language),
		zap.Float64("quality", score))

	return Result{
		Text:            text,
		QualityScore:    score,
		OriginalLength:  originalLength,
		ProcessedLength: processed,
		Language:        language,
	}
}

func (p *Preprocessor) skip(reason SkipReason, score float64, originalLength int, text, language string) Result {
	p.logger.Debug("content skipped", zap.String("reason", string(reason)), zap.Int("original_length", originalLength))
	return Result{
		Skip:            true,
		SkipReason:      reason,
		QualityScore:    score,
		OriginalLength:  originalLength,
		ProcessedLength: utf8.RuneCountInString(text),
		Language:        language,
	}
}

// normalizeLength enforces the floor and truncates above the ceiling, at the
// last sentence boundary past the halfway mark when there is one.
func normalizeLength(text string, minLength, maxLength int) (string, SkipReason) {
	n := utf8.RuneCountInString(text)
	if n < minLength {
		return text, SkipTooShort
	}
	if n <= maxLength {
		return text, SkipNone
	}

	runes := []rune(text)
	truncated := string(runes[:maxLength])
	matches := sentenceEnd.FindAllStringIndex(truncated, -1)
	if len(matches) > 0 {
		end := matches[len(matches)-1][1]
		if float64(utf8.RuneCountInString(truncated[:end])) > float64(maxLength)*0.5 {
			return strings.TrimRightFunc(truncated[:end], isSpace), SkipNone
		}
	}
	return strings.TrimRightFunc(truncated, isSpace), SkipNone
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r' || r == '\f' || r == '\v'
}
