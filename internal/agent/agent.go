// Package agent runs autonomous foraging sessions: pick a topic, fetch
// content for it, run the pipeline, and keep going until patience runs out.
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MLenaBleile/sandy/internal/errs"
	"github.com/MLenaBleile/sandy/internal/events"
	"github.com/MLenaBleile/sandy/internal/llm"
	"github.com/MLenaBleile/sandy/internal/models"
	"github.com/MLenaBleile/sandy/internal/pipeline"
	"github.com/MLenaBleile/sandy/internal/prompts"
	"github.com/MLenaBleile/sandy/internal/sources"
	"github.com/MLenaBleile/sandy/internal/storage"
)

// Voice lines emitted during a session.
const (
	VoiceSessionStart      = "The morning is fresh. The internet is vast. Somewhere in it: bread."
	VoiceSessionEnd        = "A good session. I rest now. The sandwiches wait for no one, but they are patient."
	VoiceSuccess           = "Another sandwich, complete. The corpus grows. Structure emerges from the formless."
	VoiceNoContent         = "The kitchen is closed. I wait. The bread does not spoil."
	VoiceNoCandidates      = "All filling, no structure. A soup. I make sandwiches, not soups."
	VoiceRejected          = "I could force this. But a forced sandwich nourishes no one. I let it go."
	VoicePatienceExhausted = "Patience is a virtue, but even Reuben has limits. Tomorrow the internet will have new bread."
	VoiceFatal             = "Something in the kitchen is broken. I stop before the bread burns."
)

const (
	noContentDetail         = "no_content"
	maxTopicChars           = 100
	defaultRecentTopicLimit = 20
)

// State is where the agent is in a cycle.
type State string

const (
	StateIdle          State = "idle"
	StateForaging      State = "foraging"
	StatePreprocessing State = "preprocessing"
	StateIdentifying   State = "identifying"
	StateSelecting     State = "selecting"
	StateAssembling    State = "assembling"
	StateValidating    State = "validating"
	StateStoring       State = "storing"
	StateSessionEnd    State = "session_end"
)

var stageStates = map[models.Stage]State{
	models.StagePreprocessing:  StatePreprocessing,
	models.StageIdentification: StateIdentifying,
	models.StageSelection:      StateSelecting,
	models.StageAssembly:       StateAssembling,
	models.StageValidation:     StateValidating,
	models.StageStorage:        StateStoring,
}

// Stop reasons recorded on a Session.
const (
	StopPatience  = "patience_exhausted"
	StopSandwich  = "sandwich_limit"
	StopDuration  = "duration_limit"
	StopFatal     = "fatal_error"
	StopCancelled = "cancelled"
)

// Config controls session pacing.
type Config struct {
	MaxPatience   int           `yaml:"max_patience" mapstructure:"max_patience" validate:"gte=1"`
	RecentTopics  int           `yaml:"recent_topics" mapstructure:"recent_topics" validate:"gte=1"`
	MaxSandwiches int           `yaml:"max_sandwiches" mapstructure:"max_sandwiches" validate:"gte=0"`
	MaxDuration   time.Duration `yaml:"max_duration" mapstructure:"max_duration" validate:"gte=0"`
	// Curiosity asks the generator for a topic each cycle. When off, the
	// source picks content at random.
	Curiosity bool `yaml:"curiosity" mapstructure:"curiosity"`
}

// DefaultConfig returns the default session settings.
func DefaultConfig() Config {
	return Config{
		MaxPatience:  5,
		RecentTopics: defaultRecentTopicLimit,
		Curiosity:    true,
	}
}

// Maker runs content through the pipeline.
type Maker interface {
	MakeSandwich(ctx context.Context, content string, source models.SourceMetadata) (*models.StoredRecord, models.Outcome, error)
}

// Session is one agent working session.
type Session struct {
	ID               string                 `json:"id"`
	StartedAt        time.Time              `json:"started_at"`
	EndedAt          time.Time              `json:"ended_at"`
	SandwichesMade   int                    `json:"sandwiches_made"`
	ForagingAttempts int                    `json:"foraging_attempts"`
	Messages         []string               `json:"messages"`
	Records          []*models.StoredRecord `json:"-"`
	StopReason       string                 `json:"stop_reason"`
}

// Agent drives foraging sessions. Run must not be called concurrently.
type Agent struct {
	cfg       Config
	maker     Maker
	gen       llm.Generator
	source    sources.Source
	store     storage.Storage
	publisher pipeline.Publisher
	onStored  func(context.Context, *models.StoredRecord) error
	emitFn    func(string)
	logger    *zap.Logger
	now       func() time.Time

	mu       sync.Mutex
	state    State
	patience int
	recent   []string
	session  *Session
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithPublisher publishes foraging and state events.
func WithPublisher(pub pipeline.Publisher) Option {
	return func(a *Agent) { a.publisher = pub }
}

// WithOutcomeLog records every cycle outcome in store.
func WithOutcomeLog(store storage.Storage) Option {
	return func(a *Agent) { a.store = store }
}

// OnStored is called with every record the pipeline commits. A returned
// error is logged and the session continues.
func OnStored(fn func(context.Context, *models.StoredRecord) error) Option {
	return func(a *Agent) { a.onStored = fn }
}

// WithEmitter receives every voice line.
func WithEmitter(fn func(string)) Option {
	return func(a *Agent) { a.emitFn = fn }
}

// WithClock overrides the session clock.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// New returns an agent. gen may be nil when cfg.Curiosity is off.
func New(cfg Config, maker Maker, gen llm.Generator, source sources.Source, opts ...Option) (*Agent, error) {
	if maker == nil || source == nil {
		return nil, errs.Fatal(errs.ConfigError, "agent needs a pipeline and a source", nil)
	}
	if cfg.Curiosity && gen == nil {
		return nil, errs.Fatal(errs.ConfigError, "curiosity needs a generator", nil)
	}
	if cfg.MaxPatience <= 0 {
		cfg.MaxPatience = DefaultConfig().MaxPatience
	}
	if cfg.RecentTopics <= 0 {
		cfg.RecentTopics = defaultRecentTopicLimit
	}
	a := &Agent{
		cfg:    cfg,
		maker:  maker,
		gen:    gen,
		source: source,
		logger: zap.NewNop(),
		now:    time.Now,
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// State returns the current state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Patience returns the remaining patience.
func (a *Agent) Patience() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.patience
}

// RecentTopics returns the topics the agent is steering away from, oldest first.
func (a *Agent) RecentTopics() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.recent...)
}

// Run works until patience is exhausted, maxSandwiches records are made,
// maxDuration elapses, ctx is cancelled, or a fatal error occurs. Zero limits
// fall back to the configured ones; zero there means unlimited. The session
// is returned in every case; the error is non-nil only for fatal errors.
func (a *Agent) Run(ctx context.Context, maxSandwiches int, maxDuration time.Duration) (*Session, error) {
	if maxSandwiches <= 0 {
		maxSandwiches = a.cfg.MaxSandwiches
	}
	if maxDuration <= 0 {
		maxDuration = a.cfg.MaxDuration
	}

	s := a.start()
	var fatal error
	for {
		if reason := a.shouldStop(ctx, s, maxSandwiches, maxDuration); reason != "" {
			s.StopReason = reason
			break
		}
		err := a.cycle(ctx, s)
		if err == nil {
			continue
		}
		if errs.IsFatal(err) {
			a.logger.Error("session stopped by fatal error", zap.String("session", s.ID), zap.Error(err))
			a.emit(VoiceFatal)
			s.StopReason = StopFatal
			fatal = err
			break
		}
		if ctx.Err() != nil {
			continue
		}
		a.logger.Warn("cycle failed", zap.String("session", s.ID), zap.Error(err))
		a.losePatience()
	}
	a.end(s)
	return s, fatal
}

func (a *Agent) start() *Session {
	s := &Session{ID: uuid.NewString(), StartedAt: a.now()}
	a.mu.Lock()
	a.session = s
	a.patience = a.cfg.MaxPatience
	a.mu.Unlock()
	a.emit(VoiceSessionStart)
	a.logger.Info("session started", zap.String("session", s.ID), zap.Int("patience", a.cfg.MaxPatience))
	return s
}

func (a *Agent) end(s *Session) {
	s.EndedAt = a.now()
	if a.Patience() <= 0 {
		a.emit(VoicePatienceExhausted)
	}
	a.emit(VoiceSessionEnd)
	a.setState(StateSessionEnd)
	a.logger.Info("session ended",
		zap.String("session", s.ID),
		zap.String("reason", s.StopReason),
		zap.Int("sandwiches", s.SandwichesMade),
		zap.Int("attempts", s.ForagingAttempts),
		zap.Duration("elapsed", s.EndedAt.Sub(s.StartedAt)))
}

func (a *Agent) shouldStop(ctx context.Context, s *Session, maxSandwiches int, maxDuration time.Duration) string {
	switch {
	case ctx.Err() != nil:
		return StopCancelled
	case a.Patience() <= 0:
		return StopPatience
	case maxSandwiches > 0 && s.SandwichesMade >= maxSandwiches:
		return StopSandwich
	case maxDuration > 0 && a.now().Sub(s.StartedAt) >= maxDuration:
		return StopDuration
	}
	return ""
}

// cycle runs one forage and pipeline pass. Ordinary outcomes are handled
// here; only failures are returned.
func (a *Agent) cycle(ctx context.Context, s *Session) error {
	defer a.setState(StateIdle)
	a.setState(StateForaging)
	s.ForagingAttempts++

	topic, err := a.curiosity(ctx)
	if err != nil {
		return err
	}
	a.publish(events.ForagingStarted, map[string]any{"session_id": s.ID, "query": topic, "source": a.source.Name()})

	res, err := a.fetch(ctx, topic)
	if err != nil {
		return err
	}
	a.publish(events.ForagingCompleted, map[string]any{
		"session_id": s.ID,
		"query":      topic,
		"url":        res.URL,
		"title":      res.Title,
		"found":      !res.Empty(),
	})
	if res.Empty() {
		a.record(ctx, s, res.URL, models.Outcome{Stage: models.StageForaging, Outcome: models.OutcomeSkipped, Detail: noContentDetail}, nil)
		a.emit(VoiceNoContent)
		a.losePatience()
		return nil
	}
	if topic != "" {
		a.remember(topic)
	}

	observed := pipeline.ObserveStages(ctx, func(stage models.Stage) {
		if st, ok := stageStates[stage]; ok {
			a.setState(st)
		}
	})
	rec, outcome, err := a.maker.MakeSandwich(observed, res.Content, res.SourceMetadata())
	if err != nil {
		return err
	}
	a.record(ctx, s, res.URL, outcome, rec)

	switch outcome.Outcome {
	case models.OutcomeSuccess:
		a.succeed(ctx, s, rec)
		return nil
	case models.OutcomeNoCandidates, models.OutcomeNoneViable:
		a.emit(VoiceNoCandidates)
	case models.OutcomeRejected:
		a.emit(VoiceRejected)
	default:
		a.emit(VoiceNoContent)
	}
	a.losePatience()
	return nil
}

// curiosity asks the generator for a topic. A non-fatal generator failure
// leaves the topic empty, which makes the source pick at random.
func (a *Agent) curiosity(ctx context.Context) (string, error) {
	if !a.cfg.Curiosity {
		return "", nil
	}
	prompt, err := prompts.Curiosity(a.RecentTopics())
	if err != nil {
		return "", err
	}
	text, err := a.gen.Call(llm.WithComponent(ctx, llm.ComponentCuriosity), prompts.Persona, prompt)
	if err != nil {
		if errs.IsFatal(err) || ctx.Err() != nil {
			return "", err
		}
		a.logger.Warn("curiosity failed, foraging at random", zap.Error(err))
		return "", nil
	}
	return cleanTopic(text), nil
}

func cleanTopic(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	return strings.Trim(strings.TrimSpace(text), `"'`)
}

func (a *Agent) fetch(ctx context.Context, topic string) (sources.Result, error) {
	res, err := a.source.Fetch(ctx, topic)
	if err == nil {
		return res, nil
	}
	if errs.IsFatal(err) || ctx.Err() != nil {
		return sources.Result{}, err
	}
	a.logger.Warn("forage failed", zap.String("source", a.source.Name()), zap.String("query", topic), zap.Error(err))
	return sources.Result{}, nil
}

func (a *Agent) succeed(ctx context.Context, s *Session, rec *models.StoredRecord) {
	s.SandwichesMade++
	s.Records = append(s.Records, rec)
	a.mu.Lock()
	a.patience = a.cfg.MaxPatience
	a.mu.Unlock()

	if a.onStored != nil {
		if err := a.onStored(ctx, rec); err != nil {
			a.logger.Warn("failed to persist record", zap.String("id", rec.ID), zap.Error(err))
		}
	}
	a.emit(fmt.Sprintf("%s '%s' - validity %.2f.", VoiceSuccess, rec.Assembled.Name, rec.Validation.Overall))
}

func (a *Agent) record(ctx context.Context, s *Session, url string, outcome models.Outcome, rec *models.StoredRecord) {
	if a.store == nil {
		return
	}
	entry := models.OutcomeLogEntry{
		ID:        uuid.NewString(),
		Timestamp: a.now().UTC(),
		SessionID: s.ID,
		SourceURL: url,
		Stage:     outcome.Stage,
		Outcome:   outcome.Outcome,
		Detail:    outcome.Detail,
	}
	if rec != nil {
		entry.RecordID = rec.ID
	}
	if err := a.store.LogOutcome(ctx, entry); err != nil {
		a.logger.Warn("failed to log outcome", zap.Error(err))
	}
}

// remember keeps the last RecentTopics topics, each cut to maxTopicChars.
func (a *Agent) remember(topic string) {
	if r := []rune(topic); len(r) > maxTopicChars {
		topic = string(r[:maxTopicChars])
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recent = append(a.recent, topic)
	if n := len(a.recent) - a.cfg.RecentTopics; n > 0 {
		a.recent = append([]string(nil), a.recent[n:]...)
	}
}

func (a *Agent) losePatience() {
	a.mu.Lock()
	a.patience--
	a.mu.Unlock()
}

func (a *Agent) setState(to State) {
	a.mu.Lock()
	from := a.state
	a.state = to
	var id string
	if a.session != nil {
		id = a.session.ID
	}
	a.mu.Unlock()
	if from == to {
		return
	}
	a.publish(events.SessionStateChanged, map[string]any{"session_id": id, "from": string(from), "to": string(to)})
}

func (a *Agent) emit(msg string) {
	a.mu.Lock()
	if a.session != nil {
		a.session.Messages = append(a.session.Messages, msg)
	}
	a.mu.Unlock()
	if a.emitFn != nil {
		a.emitFn(msg)
	}
	a.logger.Info("sandy says", zap.String("message", msg))
}

func (a *Agent) publish(eventType string, data map[string]any) {
	if a.publisher != nil {
		a.publisher.Publish(eventType, data)
	}
}
