package agent

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MLenaBleile/sandy/internal/corpus"
	"github.com/MLenaBleile/sandy/internal/embedding"
	"github.com/MLenaBleile/sandy/internal/errs"
	"github.com/MLenaBleile/sandy/internal/events"
	"github.com/MLenaBleile/sandy/internal/llm"
	"github.com/MLenaBleile/sandy/internal/llm/llmtest"
	"github.com/MLenaBleile/sandy/internal/models"
	"github.com/MLenaBleile/sandy/internal/pipeline"
	"github.com/MLenaBleile/sandy/internal/preprocess"
	"github.com/MLenaBleile/sandy/internal/sources"
	"github.com/MLenaBleile/sandy/internal/storage"
)

var (
	rejected = models.Outcome{Stage: models.StageValidation, Outcome: models.OutcomeRejected, Detail: "weak"}
	success  = models.Outcome{Stage: models.StageStorage, Outcome: models.OutcomeSuccess}
	noCands  = models.Outcome{Stage: models.StageIdentification, Outcome: models.OutcomeNoCandidates}
)

type step struct {
	outcome models.Outcome
	err     error
}

// scriptedMaker replays steps; the last step repeats.
type scriptedMaker struct {
	mu       sync.Mutex
	steps    []step
	contents []string
}

func (m *scriptedMaker) MakeSandwich(_ context.Context, content string, _ models.SourceMetadata) (*models.StoredRecord, models.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := len(m.contents)
	m.contents = append(m.contents, content)
	st := m.steps[min(i, len(m.steps)-1)]
	if st.err != nil {
		return nil, models.Outcome{}, st.err
	}
	if st.outcome.Outcome != models.OutcomeSuccess {
		return nil, st.outcome, nil
	}
	rec := &models.StoredRecord{
		ID:         fmt.Sprintf("rec-%d", i),
		Assembled:  models.AssembledRecord{Name: "Tidal Melt"},
		Validation: models.ValidationResult{Overall: 0.82},
	}
	out := st.outcome
	out.Detail = rec.ID
	return rec, out, nil
}

func (m *scriptedMaker) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.contents)
}

type fakeSource struct {
	mu      sync.Mutex
	content string
	err     error
	queries []string
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Fetch(_ context.Context, query string) (sources.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	if f.err != nil {
		return sources.Result{}, f.err
	}
	return sources.Result{Content: f.content, URL: "https://example.org/" + strings.ReplaceAll(query, " ", "_"), ContentKind: models.ContentPlain}, nil
}

func (f *fakeSource) FetchRandom(ctx context.Context) (sources.Result, error) {
	return f.Fetch(ctx, "")
}

func quietConfig(patience int) Config {
	cfg := DefaultConfig()
	cfg.MaxPatience = patience
	cfg.Curiosity = false
	return cfg
}

func newAgent(t *testing.T, cfg Config, maker Maker, gen llm.Generator, src sources.Source, opts ...Option) *Agent {
	t.Helper()
	a, err := New(cfg, maker, gen, src, opts...)
	require.NoError(t, err)
	return a
}

func TestRun_PatienceExhausted(t *testing.T) {
	maker := &scriptedMaker{steps: []step{{outcome: rejected}}}
	a := newAgent(t, quietConfig(3), maker, nil, &fakeSource{content: "bread"})

	s, err := a.Run(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, StopPatience, s.StopReason)
	assert.Equal(t, 3, s.ForagingAttempts)
	assert.Zero(t, s.SandwichesMade)
	assert.Equal(t, 0, a.Patience())
	assert.Equal(t, StateSessionEnd, a.State())
	assert.Equal(t, []string{
		VoiceSessionStart, VoiceRejected, VoiceRejected, VoiceRejected,
		VoicePatienceExhausted, VoiceSessionEnd,
	}, s.Messages)
	assert.False(t, s.EndedAt.IsZero())
}

func TestRun_SuccessResetsPatience(t *testing.T) {
	maker := &scriptedMaker{steps: []step{
		{outcome: rejected}, {outcome: noCands}, {outcome: success}, {outcome: rejected},
	}}
	var stored []string
	a := newAgent(t, quietConfig(3), maker, nil, &fakeSource{content: "bread"},
		OnStored(func(_ context.Context, rec *models.StoredRecord) error {
			stored = append(stored, rec.ID)
			return errors.New("disk full")
		}))

	s, err := a.Run(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 6, s.ForagingAttempts)
	assert.Equal(t, 1, s.SandwichesMade)
	require.Len(t, s.Records, 1)
	assert.Equal(t, []string{"rec-2"}, stored)
	assert.Contains(t, s.Messages, VoiceNoCandidates)
	assert.Contains(t, s.Messages, VoiceSuccess+" 'Tidal Melt' - validity 0.82.")
}

func TestRun_SandwichLimit(t *testing.T) {
	maker := &scriptedMaker{steps: []step{{outcome: success}}}
	a := newAgent(t, quietConfig(5), maker, nil, &fakeSource{content: "bread"})

	s, err := a.Run(context.Background(), 2, 0)
	require.NoError(t, err)
	assert.Equal(t, StopSandwich, s.StopReason)
	assert.Equal(t, 2, s.SandwichesMade)
	assert.Equal(t, 2, maker.calls())
	assert.Equal(t, 5, a.Patience())
	assert.NotContains(t, s.Messages, VoicePatienceExhausted)
}

func TestRun_DurationLimit(t *testing.T) {
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	n := 0
	clock := func() time.Time {
		n++
		return start.Add(time.Duration(n) * time.Minute)
	}
	maker := &scriptedMaker{steps: []step{{outcome: rejected}}}
	a := newAgent(t, quietConfig(10), maker, nil, &fakeSource{content: "bread"}, WithClock(clock))

	s, err := a.Run(context.Background(), 0, 90*time.Second)
	require.NoError(t, err)
	assert.Equal(t, StopDuration, s.StopReason)
	assert.Equal(t, 1, s.ForagingAttempts)
}

func TestRun_FatalErrorEndsSession(t *testing.T) {
	fatal := errs.Fatal(errs.DatabaseDown, "db gone", nil)
	maker := &scriptedMaker{steps: []step{{outcome: rejected}, {err: &pipeline.StageError{Stage: models.StageStorage, Err: fatal}}}}
	a := newAgent(t, quietConfig(5), maker, nil, &fakeSource{content: "bread"})

	s, err := a.Run(context.Background(), 0, 0)
	require.Error(t, err)
	assert.True(t, errs.IsFatal(err))
	assert.Equal(t, StopFatal, s.StopReason)
	assert.Equal(t, 2, s.ForagingAttempts)
	require.GreaterOrEqual(t, len(s.Messages), 2)
	assert.Equal(t, VoiceFatal, s.Messages[len(s.Messages)-2])
	assert.Equal(t, VoiceSessionEnd, s.Messages[len(s.Messages)-1])
	assert.NotContains(t, s.Messages, VoiceNoContent)
}

func TestRun_RetryableErrorsCostPatience(t *testing.T) {
	maker := &scriptedMaker{steps: []step{{err: errs.Retryable(errs.RateLimit, "slow down", nil)}}}
	a := newAgent(t, quietConfig(2), maker, nil, &fakeSource{content: "bread"})

	s, err := a.Run(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, StopPatience, s.StopReason)
	assert.Equal(t, 2, maker.calls())
}

func TestRun_EmptyContentSkipsPipeline(t *testing.T) {
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "sandy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	maker := &scriptedMaker{steps: []step{{outcome: success}}}
	a := newAgent(t, quietConfig(2), maker, nil, &fakeSource{err: errors.New("connection reset")}, WithOutcomeLog(store))

	s, err := a.Run(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Zero(t, maker.calls())
	assert.Equal(t, StopPatience, s.StopReason)
	assert.Equal(t, VoiceNoContent, s.Messages[1])

	logged, err := store.ListOutcomes(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, logged, 2)
	assert.Equal(t, models.StageForaging, logged[0].Stage)
	assert.Equal(t, models.OutcomeSkipped, logged[0].Outcome)
	assert.Equal(t, s.ID, logged[0].SessionID)
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	maker := &scriptedMaker{steps: []step{{outcome: success}}}
	a := newAgent(t, quietConfig(2), maker, nil, &fakeSource{content: "bread"})

	s, err := a.Run(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, StopCancelled, s.StopReason)
	assert.Zero(t, maker.calls())
}

func TestCuriosity_SteersAwayFromRecentTopics(t *testing.T) {
	gen := llmtest.New().On(llm.ComponentCuriosity, "\"Tidal locking\"\nBecause moons.", "Rope bridges")
	src := &fakeSource{content: "bread"}
	maker := &scriptedMaker{steps: []step{{outcome: success}}}
	cfg := DefaultConfig()
	a := newAgent(t, cfg, maker, gen, src)

	_, err := a.Run(context.Background(), 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Tidal locking", "Rope bridges"}, src.queries)
	assert.Equal(t, []string{"Tidal locking", "Rope bridges"}, a.RecentTopics())

	calls := gen.Calls()
	require.Len(t, calls, 2)
	assert.NotContains(t, calls[0].Prompt, "Tidal locking")
	assert.Contains(t, calls[1].Prompt, "Tidal locking")
}

func TestCuriosity_FailureForagesAtRandom(t *testing.T) {
	gen := llmtest.New().PushError(errs.Retryable(errs.Timeout, "slow", nil))
	src := &fakeSource{content: "bread"}
	maker := &scriptedMaker{steps: []step{{outcome: success}}}
	a := newAgent(t, DefaultConfig(), maker, gen, src)

	_, err := a.Run(context.Background(), 1, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{""}, src.queries)
	assert.Empty(t, a.RecentTopics())
}

func TestRecentTopicsAreBounded(t *testing.T) {
	long := strings.Repeat("x", 150)
	gen := llmtest.New().On(llm.ComponentCuriosity, "one", "two", long)
	cfg := DefaultConfig()
	cfg.RecentTopics = 2
	a := newAgent(t, cfg, &scriptedMaker{steps: []step{{outcome: success}}}, gen, &fakeSource{content: "bread"})

	_, err := a.Run(context.Background(), 3, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"two", strings.Repeat("x", 100)}, a.RecentTopics())
}

func TestNew_Validation(t *testing.T) {
	_, err := New(DefaultConfig(), &scriptedMaker{}, nil, &fakeSource{})
	assert.True(t, errs.IsFatal(err))
	_, err = New(quietConfig(1), nil, nil, &fakeSource{})
	assert.True(t, errs.IsFatal(err))
}

const article = `The tides are governed by the gravitational pull of the moon and the sun. When the two bodies align, their combined force produces spring tides, which rise higher and fall lower than usual.

Neap tides occur when the moon and sun pull at right angles. Sailors, fishermen, and coastal engineers all plan around these cycles; a harbour that is navigable at noon may be a mudflat by evening. Short sentences help too.`

func TestRun_WithPipelinePublishesStates(t *testing.T) {
	gen := llmtest.New().
		On(llm.ComponentIdentify, `{"candidates": [{"bread_top": "moon", "bread_bottom": "sun", "filling": "tide height", "structure_type": "bound", "confidence": 0.9, "rationale": "both pull"}], "no_sandwich_reason": null}`).
		On(llm.ComponentAssemble, `{"name": "Tidal Melt", "description": "Tide height is set by two bodies.", "containment_argument": "Neither body alone fixes it.", "sandy_commentary": "Wet bread."}`).
		On(llm.ComponentJudge, `{"bread_compat_score": 0.9, "containment_score": 0.9, "specificity_score": 0.9, "rationale": "judged"}`)
	emb, err := embedding.NewStaticEmbedder(map[string][]float32{
		"moon":        {1, 0, 0, 0},
		"sun":         {0, 1, 0, 0},
		"tide height": {0, 0, 1, 0},
	})
	require.NoError(t, err)
	detector := preprocess.DetectorFunc(func(string) string { return "en" })
	p, err := pipeline.New(pipeline.DefaultConfig(), corpus.New(), gen, emb, detector)
	require.NoError(t, err)

	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "sandy.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bus := events.New()
	var states []string
	bus.Subscribe(events.SessionStateChanged, func(e events.Event) {
		states = append(states, e.Data["to"].(string))
	})

	a := newAgent(t, quietConfig(2), p, nil, &fakeSource{content: article},
		WithPublisher(bus),
		WithOutcomeLog(store),
		OnStored(store.SaveRecord))

	s, err := a.Run(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Equal(t, 1, s.SandwichesMade)
	assert.Equal(t, []string{
		string(StateForaging), string(StatePreprocessing), string(StateIdentifying),
		string(StateSelecting), string(StateAssembling), string(StateValidating),
		string(StateStoring), string(StateIdle), string(StateSessionEnd),
	}, states)
	assert.Len(t, bus.Recent(10, events.ForagingCompleted), 1)

	n, err := store.CountRecords(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	logged, err := store.ListOutcomes(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, s.Records[0].ID, logged[0].RecordID)
}
