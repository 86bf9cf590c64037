package identify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MLenaBleile/sandy/internal/errs"
	"github.com/MLenaBleile/sandy/internal/llm"
	"github.com/MLenaBleile/sandy/internal/llm/llmtest"
	"github.com/MLenaBleile/sandy/internal/prompts"
)

func TestIdentify_SortsClampsAndCaps(t *testing.T) {
	gen := llmtest.New("```json\n" + `{"candidates": [
		{"bread_top": "a1", "bread_bottom": "b1", "filling": "f1", "structure_type": "Bound", "confidence": 0.4, "rationale": "r1"},
		{"bread_top": "a2", "bread_bottom": "b2", "filling": "f2", "structure_type": "temporal", "confidence": 1.7},
		{"bread_top": "", "bread_bottom": "b3", "filling": "f3", "confidence": 0.99},
		"not an object",
		{"bread_top": "a4", "bread_bottom": "b4", "filling": "f4", "structure_type": "weird", "confidence": "0.6"},
		{"bread_top": "a5", "bread_bottom": "b5", "filling": "f5", "confidence": -1},
		{"bread_top": "a6", "bread_bottom": "b6", "filling": "f6", "confidence": "high"}
	], "no_sandwich_reason": null}` + "\n```")

	res, err := New(gen, nil).Identify(context.Background(), "content")
	require.NoError(t, err)
	require.Len(t, res.Candidates, MaxCandidates)
	assert.Empty(t, res.NoCandidatesReason)

	assert.Equal(t, "a2", res.Candidates[0].AnchorA)
	assert.Equal(t, 1.0, res.Candidates[0].Confidence)
	assert.Equal(t, "a4", res.Candidates[1].AnchorA)
	assert.Equal(t, "weird", res.Candidates[1].StructureType)
	assert.Equal(t, "a1", res.Candidates[2].AnchorA)
	assert.Equal(t, "bound", res.Candidates[2].StructureType)

	calls := gen.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, llm.ComponentIdentify, calls[0].Component)
	assert.Equal(t, prompts.Persona, calls[0].System)
	assert.Contains(t, calls[0].Prompt, "content")
}

func TestIdentify_NoCandidatesReason(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   string
	}{
		{"model reason", `{"candidates": [], "no_sandwich_reason": "Just a list of dates."}`, "Just a list of dates."},
		{"fallback reason", `{"candidates": []}`, reasonNone},
		{"all malformed", `{"candidates": [{"filling": "x"}]}`, reasonNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := New(llmtest.New(tt.output), nil).Identify(context.Background(), "c")
			require.NoError(t, err)
			assert.Empty(t, res.Candidates)
			assert.Equal(t, tt.want, res.NoCandidatesReason)
		})
	}
}

func TestIdentify_RecoveryThenGiveUp(t *testing.T) {
	gen := llmtest.New("no json here", "still nothing")
	res, err := New(gen, nil).Identify(context.Background(), "c")
	require.NoError(t, err)
	assert.Empty(t, res.Candidates)
	assert.Equal(t, reasonUnparseable, res.NoCandidatesReason)

	calls := gen.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, llm.ComponentRecovery, calls[1].Component)
	assert.Equal(t, prompts.IdentifyRecoverySystem, calls[1].System)
	assert.Equal(t, prompts.IdentifyRecovery, calls[1].Prompt)
}

func TestIdentify_RecoverySucceeds(t *testing.T) {
	gen := llmtest.New("garbage", `{"candidates": [{"bread_top": "a", "bread_bottom": "b", "filling": "f", "confidence": 0.8}]}`)
	res, err := New(gen, nil).Identify(context.Background(), "c")
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, 0.8, res.Candidates[0].Confidence)
}

func TestIdentify_GenerationErrorPropagates(t *testing.T) {
	gen := llmtest.New().PushError(errs.Fatal(errs.AuthError, "bad key", nil))
	_, err := New(gen, nil).Identify(context.Background(), "c")
	assert.True(t, errs.IsFatal(err))
}

func TestIdentify_FatalDuringRecoveryPropagates(t *testing.T) {
	gen := llmtest.New("garbage").PushError(errs.Fatal(errs.AuthError, "revoked", nil))
	_, err := New(gen, nil).Identify(context.Background(), "c")
	assert.True(t, errs.IsFatal(err))
}
