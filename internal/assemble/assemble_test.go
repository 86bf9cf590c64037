package assemble

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MLenaBleile/sandy/internal/errs"
	"github.com/MLenaBleile/sandy/internal/llm"
	"github.com/MLenaBleile/sandy/internal/llm/llmtest"
	"github.com/MLenaBleile/sandy/internal/models"
)

var candidate = models.Candidate{
	AnchorA: "supply", AnchorB: "demand", Filling: "price", StructureType: "bound", Confidence: 0.9,
}

const goodOutput = `{"name": " Market Melt ", "description": "Price sits between supply and demand.",
 "containment_argument": "Both curves fix it.", "sandy_commentary": "A classic."}`

func TestAssemble(t *testing.T) {
	gen := llmtest.New(goodOutput)
	content := strings.Repeat("é", 800)

	rec, err := New(gen, nil).Assemble(context.Background(), candidate, content)
	require.NoError(t, err)

	assert.Equal(t, "Market Melt", rec.Name)
	assert.Equal(t, "A classic.", rec.Commentary)
	assert.Equal(t, "supply", rec.AnchorA)
	assert.Equal(t, "demand", rec.AnchorB)
	assert.Equal(t, "price", rec.Filling)
	assert.Equal(t, "bound", rec.StructureType)
	assert.Equal(t, SnippetLength, len([]rune(rec.SourceSnippet)))

	calls := gen.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, llm.ComponentAssemble, calls[0].Component)
	assert.NotContains(t, calls[0].Prompt, strings.Repeat("é", 501))
}

func TestAssemble_IgnoresModelIngredients(t *testing.T) {
	out := `{"name": "n", "description": "d", "containment_argument": "c", "sandy_commentary": "s", "bread_top": "hijacked"}`
	rec, err := New(llmtest.New(out), nil).Assemble(context.Background(), candidate, "text")
	require.NoError(t, err)
	assert.Equal(t, "supply", rec.AnchorA)
}

func TestAssemble_BlankFieldIsParseError(t *testing.T) {
	out := `{"name": "n", "description": "   ", "containment_argument": "c", "sandy_commentary": "s"}`
	gen := llmtest.New(out, out)
	_, err := New(gen, nil).Assemble(context.Background(), candidate, "text")
	pe, ok := errs.AsParse(err)
	require.True(t, ok)
	assert.Equal(t, out, pe.RawOutput)
	assert.Equal(t, []string{"description"}, pe.Context["missing"])
	assert.Equal(t, 1, gen.CallCount(llm.ComponentRecovery))
}

func TestAssemble_BlankFieldRecovers(t *testing.T) {
	gen := llmtest.New(`{"name": "  ", "description": "d", "containment_argument": "c", "sandy_commentary": "s"}`, goodOutput)
	rec, err := New(gen, nil).Assemble(context.Background(), candidate, "text")
	require.NoError(t, err)
	assert.Equal(t, "Market Melt", rec.Name)
	assert.Equal(t, 2, gen.CallCount())
	assert.Equal(t, 1, gen.CallCount(llm.ComponentRecovery))
}

func TestAssemble_RecoversOnce(t *testing.T) {
	gen := llmtest.New(`{"name": "only a name"}`, goodOutput)
	rec, err := New(gen, nil).Assemble(context.Background(), candidate, "text")
	require.NoError(t, err)
	assert.Equal(t, "Market Melt", rec.Name)
	assert.Equal(t, 1, gen.CallCount(llm.ComponentRecovery))
}

func TestAssemble_RecoveryFails(t *testing.T) {
	gen := llmtest.New("nope", "still nope")
	_, err := New(gen, nil).Assemble(context.Background(), candidate, "text")
	pe, ok := errs.AsParse(err)
	require.True(t, ok)
	assert.Equal(t, "nope", pe.RawOutput)
}
