package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MLenaBleile/sandy/internal/errs"
	"github.com/MLenaBleile/sandy/internal/retry"
)

func noSleepPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.Jitter = false
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func chatServer(t *testing.T, statuses []int, reply string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var n atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i := int(n.Add(1)) - 1
		if i < len(statuses) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(statuses[i])
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"message": "scripted failure", "type": "test"},
			})
			return
		}
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		msgs := req["messages"].([]any)
		assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"choices": []any{map[string]any{"index": 0, "message": map[string]any{"role": "assistant", "content": reply}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &n
}

func newGen(t *testing.T, url string) *OpenAIGenerator {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BaseURL = url
	cfg.APIKey = "test"
	cfg.RequestsPerMinute = 0
	g, err := NewOpenAIGenerator(cfg, noSleepPolicy(), nil)
	require.NoError(t, err)
	return g
}

func TestOpenAIGenerator_Call(t *testing.T) {
	srv, n := chatServer(t, nil, `{"ok": true}`)
	g := newGen(t, srv.URL)

	out, err := g.Call(WithComponent(context.Background(), ComponentIdentify), "sys", "prompt")
	require.NoError(t, err)
	assert.Equal(t, `{"ok": true}`, out)
	assert.Equal(t, int32(1), n.Load())
}

func TestOpenAIGenerator_RetriesServerErrors(t *testing.T) {
	srv, n := chatServer(t, []int{http.StatusTooManyRequests, http.StatusBadGateway}, "done")
	g := newGen(t, srv.URL)

	out, err := g.Call(context.Background(), "sys", "prompt")
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, int32(3), n.Load())
}

func TestOpenAIGenerator_AuthIsFatal(t *testing.T) {
	srv, n := chatServer(t, []int{http.StatusUnauthorized}, "never")
	g := newGen(t, srv.URL)

	_, err := g.Call(context.Background(), "sys", "prompt")
	require.Error(t, err)
	assert.True(t, errs.IsFatal(err))
	assert.Equal(t, errs.AuthError, errs.ReasonOf(err))
	assert.Equal(t, int32(1), n.Load(), "fatal errors are not retried")
}

func TestNewClient_RequiresKeyForDefaultEndpoint(t *testing.T) {
	_, err := NewClient("", "")
	assert.True(t, errs.IsFatal(err))
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason errs.Reason
		fatal  bool
	}{
		{"rate limit", &openai.APIError{HTTPStatusCode: 429}, errs.RateLimit, false},
		{"forbidden", &openai.APIError{HTTPStatusCode: 403}, errs.AuthError, true},
		{"server", &openai.APIError{HTTPStatusCode: 503}, errs.Network, false},
		{"bad request", &openai.APIError{HTTPStatusCode: 400}, errs.ConfigError, true},
		{"deadline", context.DeadlineExceeded, errs.Timeout, false},
		{"dial", errors.New("dial tcp: connection refused"), errs.Network, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped := MapError("op", tt.err)
			assert.Equal(t, tt.reason, errs.ReasonOf(mapped))
			assert.Equal(t, tt.fatal, errs.IsFatal(mapped))
			assert.Equal(t, !tt.fatal, errs.IsRetryable(mapped))
		})
	}
	assert.NoError(t, MapError("op", nil))
}

func TestComponentFrom(t *testing.T) {
	assert.Equal(t, ComponentRaw, ComponentFrom(context.Background()))
	assert.Equal(t, ComponentJudge, ComponentFrom(WithComponent(context.Background(), ComponentJudge)))
}
