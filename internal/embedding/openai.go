package embedding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/MLenaBleile/sandy/internal/errs"
	"github.com/MLenaBleile/sandy/internal/llm"
	"github.com/MLenaBleile/sandy/internal/retry"
)

// Config configures the embedding adapter.
type Config struct {
	Provider          string        `yaml:"provider" mapstructure:"provider" validate:"oneof=openai mock"`
	BaseURL           string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey            string        `yaml:"api_key" mapstructure:"api_key"`
	Model             string        `yaml:"model" mapstructure:"model"`
	Dimensions        int           `yaml:"dimensions" mapstructure:"dimensions" validate:"gte=0"`
	CacheSize         int           `yaml:"cache_size" mapstructure:"cache_size" validate:"gte=0"`
	RequestsPerMinute int           `yaml:"requests_per_minute" mapstructure:"requests_per_minute" validate:"gte=0"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// DefaultConfig returns the embedding defaults.
func DefaultConfig() Config {
	return Config{
		Provider:          "openai",
		Model:             string(openai.SmallEmbedding3),
		CacheSize:         10000,
		RequestsPerMinute: 300,
		Timeout:           30 * time.Second,
	}
}

const component = "embed"

// OpenAIEmbedder calls an OpenAI-compatible embeddings endpoint. The
// dimensionality is fixed by the first successful response unless configured.
type OpenAIEmbedder struct {
	client  *openai.Client
	cfg     Config
	policy  retry.Policy
	limiter *rate.Limiter
	logger  *zap.Logger

	mu   sync.Mutex
	dims int
}

// NewOpenAIEmbedder builds an embedder.
func NewOpenAIEmbedder(cfg Config, policy retry.Policy, logger *zap.Logger) (*OpenAIEmbedder, error) {
	client, err := llm.NewClient(cfg.BaseURL, cfg.APIKey)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.Logger == nil {
		policy.Logger = logger
	}
	return &OpenAIEmbedder{
		client:  client,
		cfg:     cfg,
		policy:  policy,
		limiter: llm.NewLimiter(cfg.RequestsPerMinute),
		logger:  logger,
		dims:    cfg.Dimensions,
	}, nil
}

// Embed implements Embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch implements Embedder with one request per batch.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	start := time.Now()
	out, err := retry.Do(ctx, e.policy, "embed.batch", func(ctx context.Context) ([][]float32, error) {
		return e.once(ctx, texts)
	})
	llm.Observe(component, start, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *OpenAIEmbedder) once(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	callCtx := ctx
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	resp, err := e.client.CreateEmbeddings(callCtx, openai.EmbeddingRequestStrings{
		Input:      texts,
		Model:      openai.EmbeddingModel(e.cfg.Model),
		Dimensions: e.cfg.Dimensions,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, llm.MapError("embeddings", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, errs.Retryable(errs.Network,
			fmt.Sprintf("embeddings returned %d vectors for %d inputs", len(resp.Data), len(texts)), nil)
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, errs.Retryable(errs.Network, fmt.Sprintf("embedding index %d out of range", d.Index), nil)
		}
		if err := e.checkDims(len(d.Embedding)); err != nil {
			return nil, err
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func (e *OpenAIEmbedder) checkDims(n int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dims == 0 {
		e.dims = n
		return nil
	}
	if n != e.dims {
		return errs.Fatal(errs.ConfigError,
			fmt.Sprintf("embedding dimension changed from %d to %d", e.dims, n), nil)
	}
	return nil
}

// Dimensions returns the vector length, or 0 before the first call when unconfigured.
func (e *OpenAIEmbedder) Dimensions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dims
}

// Close is a no-op; the HTTP client holds no resources that need releasing.
func (e *OpenAIEmbedder) Close() error { return nil }

// New builds the embedder selected by cfg, wrapped in a cache when CacheSize is positive.
func New(cfg Config, policy retry.Policy, logger *zap.Logger) (Embedder, error) {
	var base Embedder
	switch cfg.Provider {
	case "mock":
		base = NewMockEmbedder(cfg.Dimensions)
	case "", "openai":
		oe, err := NewOpenAIEmbedder(cfg, policy, logger)
		if err != nil {
			return nil, err
		}
		base = oe
	default:
		return nil, errs.Fatal(errs.ConfigError, fmt.Sprintf("unknown embedding provider %q", cfg.Provider), nil)
	}
	if cfg.CacheSize > 0 {
		return NewCachedEmbedder(base, cfg.CacheSize), nil
	}
	return base, nil
}
