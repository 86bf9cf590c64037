package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/MLenaBleile/sandy/internal/errs"
	"github.com/MLenaBleile/sandy/internal/retry"
)

// Config configures the chat adapter. BaseURL may point at any
// OpenAI-compatible server.
type Config struct {
	BaseURL           string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey            string        `yaml:"api_key" mapstructure:"api_key"`
	Model             string        `yaml:"model" mapstructure:"model" validate:"required"`
	MaxTokens         int           `yaml:"max_tokens" mapstructure:"max_tokens" validate:"gte=0"`
	Temperature       float32       `yaml:"temperature" mapstructure:"temperature" validate:"gte=0,lte=2"`
	RequestsPerMinute int           `yaml:"requests_per_minute" mapstructure:"requests_per_minute" validate:"gte=0"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// DefaultConfig returns the chat adapter defaults.
func DefaultConfig() Config {
	return Config{
		Model:             "gpt-4o-mini",
		MaxTokens:         4096,
		Temperature:       0.7,
		RequestsPerMinute: 50,
		Timeout:           60 * time.Second,
	}
}

// NewLimiter returns a limiter allowing perMinute calls per minute, or an
// unlimited one when perMinute is not positive.
func NewLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

// NewClient builds a go-openai client for cfg.
func NewClient(baseURL, apiKey string) (*openai.Client, error) {
	if baseURL == "" && apiKey == "" {
		return nil, errs.Fatal(errs.AuthError, "api key required for the default endpoint", nil)
	}
	oc := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		oc.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(oc), nil
}

// OpenAIGenerator implements Generator over chat completions. Each call is
// paced by a rate limiter and retried under the configured policy.
type OpenAIGenerator struct {
	client  *openai.Client
	cfg     Config
	policy  retry.Policy
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewOpenAIGenerator builds a generator.
func NewOpenAIGenerator(cfg Config, policy retry.Policy, logger *zap.Logger) (*OpenAIGenerator, error) {
	client, err := NewClient(cfg.BaseURL, cfg.APIKey)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.Logger == nil {
		policy.Logger = logger
	}
	return &OpenAIGenerator{
		client:  client,
		cfg:     cfg,
		policy:  policy,
		limiter: NewLimiter(cfg.RequestsPerMinute),
		logger:  logger,
	}, nil
}

// Call implements Generator.
func (g *OpenAIGenerator) Call(ctx context.Context, system, prompt string) (string, error) {
	component := ComponentFrom(ctx)
	start := time.Now()

	text, err := retry.Do(ctx, g.policy, "llm."+component, func(ctx context.Context) (string, error) {
		return g.once(ctx, system, prompt)
	})
	Observe(component, start, err)
	if err != nil {
		g.logger.Warn("generation failed", zap.String("component", component), zap.Error(err))
		return "", err
	}
	g.logger.Debug("generation complete",
		zap.String("component", component),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("chars", len(text)))
	return text, nil
}

func (g *OpenAIGenerator) once(ctx context.Context, system, prompt string) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}
	callCtx := ctx
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	resp, err := g.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", MapError("chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", errs.Parse(fmt.Sprintf("model %s returned no choices", g.cfg.Model), "")
	}
	return resp.Choices[0].Message.Content, nil
}
