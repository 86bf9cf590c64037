package sources

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/MLenaBleile/sandy/internal/models"
	"github.com/MLenaBleile/sandy/internal/retry"
)

// Web fetches a single page by URL as markup.
type Web struct {
	client  *http.Client
	limiter *rate.Limiter
	policy  retry.Policy
}

// NewWeb returns a Web source paced to perMinute requests.
func NewWeb(perMinute int, policy retry.Policy, logger *zap.Logger) *Web {
	if policy.Logger == nil {
		policy.Logger = logger
	}
	return &Web{
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: NewLimiter(perMinute),
		policy:  policy,
	}
}

// Name implements Source.
func (w *Web) Name() string { return "web" }

// Fetch downloads the page at rawURL.
func (w *Web) Fetch(ctx context.Context, rawURL string) (Result, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Result{}, &url.Error{Op: "fetch", URL: rawURL, Err: ErrUnsupported}
	}
	body, err := retry.Do(ctx, w.policy, "web", func(ctx context.Context) ([]byte, error) {
		return get(ctx, w.client, w.limiter, u.String())
	})
	if err != nil {
		return Result{}, err
	}
	return Result{
		Content:     string(body),
		URL:         u.String(),
		ContentKind: models.ContentMarkup,
		Metadata:    map[string]string{"source": "web"},
	}, nil
}

// FetchRandom is unsupported.
func (w *Web) FetchRandom(context.Context) (Result, error) {
	return Result{}, ErrUnsupported
}

// IsURL reports whether s looks like an http(s) URL.
func IsURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
