// Package sources fetches raw content for the pipeline.
package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/MLenaBleile/sandy/internal/errs"
	"github.com/MLenaBleile/sandy/internal/models"
	"github.com/MLenaBleile/sandy/internal/sourceid"
)

// UserAgent identifies outbound requests.
const UserAgent = "SANDWICH-Bot/1.0 (https://github.com/MLenaBleile/sandy; sandwich research project)"

// ErrUnsupported is returned by sources that cannot pick content on their own.
var ErrUnsupported = errors.New("operation not supported by source")

// Result is fetched content. Empty Content means nothing was found.
type Result struct {
	Content     string             `json:"content"`
	URL         string             `json:"url,omitempty"`
	Title       string             `json:"title,omitempty"`
	ContentKind models.ContentKind `json:"content_kind"`
	Metadata    map[string]string  `json:"metadata,omitempty"`
}

// Empty reports whether the result carries no content.
func (r Result) Empty() bool { return strings.TrimSpace(r.Content) == "" }

// SourceMetadata converts r for a pipeline run.
func (r Result) SourceMetadata() models.SourceMetadata {
	meta := models.SourceMetadata{URL: r.URL, ContentKind: r.ContentKind, SourceID: sourceid.For(r.URL, r.Content)}
	if u, err := url.Parse(r.URL); err == nil {
		meta.Domain = u.Hostname()
	}
	return meta
}

// Source is anything that can produce content for a query.
type Source interface {
	Name() string
	Fetch(ctx context.Context, query string) (Result, error)
	FetchRandom(ctx context.Context) (Result, error)
}

// Topic passes the query through as plain content.
type Topic struct{}

// Name implements Source.
func (Topic) Name() string { return "topic" }

// Fetch returns query itself.
func (Topic) Fetch(_ context.Context, query string) (Result, error) {
	return Result{Content: query, ContentKind: models.ContentPlain, Metadata: map[string]string{"source": "topic"}}, nil
}

// FetchRandom is unsupported.
func (Topic) FetchRandom(context.Context) (Result, error) {
	return Result{}, ErrUnsupported
}

// NewLimiter paces requests to perMinute with a burst of one. perMinute <= 0
// disables pacing.
func NewLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
}

// maxBody caps response bodies read from remote servers.
const maxBody = 10 << 20

// get performs a paced GET and returns the body. Transport failures, 429 and
// 5xx responses are retryable; other non-2xx responses are not.
func get(ctx context.Context, client *http.Client, limiter *rate.Limiter, rawURL string) ([]byte, error) {
	if err := limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Api-User-Agent", UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errs.Retryable(errs.Network, "GET "+rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, errs.Retryable(errs.Network, "read "+rawURL, err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errs.Retryable(errs.RateLimit, "GET "+rawURL, &StatusError{Code: resp.StatusCode})
	case resp.StatusCode >= 500:
		return nil, errs.Retryable(errs.Network, "GET "+rawURL, &StatusError{Code: resp.StatusCode})
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &StatusError{Code: resp.StatusCode, URL: rawURL}
	}
	return body, nil
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("status %d", e.Code)
	}
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Code)
}
