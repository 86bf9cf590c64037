package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/MLenaBleile/sandy/internal/errs"
	"github.com/MLenaBleile/sandy/internal/models"
	"github.com/MLenaBleile/sandy/internal/retry"
)

// Default Wikipedia endpoints.
const (
	WikipediaActionAPI = "https://en.wikipedia.org/w/api.php"
	WikipediaRESTAPI   = "https://en.wikipedia.org/api/rest_v1"
	wikipediaPageBase  = "https://en.wikipedia.org/wiki/"
)

// DefaultWikipediaRate is the request pace in requests per minute.
const DefaultWikipediaRate = 200

const (
	// minSummaryChars is the summary length below which the full extract is fetched.
	minSummaryChars = 200
	// maxQueryChars is the query length above which only the first maxQueryWords are searched.
	maxQueryChars = 100
	maxQueryWords = 10
)

// Wikipedia searches English Wikipedia and returns article text.
type Wikipedia struct {
	client    *http.Client
	actionURL string
	restURL   string
	pageBase  string
	limiter   *rate.Limiter
	policy    retry.Policy
	logger    *zap.Logger
}

// WikipediaOption configures a Wikipedia source.
type WikipediaOption func(*Wikipedia)

// WithEndpoints overrides the action API, REST API and article base URLs.
func WithEndpoints(actionURL, restURL, pageBase string) WikipediaOption {
	return func(w *Wikipedia) {
		w.actionURL, w.restURL, w.pageBase = actionURL, restURL, pageBase
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) WikipediaOption {
	return func(w *Wikipedia) { w.client = c }
}

// WithRate sets the request pace in requests per minute.
func WithRate(perMinute int) WikipediaOption {
	return func(w *Wikipedia) { w.limiter = NewLimiter(perMinute) }
}

// WithRetryPolicy sets the backoff used for retryable request failures.
func WithRetryPolicy(p retry.Policy) WikipediaOption {
	return func(w *Wikipedia) { w.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) WikipediaOption {
	return func(w *Wikipedia) {
		if l != nil {
			w.logger = l
		}
	}
}

// NewWikipedia returns a Wikipedia source.
func NewWikipedia(opts ...WikipediaOption) *Wikipedia {
	w := &Wikipedia{
		client:    &http.Client{Timeout: 30 * time.Second},
		actionURL: WikipediaActionAPI,
		restURL:   WikipediaRESTAPI,
		pageBase:  wikipediaPageBase,
		limiter:   NewLimiter(DefaultWikipediaRate),
		policy:    retry.DefaultPolicy(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.policy.Logger == nil {
		w.policy.Logger = w.logger
	}
	return w
}

// Name implements Source.
func (w *Wikipedia) Name() string { return "wikipedia" }

func (w *Wikipedia) getJSON(ctx context.Context, rawURL string, v any) error {
	body, err := retry.Do(ctx, w.policy, "wikipedia", func(ctx context.Context) ([]byte, error) {
		return get(ctx, w.client, w.limiter, rawURL)
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s: %w", rawURL, err)
	}
	return nil
}

func (w *Wikipedia) action(params url.Values) string {
	params.Set("format", "json")
	return w.actionURL + "?" + params.Encode()
}

// FetchRandom returns a random article from the main namespace.
func (w *Wikipedia) FetchRandom(ctx context.Context) (Result, error) {
	var resp struct {
		Query struct {
			Random []struct {
				Title string `json:"title"`
			} `json:"random"`
		} `json:"query"`
	}
	err := w.getJSON(ctx, w.action(url.Values{
		"action":      {"query"},
		"list":        {"random"},
		"rnnamespace": {"0"},
		"rnlimit":     {"1"},
	}), &resp)
	if err != nil {
		return Result{}, err
	}
	if len(resp.Query.Random) == 0 {
		return Result{}, errors.New("wikipedia returned no random article")
	}
	return w.article(ctx, resp.Query.Random[0].Title)
}

// Fetch searches for query and returns the top article. An empty query picks
// a random article. No search hits yield an empty Result.
func (w *Wikipedia) Fetch(ctx context.Context, query string) (Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return w.FetchRandom(ctx)
	}
	if len(query) > maxQueryChars {
		words := strings.Fields(query)
		if len(words) > maxQueryWords {
			words = words[:maxQueryWords]
		}
		query = strings.Join(words, " ")
	}

	var resp struct {
		Query struct {
			Search []struct {
				Title string `json:"title"`
			} `json:"search"`
		} `json:"query"`
	}
	err := w.getJSON(ctx, w.action(url.Values{
		"action":   {"query"},
		"list":     {"search"},
		"srsearch": {query},
		"srlimit":  {"1"},
	}), &resp)
	if err != nil {
		return Result{}, err
	}
	if len(resp.Query.Search) == 0 {
		w.logger.Info("wikipedia search found nothing", zap.String("query", query))
		return Result{
			ContentKind: models.ContentPlain,
			Metadata:    map[string]string{"source": "wikipedia", "query": query, "error": "no_results"},
		}, nil
	}
	return w.article(ctx, resp.Query.Search[0].Title)
}

func pathTitle(title string) string {
	return strings.ReplaceAll(title, " ", "_")
}

// article returns the REST summary of title, or the full plain-text extract
// when the summary is unavailable or short.
func (w *Wikipedia) article(ctx context.Context, title string) (Result, error) {
	var summary struct {
		Title       string `json:"title"`
		Extract     string `json:"extract"`
		Description string `json:"description"`
		ContentURLs struct {
			Desktop struct {
				Page string `json:"page"`
			} `json:"desktop"`
		} `json:"content_urls"`
	}
	err := w.getJSON(ctx, w.restURL+"/page/summary/"+url.PathEscape(pathTitle(title)), &summary)
	if err != nil {
		var se *StatusError
		if errs.IsRetryable(err) || !errors.As(err, &se) {
			return Result{}, err
		}
		w.logger.Warn("wikipedia summary unavailable, using extract", zap.String("title", title), zap.Error(err))
		return w.extract(ctx, title)
	}
	if len([]rune(summary.Extract)) < minSummaryChars {
		return w.extract(ctx, title)
	}

	pageURL := summary.ContentURLs.Desktop.Page
	if pageURL == "" {
		pageURL = w.pageBase + pathTitle(title)
	}
	if summary.Title == "" {
		summary.Title = title
	}
	return Result{
		Content:     summary.Extract,
		URL:         pageURL,
		Title:       summary.Title,
		ContentKind: models.ContentPlain,
		Metadata:    map[string]string{"source": "wikipedia", "description": summary.Description},
	}, nil
}

func (w *Wikipedia) extract(ctx context.Context, title string) (Result, error) {
	var resp struct {
		Query struct {
			Pages map[string]struct {
				Title   string `json:"title"`
				Extract string `json:"extract"`
			} `json:"pages"`
		} `json:"query"`
	}
	err := w.getJSON(ctx, w.action(url.Values{
		"action":      {"query"},
		"titles":      {title},
		"prop":        {"extracts"},
		"explaintext": {"1"},
		"exlimit":     {"1"},
	}), &resp)
	if err != nil {
		return Result{}, err
	}
	res := Result{
		Title:       title,
		URL:         w.pageBase + pathTitle(title),
		ContentKind: models.ContentPlain,
		Metadata:    map[string]string{"source": "wikipedia", "method": "extract"},
	}
	for _, page := range resp.Query.Pages {
		res.Content = page.Extract
		if page.Title != "" {
			res.Title = page.Title
		}
		break
	}
	return res, nil
}
