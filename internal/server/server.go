// Package server provides the HTTP API for Sandy.
package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/MLenaBleile/sandy/internal/config"
	"github.com/MLenaBleile/sandy/internal/corpus"
	"github.com/MLenaBleile/sandy/internal/events"
	"github.com/MLenaBleile/sandy/internal/indexer"
	"github.com/MLenaBleile/sandy/internal/search"
	"github.com/MLenaBleile/sandy/internal/storage"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sandy_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"method", "route", "status"})

	httpSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sandy_http_request_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
)

// Deps are the components the API serves.
type Deps struct {
	Indexer *indexer.Indexer
	Engine  *search.Engine
	Storage storage.Storage
	Corpus  *corpus.Corpus
	Events  *events.Bus
	// DiskPaths are summed for the corpus endpoint's disk footprint.
	DiskPaths []string
}

// Server is the HTTP server for the Sandy API.
type Server struct {
	indexer   *indexer.Indexer
	engine    *search.Engine
	storage   storage.Storage
	corpus    *corpus.Corpus
	events    *events.Bus
	diskPaths []string
	config    *config.ServerConfig
	logger    *zap.Logger
	server    *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(deps Deps, cfg *config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		indexer:   deps.Indexer,
		engine:    deps.Engine,
		storage:   deps.Storage,
		corpus:    deps.Corpus,
		events:    deps.Events,
		diskPaths: deps.DiskPaths,
		config:    cfg,
		logger:    logger,
	}
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	if s.config.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.config.RequestTimeout))
	}
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sandwiches", s.handleCreateSandwich)
		r.Get("/sandwiches", s.handleListSandwiches)
		r.Get("/sandwiches/{id}", s.handleGetSandwich)
		r.Get("/search", s.handleSearch)
		r.Get("/corpus", s.handleCorpus)
		r.Get("/events", s.handleEvents)
		r.Get("/outcomes", s.handleOutcomes)
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", s.handleHealth)
	return r
}

// logRequests logs each request at debug level and records HTTP metrics under
// the matched route pattern.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		httpSeconds.WithLabelValues(route).Observe(elapsed.Seconds())
		s.logger.Debug("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", elapsed))
	})
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := s.config.Addr()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
