package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/MLenaBleile/sandy/internal/errs"
	"github.com/MLenaBleile/sandy/internal/models"
	"github.com/MLenaBleile/sandy/internal/search"
	"github.com/MLenaBleile/sandy/internal/sourceid"
	"github.com/MLenaBleile/sandy/internal/storage"
)

const (
	defaultListLimit    = 20
	maxListLimit        = 100
	defaultEventLimit   = 100
	defaultOutcomeLimit = 50
)

type createSandwichRequest struct {
	Content     string `json:"content"`
	ContentKind string `json:"content_kind"`
	URL         string `json:"url"`
	Domain      string `json:"domain"`
}

type createSandwichResponse struct {
	Record  *models.StoredRecord `json:"record,omitempty"`
	Outcome models.Outcome       `json:"outcome"`
}

func (s *Server) handleCreateSandwich(w http.ResponseWriter, r *http.Request) {
	if s.config.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	}
	var req createSandwichRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		s.respondError(w, http.StatusBadRequest, "content is required")
		return
	}
	source := models.SourceMetadata{
		URL:         req.URL,
		Domain:      req.Domain,
		ContentKind: models.ParseContentKind(req.ContentKind),
		SourceID:    sourceid.For(req.URL, req.Content),
	}
	s.logger.Debug("make sandwich request", zap.String("url", req.URL), zap.Int("bytes", len(req.Content)))
	rec, outcome, err := s.indexer.Process(r.Context(), req.Content, source)
	if err != nil {
		s.respondPipelineError(w, err)
		return
	}
	if rec == nil {
		s.respondJSON(w, http.StatusOK, createSandwichResponse{Outcome: outcome})
		return
	}
	s.respondJSON(w, http.StatusCreated, createSandwichResponse{Record: rec, Outcome: outcome})
}

func (s *Server) handleListSandwiches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, err := intParam(q.Get("offset"), 0)
	if err != nil || offset < 0 {
		s.respondError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	limit, err := intParam(q.Get("limit"), defaultListLimit)
	if err != nil || limit < 1 || limit > maxListLimit {
		s.respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	minOverall := 0.0
	if v := q.Get("min_overall"); v != "" {
		minOverall, err = strconv.ParseFloat(v, 64)
		if err != nil || minOverall < 0 || minOverall > 1 {
			s.respondError(w, http.StatusBadRequest, "invalid min_overall")
			return
		}
	}
	ctx := r.Context()
	records, err := s.storage.ListRecords(ctx, storage.ListQuery{
		Offset:        offset,
		Limit:         limit,
		StructureType: q.Get("structure_type"),
		MinOverall:    minOverall,
	})
	if err != nil {
		s.logger.Error("list records failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := s.storage.CountRecords(ctx)
	if err != nil {
		s.logger.Error("count records failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []*models.StoredRecord{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"total":   total,
		"offset":  offset,
		"limit":   limit,
	})
}

func (s *Server) handleGetSandwich(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.storage.GetRecord(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "sandwich not found")
			return
		}
		s.logger.Error("get record failed", zap.String("id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := &search.Query{
		Query:         q.Get("q"),
		StructureType: q.Get("structure_type"),
	}
	var err error
	if query.Limit, err = intParam(q.Get("limit"), s.config.SearchLimit); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if query.Offset, err = intParam(q.Get("offset"), 0); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid offset")
		return
	}
	if v := q.Get("fuzzy"); v != "" {
		if query.Fuzzy, err = strconv.ParseBool(v); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid fuzzy")
			return
		}
	}
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("limit", query.Limit))
	response, err := s.engine.Search(r.Context(), query)
	if err != nil {
		if errors.Is(err, search.ErrInvalidQuery) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("search failed", zap.Error(err))
		s.respondPipelineError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

func (s *Server) handleCorpus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stored, err := s.storage.CountRecords(ctx)
	if err != nil {
		s.logger.Error("corpus: count records failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]any{
		"corpus":         s.corpus.Stats(),
		"stored_records": stored,
	}
	if n, err := s.engine.KeywordDocCount(); err == nil {
		resp["indexed_records"] = n
	}
	if fp, err := storage.DiskFootprint(s.diskPaths...); err == nil {
		resp["disk"] = fp
	} else {
		s.logger.Warn("corpus: disk footprint failed", zap.Error(err))
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), defaultEventLimit)
	if err != nil || limit < 1 {
		s.respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	eventType := q.Get("type")
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid since: expected RFC 3339 time")
			return
		}
		evs := s.events.Since(since, eventType)
		if len(evs) > limit {
			evs = evs[len(evs)-limit:]
		}
		s.respondJSON(w, http.StatusOK, map[string]any{"events": nonNil(evs)})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"events": nonNil(s.events.Recent(limit, eventType))})
}

func (s *Server) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"), defaultOutcomeLimit)
	if err != nil || limit < 1 {
		s.respondError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	entries, err := s.storage.ListOutcomes(r.Context(), limit)
	if err != nil {
		s.logger.Error("list outcomes failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"outcomes": nonNil(entries)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps a pipeline error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errs.IsFatal(err):
		if errs.ReasonOf(err) == errs.DatabaseDown {
			return http.StatusServiceUnavailable
		}
		return http.StatusInternalServerError
	case errs.IsRetryable(err):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	if _, ok := errs.AsParse(err); ok {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) respondPipelineError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
