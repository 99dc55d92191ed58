package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"zendesk_datasource/internal/cache"
	"zendesk_datasource/internal/datasource"
	"zendesk_datasource/internal/export"
	"zendesk_datasource/internal/health"
	"zendesk_datasource/internal/limits"
	"zendesk_datasource/internal/obs"
	"zendesk_datasource/internal/query"
	"zendesk_datasource/internal/runtime"
)

var errInvalidJSON = errors.New("invalid JSON body")

type HandlerConfig struct {
	Datasource  *datasource.Datasource
	Monitor     *health.Monitor
	Metrics     *obs.Metrics
	AccessLog   *obs.AccessLogger
	Logger      *log.Logger
	Auth        *Authenticator
	RateLimiter *RateLimiter
	Inflight    *runtime.InflightTracker
	Limits      limits.Limits
}

type handler struct {
	ds       *datasource.Datasource
	monitor  *health.Monitor
	inflight *runtime.InflightTracker
	logger   *log.Logger
	limits   limits.Limits
}

func NewHandler(cfg HandlerConfig) (http.Handler, error) {
	if cfg.Datasource == nil {
		return nil, errors.New("datasource is nil")
	}
	lim := cfg.Limits
	if lim.MaxHeaderBytes == 0 {
		lim = limits.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = obs.NopLogger()
	}
	limiter := cfg.RateLimiter
	if limiter == nil {
		limiter = NewRateLimiter(RateLimitConfig{})
	}

	h := &handler{
		ds:       cfg.Datasource,
		monitor:  cfg.Monitor,
		inflight: cfg.Inflight,
		logger:   logger,
		limits:   lim,
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(observe(cfg.AccessLog, cfg.Metrics))
	r.Use(trackInflight(cfg.Inflight))
	r.Use(middleware.Recoverer)
	r.Use(limitBody(lim.MaxBodyBytes))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, RequestIDFromContext(r.Context()), http.StatusNotFound, "not_found", "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, RequestIDFromContext(r.Context()), http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Post("/query", h.handleQuery)
	r.Post("/batch-query", h.handleBatchQuery)
	r.Post("/export", h.handleExport)
	r.Get("/fields", h.handleFields)
	r.Get("/health", h.handleHealth)
	r.Get("/cache/stats", h.handleCacheStats)
	r.Group(func(r chi.Router) {
		r.Use(requireAdmin(cfg.Auth, limiter))
		r.Post("/cache/invalidate", h.handleInvalidate)
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}
	return r, nil
}

type queryResponse struct {
	RequestID   string        `json:"request_id"`
	RefID       string        `json:"ref_id,omitempty"`
	CacheStatus cache.Status  `json:"cache_status"`
	Result      *query.Result `json:"result"`
}

func (h *handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	id := RequestIDFromContext(r.Context())
	req, q, err := decodeQuery(r)
	if err != nil {
		writeQueryError(w, id, err)
		return
	}

	result, status, err := h.ds.Query(r.Context(), q)
	annotate(w, string(q.Kind()), string(status), 0)
	if err != nil {
		writeQueryError(w, id, err)
		return
	}
	w.Header().Set("X-Cache", strings.ToUpper(string(status)))
	writeJSON(w, http.StatusOK, queryResponse{RequestID: id, RefID: req.RefID, CacheStatus: status, Result: &result})
}

type batchRequest struct {
	Queries []query.Request `json:"queries"`
}

type batchItem struct {
	RefID string `json:"ref_id,omitempty"`
	datasource.Outcome
}

type batchResponse struct {
	RequestID string      `json:"request_id"`
	Results   []batchItem `json:"results"`
}

// handleBatchQuery answers every query in order. A query that fails to parse or to
// execute reports its error in place without failing its neighbours.
func (h *handler) handleBatchQuery(w http.ResponseWriter, r *http.Request) {
	id := RequestIDFromContext(r.Context())
	var body batchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDecodeError(w, id, err)
		return
	}
	if len(body.Queries) == 0 {
		WriteError(w, id, http.StatusBadRequest, "bad_request", "queries must not be empty")
		return
	}
	if h.limits.MaxBatchQueries > 0 && len(body.Queries) > h.limits.MaxBatchQueries {
		WriteError(w, id, http.StatusBadRequest, "bad_request", fmt.Sprintf("at most %d queries per batch", h.limits.MaxBatchQueries))
		return
	}

	items := make([]batchItem, len(body.Queries))
	valid := make([]query.Query, 0, len(body.Queries))
	positions := make([]int, 0, len(body.Queries))
	for i, req := range body.Queries {
		items[i].RefID = req.RefID
		q, err := req.Typed()
		if err != nil {
			items[i].Outcome = datasource.Outcome{Status: cache.StatusError, Error: err.Error()}
			continue
		}
		valid = append(valid, q)
		positions = append(positions, i)
	}

	outcomes := h.ds.QueryBatch(r.Context(), valid)
	for j, outcome := range outcomes {
		items[positions[j]].Outcome = outcome
	}

	annotate(w, "batch", "", len(body.Queries))
	writeJSON(w, http.StatusOK, batchResponse{RequestID: id, Results: items})
}

func (h *handler) handleExport(w http.ResponseWriter, r *http.Request) {
	id := RequestIDFromContext(r.Context())
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeQueryError(w, id, err)
		return
	}
	_, q, err := decodeQuery(r)
	if err != nil {
		writeQueryError(w, id, err)
		return
	}

	result, status, err := h.ds.Query(r.Context(), q)
	annotate(w, string(q.Kind()), string(status), 0)
	if err != nil {
		writeQueryError(w, id, err)
		return
	}
	data, contentType, err := export.Result(result, format)
	if err != nil {
		writeQueryError(w, id, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("%s.%s", q.Kind(), format)))
	w.Header().Set("X-Cache", strings.ToUpper(string(status)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *handler) handleFields(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, export.Fields())
}

type healthResponse struct {
	datasource.HealthReport
	Probe    *health.Status `json:"probe,omitempty"`
	Inflight int64          `json:"inflight"`
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		HealthReport: h.ds.CheckHealth(r.Context()),
		Inflight:     h.inflight.Count(),
	}
	if h.monitor != nil {
		status := h.monitor.Status()
		resp.Probe = &status
	}
	code := http.StatusOK
	if resp.Status != datasource.HealthOK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (h *handler) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.ds.CacheStats())
}

type invalidateRequest struct {
	Kind    query.Kind `json:"kind,omitempty"`
	Pattern string     `json:"pattern,omitempty"`
	All     bool       `json:"all,omitempty"`
}

type invalidateResponse struct {
	RequestID string `json:"request_id"`
	Removed   int    `json:"removed"`
}

func (h *handler) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	id := RequestIDFromContext(r.Context())
	var body invalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDecodeError(w, id, err)
		return
	}

	var removed int
	var err error
	switch {
	case body.All:
		removed = h.ds.ClearCache()
	case body.Kind != "":
		removed, err = h.ds.Invalidate(body.Kind)
	case body.Pattern != "":
		removed, err = h.ds.InvalidatePattern(body.Pattern)
	default:
		WriteError(w, id, http.StatusBadRequest, "bad_request", "one of kind, pattern or all is required")
		return
	}
	if err != nil {
		WriteError(w, id, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	h.logger.Info("cache invalidation requested", "request_id", id, "kind", body.Kind, "pattern", body.Pattern, "all", body.All, "removed", removed)
	writeJSON(w, http.StatusOK, invalidateResponse{RequestID: id, Removed: removed})
}

func decodeQuery(r *http.Request) (query.Request, query.Query, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return query.Request{}, nil, err
	}
	var req query.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return query.Request{}, nil, fmt.Errorf("%w: %v", errInvalidJSON, err)
	}
	q, err := req.Typed()
	if err != nil {
		return req, nil, err
	}
	return req, q, nil
}

func writeDecodeError(w http.ResponseWriter, requestID string, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		WriteError(w, requestID, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
		return
	}
	WriteError(w, requestID, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
}
