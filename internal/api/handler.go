// Package api exposes the summary and generation workflow over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/ashwinkrishna05/timetable-generator/internal/domain"
	"github.com/ashwinkrishna05/timetable-generator/internal/generation"
	"github.com/ashwinkrishna05/timetable-generator/internal/logger"
	"github.com/ashwinkrishna05/timetable-generator/internal/summarycache"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

type SummaryReader interface {
	Get(ctx context.Context, school domain.SchoolID, opts ...summarycache.GetOption) (domain.Snapshot, error)
	Freshness() time.Duration
}

type Generator interface {
	Start(ctx context.Context, school domain.SchoolID) (generation.Result, error)
	State(school domain.SchoolID) domain.Phase
	Cancel(school domain.SchoolID) bool
}

type RunStore interface {
	ListRuns(ctx context.Context, school domain.SchoolID, limit, offset int) ([]domain.GenerationRun, error)
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Handler struct {
	summaries SummaryReader
	generator Generator
	runs      RunStore
	checks    map[string]HealthCheck
	log       logrus.FieldLogger
	router    chi.Router
}

func NewHandler(summaries SummaryReader, generator Generator) *Handler {
	h := &Handler{
		summaries: summaries,
		generator: generator,
		checks:    make(map[string]HealthCheck),
		log:       logger.For("api"),
	}
	h.router = h.routes()
	return h
}

// WithRunStore enables the run history endpoint. Without it the endpoint
// answers 404.
func (h *Handler) WithRunStore(s RunStore) *Handler {
	h.runs = s
	return h
}

// WithHealthCheck adds a named component to verbose /health responses.
func (h *Handler) WithHealthCheck(name string, check HealthCheck) *Handler {
	h.checks[name] = check
	return h
}

func (h *Handler) WithLogger(l logrus.FieldLogger) *Handler {
	h.log = l
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", h.health)
	r.Route("/schools/{schoolID}", func(r chi.Router) {
		r.Get("/summary", h.getSummary)
		r.Post("/generate", h.generate)
		r.Get("/generation", h.generationState)
		r.Delete("/generation", h.cancelGeneration)
		r.Get("/runs", h.listRuns)
	})
	return r
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		h.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("api: request")
	})
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	// Check if verbose mode requested via ?verbose=true
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || len(h.checks) == 0 {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			resp.Status = "degraded"
			resp.Components[name] = "unhealthy: " + err.Error()
		} else {
			resp.Components[name] = "healthy"
		}
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

func (h *Handler) getSummary(w http.ResponseWriter, r *http.Request) {
	school, ok := schoolParam(w, r)
	if !ok {
		return
	}

	var opts []summarycache.GetOption
	if r.URL.Query().Get("background") == "true" {
		opts = append(opts, summarycache.WithBackgroundRefresh())
	}

	snap, err := h.summaries.Get(r.Context(), school, opts...)
	if err != nil {
		h.writeRemoteError(w, "summary", school, err)
		return
	}

	w.Header().Set("Cache-Control", cacheControl(h.summaries.Freshness(), snap.FetchedAt))
	writeJSON(w, http.StatusOK, toSummaryResponse(snap))
}

// cacheControl lets clients keep a snapshot for the rest of its freshness
// window.
func cacheControl(freshness time.Duration, fetchedAt time.Time) string {
	left := freshness - time.Since(fetchedAt)
	if fetchedAt.IsZero() || left < 0 {
		left = 0
	}
	return "private, max-age=" + strconv.Itoa(int(left/time.Second))
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	school, ok := schoolParam(w, r)
	if !ok {
		return
	}

	res, err := h.generator.Start(r.Context(), school)
	if errors.Is(err, generation.ErrGenerationInProgress) {
		writeError(w, http.StatusConflict, "generation already in progress")
		return
	}
	if err != nil {
		h.log.WithField("school_id", school).WithError(err).Error("api: generate error")
		writeError(w, http.StatusInternalServerError, "failed to start generation")
		return
	}

	writeJSON(w, http.StatusOK, toGenerationResponse(res))
}

func (h *Handler) generationState(w http.ResponseWriter, r *http.Request) {
	school, ok := schoolParam(w, r)
	if !ok {
		return
	}

	phase := h.generator.State(school)
	writeJSON(w, http.StatusOK, StateResponse{
		SchoolID: int64(school),
		Phase:    string(phase),
		Busy:     phase.Busy(),
	})
}

func (h *Handler) cancelGeneration(w http.ResponseWriter, r *http.Request) {
	school, ok := schoolParam(w, r)
	if !ok {
		return
	}

	if !h.generator.Cancel(school) {
		writeError(w, http.StatusNotFound, "no generation in progress")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusNotFound, "run history disabled")
		return
	}

	school, ok := schoolParam(w, r)
	if !ok {
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	runs, err := h.runs.ListRuns(r.Context(), school, limit, offset)
	if err != nil {
		h.log.WithField("school_id", school).WithError(err).Error("api: list runs error")
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	resp := ListRunsResponse{Runs: make([]RunResponse, len(runs))}
	for i, run := range runs {
		resp.Runs[i] = toRunResponse(run)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeRemoteError(w http.ResponseWriter, what string, school domain.SchoolID, err error) {
	switch {
	case domain.IsNotFound(err):
		writeError(w, http.StatusNotFound, "school not found")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, what+" request timed out")
	default:
		h.log.WithField("school_id", school).WithError(err).Warnf("api: %s error", what)
		writeError(w, http.StatusBadGateway, "failed to load "+what)
	}
}

func schoolParam(w http.ResponseWriter, r *http.Request) (domain.SchoolID, bool) {
	id, err := domain.ParseSchoolID(chi.URLParam(r, "schoolID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid school id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.For("api").WithError(err).Error("api: json encode error")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination reads limit and offset. A missing or zero limit means
// DefaultLimit.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()

	limit = DefaultLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return 0, 0, fmt.Errorf("invalid limit %q", raw)
		}
		if n > MaxLimit {
			return 0, 0, fmt.Errorf("limit exceeds maximum of %d", MaxLimit)
		}
		if n > 0 {
			limit = n
		}
	}

	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return 0, 0, fmt.Errorf("invalid offset %q", raw)
		}
		offset = n
	}

	return limit, offset, nil
}
