package httpadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/getkin/kin-openapi/routers"
	"github.com/gorilla/mux"

	"github.com/kirillkom/docqa-orchestrator/internal/config"
	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
	"github.com/kirillkom/docqa-orchestrator/internal/core/ports"
	"github.com/kirillkom/docqa-orchestrator/internal/observability/metrics"
)

const (
	serviceName      = "api"
	backpressureWait = 100 * time.Millisecond
	readinessTimeout = 2 * time.Second
)

// ReadinessChecker reports whether a downstream dependency is reachable.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

type Router struct {
	cfg     config.Config
	queries ports.QueryService
	jobs    ports.QueryJobService
	ready   ReadinessChecker
	metrics *metrics.HTTPServerMetrics
}

// NewRouter wires the HTTP surface. jobs, ready and httpMetrics may be nil.
func NewRouter(
	cfg config.Config,
	queries ports.QueryService,
	jobs ports.QueryJobService,
	ready ReadinessChecker,
	httpMetrics *metrics.HTTPServerMetrics,
) *Router {
	return &Router{
		cfg:     cfg,
		queries: queries,
		jobs:    jobs,
		ready:   ready,
		metrics: httpMetrics,
	}
}

var (
	openAPIRouterOnce sync.Once
	openAPIRouter     routers.Router
	openAPIRouterErr  error
)

func mustOpenAPIRouter() routers.Router {
	openAPIRouterOnce.Do(func() {
		openAPIRouter, openAPIRouterErr = loadOpenAPIRouter()
	})
	if openAPIRouterErr != nil {
		panic(openAPIRouterErr)
	}
	return openAPIRouter
}

func (rt *Router) Handler() http.Handler {
	root := mux.NewRouter()
	root.HandleFunc("/healthz", rt.healthz).Methods(http.MethodGet)
	if rt.metrics != nil {
		root.Handle("/metrics", rt.metrics.Handler()).Methods(http.MethodGet)
	}

	api := root.PathPrefix("/v1").Subrouter()
	api.Use(
		func(next http.Handler) http.Handler {
			return rateLimitMiddleware(next, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, rt.recordRejected)
		},
		func(next http.Handler) http.Handler {
			return backpressureMiddlewareWithReject(next, rt.cfg.APIMaxInFlight, backpressureWait, rt.recordRejected)
		},
		bearerAuthMiddleware(rt.cfg.APIKey),
		openAPIValidationMiddleware(mustOpenAPIRouter()),
	)
	api.HandleFunc("/query", rt.query).Methods(http.MethodPost)
	api.HandleFunc("/query/stream", rt.queryStream).Methods(http.MethodPost)
	api.HandleFunc("/query/jobs", rt.submitJob).Methods(http.MethodPost)
	api.HandleFunc("/query/jobs/{job_id}", rt.getJob).Methods(http.MethodGet)

	var handler http.Handler = root
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(serviceName, handler)
	}
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) recordRejected(reason string) {
	if rt.metrics != nil {
		rt.metrics.RecordRejected(serviceName, reason)
	}
}

func (rt *Router) healthz(w http.ResponseWriter, r *http.Request) {
	if rt.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()
		if err := rt.ready.Ready(ctx); err != nil {
			slog.WarnContext(r.Context(), "readiness_check_failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type queryRequest struct {
	Question           string   `json:"question"`
	Style              string   `json:"style"`
	TopK               int      `json:"top_k"`
	SelectedFiles      []string `json:"selected_files"`
	UseFunctionCalling *bool    `json:"use_function_calling"`
}

func (req queryRequest) toDomain(defaultTopK int) domain.Query {
	topK := req.TopK
	if topK == 0 {
		topK = defaultTopK
	}
	if topK == 0 {
		topK = domain.DefaultTopK
	}
	useFunctionCalling := true
	if req.UseFunctionCalling != nil {
		useFunctionCalling = *req.UseFunctionCalling
	}
	return domain.Query{
		Text:               strings.TrimSpace(req.Question),
		Style:              domain.Style(req.Style),
		RequestedTopK:      topK,
		SelectedFiles:      req.SelectedFiles,
		UseFunctionCalling: useFunctionCalling,
	}
}

func (rt *Router) decodeQuery(w http.ResponseWriter, r *http.Request) (domain.Query, bool) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid json")
		return domain.Query{}, false
	}
	query := req.toDomain(rt.cfg.RAGTopK)
	if err := query.Validate(); err != nil {
		writeDomainError(w, r, err)
		return domain.Query{}, false
	}
	return query, true
}

type errorResponse struct {
	Error     string         `json:"error"`
	RequestID string         `json:"request_id,omitempty"`
	Answer    *domain.Answer `json:"partial_answer,omitempty"`
}

func (rt *Router) query(w http.ResponseWriter, r *http.Request) {
	query, ok := rt.decodeQuery(w, r)
	if !ok {
		return
	}

	start := time.Now()
	answer, err := rt.queries.Answer(r.Context(), query)
	rt.recordQuery("query", answer, time.Since(start), err)
	if err != nil {
		slog.ErrorContext(r.Context(), "query_failed",
			"request_id", requestIDFromContext(r.Context()),
			"error", err,
		)
		writeJSON(w, mapErrorToHTTPStatus(err), errorResponse{
			Error:     err.Error(),
			RequestID: requestIDFromContext(r.Context()),
			Answer:    answer,
		})
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

func (rt *Router) queryStream(w http.ResponseWriter, r *http.Request) {
	query, ok := rt.decodeQuery(w, r)
	if !ok {
		return
	}

	stream, err := newEventStream(w)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	start := time.Now()
	answer, err := rt.queries.Stream(r.Context(), query, func(chunk string) error {
		if rt.metrics != nil {
			rt.metrics.RecordStreamChunk(serviceName)
		}
		return stream.Token(chunk)
	})
	rt.recordQuery("query_stream", answer, time.Since(start), err)

	switch {
	case err == nil:
		if sendErr := stream.Done(answer); sendErr != nil {
			slog.WarnContext(r.Context(), "sse_write_failed", "error", sendErr)
		}
	case !stream.Started() && !domain.IsKind(err, domain.ErrGeneration):
		writeDomainError(w, r, err)
	default:
		slog.ErrorContext(r.Context(), "query_stream_failed",
			"request_id", requestIDFromContext(r.Context()),
			"error", err,
		)
		if sendErr := stream.Error(err, answer); sendErr != nil {
			slog.WarnContext(r.Context(), "sse_write_failed", "error", sendErr)
		}
	}
}

func (rt *Router) recordQuery(endpoint string, answer *domain.Answer, duration time.Duration, err error) {
	if rt.metrics == nil {
		return
	}
	sources := 0
	if answer != nil {
		sources = len(answer.Sources)
	}
	rt.metrics.RecordQuery(serviceName, endpoint, sources, duration, err)
}

func (rt *Router) submitJob(w http.ResponseWriter, r *http.Request) {
	if rt.jobs == nil {
		writeError(w, r, http.StatusServiceUnavailable, "async query jobs are disabled")
		return
	}
	query, ok := rt.decodeQuery(w, r)
	if !ok {
		return
	}

	job, err := rt.jobs.Submit(r.Context(), query)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (rt *Router) getJob(w http.ResponseWriter, r *http.Request) {
	if rt.jobs == nil {
		writeError(w, r, http.StatusServiceUnavailable, "async query jobs are disabled")
		return
	}
	id := strings.TrimSpace(mux.Vars(r)["job_id"])
	if id == "" {
		writeError(w, r, http.StatusBadRequest, "job id is required")
		return
	}

	job, err := rt.jobs.GetByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, errorResponse{
		Error:     message,
		RequestID: requestIDFromContext(r.Context()),
	})
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, mapErrorToHTTPStatus(err), err.Error())
}
