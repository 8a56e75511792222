// Package server provides the HTTP REST API for the storefront agent.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jonathan/storefront-agent/internal/pipeline"
	"github.com/jonathan/storefront-agent/internal/server/middleware"
	"github.com/jonathan/storefront-agent/internal/server/ratelimit"
	"github.com/jonathan/storefront-agent/internal/types"
)

// Workflow starts and advances the workflow phases
type Workflow interface {
	StartResearch(ctx context.Context, params types.ResearchParams) (uuid.UUID, error)
	StartGeneration(ctx context.Context, req pipeline.GenerationRequest) (uuid.UUID, error)
	ApproveEntity(ctx context.Context, id uuid.UUID) (*types.Entity, error)
	StartPublish(ctx context.Context, entityID uuid.UUID) (uuid.UUID, error)
}

// Reconciler runs one sales reconciliation
type Reconciler interface {
	Reconcile(ctx context.Context) (types.ReconcileResult, error)
}

// Store is the read surface the API exposes
type Store interface {
	GetRun(ctx context.Context, runID uuid.UUID) (*types.Run, error)
	ListRuns(ctx context.Context, filters types.RunFilters) ([]types.Run, error)
	GetEntity(ctx context.Context, id uuid.UUID) (*types.Entity, error)
	GetReport(ctx context.Context, id uuid.UUID) (*types.Report, error)
	ListSalesForEntity(ctx context.Context, entityID uuid.UUID) ([]types.SaleRecord, error)
}

// TaskLister lists supervised background tasks
type TaskLister interface {
	List() []pipeline.Task
}

// Authorizer runs the marketplace consent flow
type Authorizer interface {
	AuthorizeURL(state, challenge string, scopes []string) string
	ExchangeCode(ctx context.Context, code, verifier string) (*types.Credential, error)
}

// Deps holds the collaborators behind the API. OAuth, Files and JWT are optional.
type Deps struct {
	Workflow   Workflow
	Reconciler Reconciler
	Store      Store
	Tasks      TaskLister
	OAuth      Authorizer
	Files      http.Handler
	JWT        *JWTService
	RateLimit  *ratelimit.Config
	Logger     *zap.Logger
}

// Config holds server configuration
type Config struct {
	Port int
	// EventPollInterval is how often /runs/{id}/events re-reads the run
	EventPollInterval time.Duration
}

// Server represents the HTTP server
type Server struct {
	httpServer  *http.Server
	deps        Deps
	logger      *zap.Logger
	rateLimiter *ratelimit.Limiter
	pollEvery   time.Duration

	mu      sync.Mutex
	pending map[string]pendingAuth
}

// pendingAuth is a consent flow waiting for its callback
type pendingAuth struct {
	verifier string
	created  time.Time
}

// authStateTTL bounds how long a consent flow may take
const authStateTTL = 10 * time.Minute

// New creates a new server instance
func New(cfg Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		deps:        deps,
		logger:      logger.Named("server"),
		rateLimiter: ratelimit.NewLimiter(deps.RateLimit),
		pollEvery:   cfg.EventPollInterval,
		pending:     make(map[string]pendingAuth),
	}
	if s.pollEvery <= 0 {
		s.pollEvery = time.Second
	}

	api := http.NewServeMux()
	api.HandleFunc("POST /research", s.handleResearch)
	api.HandleFunc("POST /generations", s.handleGenerate)
	api.HandleFunc("POST /entities/{id}/approve", s.handleApprove)
	api.HandleFunc("POST /entities/{id}/publish", s.handlePublish)
	api.HandleFunc("POST /reconcile", s.handleReconcile)

	api.HandleFunc("GET /runs", s.handleListRuns)
	api.HandleFunc("GET /runs/{id}", s.handleGetRun)
	api.HandleFunc("GET /runs/{id}/events", s.handleRunEvents)
	api.HandleFunc("GET /entities/{id}", s.handleGetEntity)
	api.HandleFunc("GET /entities/{id}/sales", s.handleEntitySales)
	api.HandleFunc("GET /reports/{id}", s.handleGetReport)
	api.HandleFunc("GET /tasks", s.handleTasks)
	api.HandleFunc("GET /oauth/authorize", s.handleAuthorize)

	var protected http.Handler = api
	if deps.JWT != nil {
		protected = middleware.AuthMiddleware(deps.JWT.AsTokenValidator())(api)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /oauth/callback", s.handleCallback)
	if deps.Files != nil {
		mux.Handle("GET /files/", http.StripPrefix("/files", deps.Files))
	}
	mux.Handle("/", protected)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.withRateLimit(s.withLogging(s.withCORS(mux))),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // event streams stay open until the run finishes
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server_starting", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.rateLimiter.Stop()
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("server_shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	s.rateLimiter.Stop()
	s.logger.Info("server_stopped")
	return nil
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withRateLimit adds rate limiting middleware
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, info := s.rateLimiter.Allow(s.extractClientID(r), r.URL.Path, r.Method)
		s.setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, r, info)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for the access log
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps event streams working through the logging wrapper
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote", r.RemoteAddr),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("encode_response_failed", zap.Error(err))
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// failure maps err to a status code. Internal errors are logged and not echoed.
func (s *Server) failure(w http.ResponseWriter, r *http.Request, err error) {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request_failed", zap.String("path", r.URL.Path), zap.Error(err))
		s.errorResponse(w, status, "internal error")
		return
	}
	s.errorResponse(w, status, err.Error())
}

// decodeBody reads a JSON request body of at most 1 MiB
func decodeBody(w http.ResponseWriter, r *http.Request, out any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return &ErrValidation{Field: "body", Message: err.Error()}
	}
	return nil
}

// pathID parses the {id} path value
func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, &ErrValidation{Field: "id", Message: "must be a UUID"}
	}
	return id, nil
}

// queryInt parses an optional integer query parameter
func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, &ErrValidation{Field: key, Message: "must be a non-negative integer"}
	}
	return n, nil
}

// extractClientID uses the IP address from RemoteAddr.
func (s *Server) extractClientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func (s *Server) setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response with rate limit information.
func (s *Server) rateLimitResponse(w http.ResponseWriter, r *http.Request, info ratelimit.Info) {
	response := map[string]any{
		"error":     "rate_limit_exceeded",
		"message":   "Rate limit exceeded. Please try again later.",
		"limit":     info.Limit,
		"remaining": info.Remaining,
	}

	if info.RetryAfter > 0 {
		secs := int(info.RetryAfter.Seconds()) + 1
		response["retry_after"] = secs
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	s.logger.Warn("rate_limit_exceeded",
		zap.String("client", s.extractClientID(r)),
		zap.String("path", r.URL.Path),
		zap.Int("limit", info.Limit),
	)

	s.jsonResponse(w, http.StatusTooManyRequests, response)
}
