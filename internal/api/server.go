// Package api exposes the HTTP interface for the scanner service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sitewatch/compliance-scanner/internal/config"
	"github.com/sitewatch/compliance-scanner/internal/memguard"
	"github.com/sitewatch/compliance-scanner/internal/metrics"
	"github.com/sitewatch/compliance-scanner/internal/scanner"
)

// ScanService runs scans on behalf of the API.
type ScanService interface {
	Scan(ctx context.Context, req scanner.ScanRequest) (scanner.ScanResult, error)
	ScanBatch(ctx context.Context, targets []string) []scanner.ScanResult
}

// MemoryReporter exposes the memory guard's current state.
type MemoryReporter interface {
	CurrentTier() memguard.Tier
	Trend() []scanner.MemorySample
}

// Server wires HTTP handlers to the scan pipeline and stores.
type Server struct {
	router  chi.Router
	scans   ScanService
	memory  MemoryReporter
	results scanner.ResultStore
	clock   scanner.Clock
	cfg     config.Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes. The results
// store is optional; without one the history endpoint returns 404.
func NewServer(
	scans ScanService,
	memory MemoryReporter,
	results scanner.ResultStore,
	clock scanner.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		scans:   scans,
		memory:  memory,
		results: results,
		clock:   clock,
		cfg:     cfg,
		logger:  logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(cfg.ScanTimeout() + 30*time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/scans", func(r chi.Router) {
			r.Post("/", s.submitScan)
			r.Post("/batch", s.submitBatch)
		})
		r.Get("/results", s.listResults)
		r.Get("/memory", s.memoryStatus)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.memory != nil && s.memory.CurrentTier() == memguard.TierEmergency {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "memory pressure"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type scanRequest struct {
	Target   string `json:"target"`
	MaxPages int    `json:"max_pages"`
	Priority int    `json:"priority"`
}

type batchRequest struct {
	Targets []string `json:"targets"`
}

func (s *Server) submitScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	result, err := s.scans.Scan(r.Context(), scanner.ScanRequest{
		Target:      req.Target,
		MaxPages:    req.MaxPages,
		Priority:    req.Priority,
		SubmittedAt: s.clock.Now(),
	})
	if err != nil {
		writeError(w, scanErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Targets) == 0 {
		writeError(w, http.StatusBadRequest, "at least one target required")
		return
	}
	results := s.scans.ScanBatch(r.Context(), req.Targets)
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) listResults(w http.ResponseWriter, r *http.Request) {
	if s.results == nil {
		writeError(w, http.StatusNotFound, "result history is not configured")
		return
	}
	target := r.URL.Query().Get("target")
	if target == "" {
		writeError(w, http.StatusBadRequest, "target query parameter required")
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	results, err := s.results.ListResults(r.Context(), target, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch results")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) memoryStatus(w http.ResponseWriter, _ *http.Request) {
	if s.memory == nil {
		writeError(w, http.StatusNotFound, "memory guard is not configured")
		return
	}
	trend := s.memory.Trend()
	payload := map[string]any{
		"tier":  string(s.memory.CurrentTier()),
		"trend": trend,
	}
	if len(trend) > 0 {
		payload["current_percent"] = trend[len(trend)-1].Percent
	}
	writeJSON(w, http.StatusOK, payload)
}

// scanErrorStatus maps pipeline errors to HTTP status codes. Capacity and
// memory exhaustion are retryable, so they surface as 503.
func scanErrorStatus(err error) int {
	switch {
	case errors.Is(err, scanner.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, scanner.ErrCapacityUnavailable), errors.Is(err, scanner.ErrMemoryExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, scanner.ErrCancelled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
