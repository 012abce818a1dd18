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

	"github.com/heyitswin/zipsea-sub004/internal/config"
	"github.com/heyitswin/zipsea-sub004/internal/ingest"
	"github.com/heyitswin/zipsea-sub004/internal/metrics"
	"github.com/heyitswin/zipsea-sub004/internal/pricesync"
)

// Server wires HTTP handlers to the ingress and stores.
type Server struct {
	router  chi.Router
	ingress *ingest.Ingress
	jobs    pricesync.JobStore
	flags   pricesync.FlagStore
	clock   pricesync.Clock
	cfg     config.Config
	logger  *zap.Logger
}

// lineJobsLimit bounds the line status listing.
const lineJobsLimit = 20

// NewServer constructs a Server with middleware and routes.
func NewServer(
	ingress *ingest.Ingress,
	jobs pricesync.JobStore,
	flags pricesync.FlagStore,
	clock pricesync.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		ingress: ingress,
		jobs:    jobs,
		flags:   flags,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/webhooks", func(r chi.Router) {
		r.Post("/cruiseline-pricing-updated", s.handleWebhook)
	})

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/jobs/{job_id}/status", s.getJobStatus)
		r.Get("/lines/{line_id}/status", s.getLineStatus)
		r.Post("/sync/{line_id}", s.triggerSync)
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

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// Flag reads hit the database, so a successful read doubles as a
	// readiness probe for the primary downstream.
	paused, err := s.flags.Bool(r.Context(), pricesync.FlagWebhooksPaused)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "database not reachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "webhooks_paused": paused})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var ev pricesync.WebhookEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		metrics.WebhookReceived("rejected")
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	s.acceptEvent(w, r, ev)
}

func (s *Server) triggerSync(w http.ResponseWriter, r *http.Request) {
	lineID, err := strconv.ParseInt(chi.URLParam(r, "line_id"), 10, 64)
	if err != nil || lineID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid line id")
		return
	}
	ev := pricesync.WebhookEvent{
		Event:     "manual_sync",
		LineID:    lineID,
		Timestamp: s.clock.Now().Unix(),
	}
	s.acceptEvent(w, r, ev)
}

// acceptEvent runs the shared intake path. The response is always
// immediate; pipeline outcome is observable only via the job endpoints.
func (s *Server) acceptEvent(w http.ResponseWriter, r *http.Request, ev pricesync.WebhookEvent) {
	res, err := s.ingress.Accept(r.Context(), ev)
	if err != nil {
		if errors.Is(err, ingest.ErrInvalidEvent) {
			metrics.WebhookReceived("rejected")
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		metrics.WebhookReceived("rejected")
		writeError(w, status, err.Error())
		return
	}
	if res.Duplicate {
		metrics.WebhookReceived("duplicate")
	} else {
		metrics.WebhookReceived("accepted")
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getLineStatus(w http.ResponseWriter, r *http.Request) {
	lineID, err := strconv.ParseInt(chi.URLParam(r, "line_id"), 10, 64)
	if err != nil || lineID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid line id")
		return
	}
	jobs, err := s.jobs.ListJobsByLine(r.Context(), lineID, lineJobsLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	syncing := false
	for _, j := range jobs {
		if j.Status == pricesync.JobStatusRunning {
			syncing = true
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"line_id": lineID,
		"syncing": syncing,
		"jobs":    jobs,
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			duration := time.Since(start)
			metrics.ObserveHTTPRequest(r.Method, r.URL.Path, ww.status, duration)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", duration.Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
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

type requestIDKey struct{}

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

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
