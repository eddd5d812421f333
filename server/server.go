// Copyright 2025 LoanGuard
// SPDX-License-Identifier: Apache-2.0

// Package server exposes the governance engine over HTTP: plan evaluation,
// the approval queue, the audit trail, and the emergency-override path.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"loanguard/platform/approval"
	"loanguard/platform/audit"
	"loanguard/platform/config"
	"loanguard/platform/decision"
	"loanguard/platform/governance"
	"loanguard/platform/logger"
	"loanguard/platform/override"
)

// Prometheus metrics
var (
	promRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loanguard_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"endpoint", "status"},
	)
	promRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "loanguard_request_duration_milliseconds",
			Help:    "Request duration in milliseconds",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200, 500, 1000},
		},
		[]string{"endpoint"},
	)
	promApprovalDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loanguard_approval_decisions_total",
			Help: "Approval decisions by outcome",
		},
		[]string{"outcome"},
	)
	promEscalations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "loanguard_escalations_total",
			Help: "Timeout escalations performed",
		},
	)
	promOverrides = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "loanguard_overrides_total",
			Help: "Emergency overrides executed",
		},
	)
)

func init() {
	prometheus.MustRegister(promRequestsTotal)
	prometheus.MustRegister(promRequestDuration)
	prometheus.MustRegister(promApprovalDecisions)
	prometheus.MustRegister(promEscalations)
	prometheus.MustRegister(promOverrides)
}

// Server wires the governance components behind an HTTP router.
type Server struct {
	cfg       *config.Config
	agent     *decision.Agent
	workflow  *approval.Workflow
	auditor   *audit.Logger
	overrides *override.Manager
	engine    *governance.Engine // nil when no evaluation service is configured

	reqLog *logger.Logger
	router *mux.Router
	http   *http.Server
}

// New builds the server and its routes. engine may be nil.
func New(cfg *config.Config, agent *decision.Agent, workflow *approval.Workflow,
	auditor *audit.Logger, overrides *override.Manager, engine *governance.Engine) *Server {

	s := &Server{
		cfg:       cfg,
		agent:     agent,
		workflow:  workflow,
		auditor:   auditor,
		overrides: overrides,
		engine:    engine,
		reqLog:    logger.New("server"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/plans/evaluate", s.handleEvaluatePlan).Methods("POST")

	api.HandleFunc("/approvals", s.handleSubmitApproval).Methods("POST")
	api.HandleFunc("/approvals/queue", s.handleApprovalQueue).Methods("GET")
	api.HandleFunc("/approvals/bulk-approve", s.handleBulkApprove).Methods("POST")
	api.HandleFunc("/approvals/{id}", s.handleGetApproval).Methods("GET")
	api.HandleFunc("/approvals/{id}/approve", s.handleApprove).Methods("POST")
	api.HandleFunc("/approvals/{id}/reject", s.handleReject).Methods("POST")
	api.HandleFunc("/executions", s.handleRecordExecution).Methods("POST")

	api.HandleFunc("/audit/events", s.handleAuditQuery).Methods("GET")
	api.HandleFunc("/audit/events/{id}/verify", s.handleVerifyEvent).Methods("GET")
	api.HandleFunc("/audit/verify-chain", s.handleVerifyChain).Methods("GET")
	api.HandleFunc("/audit/compliance-report", s.handleComplianceReport).Methods("GET")

	// Override endpoints require an authenticated caller.
	api.Handle("/overrides", s.requireAuth(http.HandlerFunc(s.handleExecuteOverride))).Methods("POST")
	api.Handle("/overrides/{id}/events", s.requireAuth(http.HandlerFunc(s.handleOverrideEvents))).Methods("GET")

	api.HandleFunc("/governance/evaluate", s.handleGovernanceEvaluate).Methods("POST")
	api.HandleFunc("/governance/rules", s.handleAddRule).Methods("POST")
	api.HandleFunc("/governance/rules", s.handleListRules).Methods("GET")
	api.HandleFunc("/governance/rules/{id}/deactivate", s.handleDeactivateRule).Methods("POST")

	return r
}

// Handler returns the full middleware-wrapped handler, for tests and Run.
func (s *Server) Handler() http.Handler {
	corsOptions := cors.Options{
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}
	if len(s.cfg.AllowedOrigins) > 0 {
		corsOptions.AllowedOrigins = s.cfg.AllowedOrigins
	}
	return cors.New(corsOptions).Handler(s.instrument(s.router))
}

// Run starts the HTTP server and the escalation scan loop, blocking until
// the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go s.escalationLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[SERVER] LoanGuard governance service listening on :%d", s.cfg.Port)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// escalationLoop runs the timeout-escalation scan on a fixed interval. It
// is the only scheduled work in the service.
func (s *Server) escalationLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.EscalationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.workflow.CheckAndEscalateTimeouts(ctx)
			if err != nil {
				log.Printf("[SERVER] Escalation scan failed: %v", err)
				continue
			}
			if n > 0 {
				promEscalations.Add(float64(n))
				log.Printf("[SERVER] Escalated %d timed-out approval requests", n)
			}
		}
	}
}

// instrument records request counts and latency per route template.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tmpl
			}
		}
		promRequestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", rec.status)).Inc()
		promRequestDuration.WithLabelValues(endpoint).
			Observe(float64(time.Since(start).Milliseconds()))

		if rec.status >= http.StatusBadRequest {
			s.reqLog.Warn(userIDFrom(r.Context()), r.Header.Get("X-Request-ID"),
				"request failed", map[string]interface{}{
					"method":   r.Method,
					"endpoint": endpoint,
					"status":   rec.status,
				})
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	checks := map[string]string{"database": "ok"}

	if db := s.db(); db != nil {
		if err := db.PingContext(r.Context()); err != nil {
			status = "degraded"
			checks["database"] = err.Error()
		}
	}
	if s.engine != nil {
		if s.engine.IsHealthy() {
			checks["evaluation_service"] = "ok"
		} else {
			checks["evaluation_service"] = "unavailable"
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"service":   "loanguard-governance",
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	})
}

// db exposes the audit logger's handle for health checks.
func (s *Server) db() *sql.DB {
	if s.auditor == nil {
		return nil
	}
	return s.auditor.DB()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[SERVER] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
