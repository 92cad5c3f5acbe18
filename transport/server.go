// Package transport exposes the daemon's HTTP surface: the agent API,
// webhook ingestion, the realtime websocket feed, operator endpoints, and
// Prometheus metrics.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sigilsec/sentinel/connector"
	"github.com/sigilsec/sentinel/core"
	"github.com/sigilsec/sentinel/monitor"
	"github.com/sigilsec/sentinel/queue"
	"github.com/sigilsec/sentinel/schedule"
)

// Server is the HTTP transport over the runtime components.
type Server struct {
	config    *core.Config
	registry  *connector.Registry
	queue     *queue.Queue
	scheduler *schedule.Scheduler
	monitor   *monitor.Monitor
	issuer    *TokenIssuer
	gatherer  prometheus.Gatherer
	logger    core.Logger

	httpServer *http.Server
}

// NewServer assembles the router over the runtime components.
func NewServer(cfg *core.Config, registry *connector.Registry, q *queue.Queue, sched *schedule.Scheduler, mon *monitor.Monitor, gatherer prometheus.Gatherer, logger core.Logger) *Server {
	if logger == nil {
		logger = &core.NoOpLogger{}
	} else if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("transport")
	}
	s := &Server{
		config:    cfg,
		registry:  registry,
		queue:     q,
		scheduler: sched,
		monitor:   mon,
		issuer:    NewTokenIssuer(cfg.Secret),
		gatherer:  gatherer,
		logger:    logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Get("/api/realtime", s.handleRealtime)

	r.Route("/api/agents", func(r chi.Router) {
		r.Post("/register", s.handleAgentRegister)
		r.Group(func(r chi.Router) {
			r.Use(s.issuer.Middleware)
			r.Post("/heartbeat", s.handleAgentHeartbeat)
			r.Post("/data", s.handleAgentData)
			r.Get("/config", s.handleAgentConfig)
		})
	})

	r.Route("/api/connectors", func(r chi.Router) {
		r.Get("/", s.handleListConnectors)
		r.Post("/{id}/test", s.handleTestConnector)
		r.Post("/{id}/run", s.handleRunConnector)
		r.Post("/{id}/pause", s.handlePauseConnector)
		r.Post("/{id}/resume", s.handleResumeConnector)
		r.Patch("/{id}/config", s.handleUpdateConnectorConfig)
	})

	r.Route("/api/queue", func(r chi.Router) {
		r.Get("/stats", s.handleQueueStats)
		r.Post("/retry", s.handleQueueRetry)
	})

	r.Post("/webhooks/*", s.handleWebhook)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      otelhttp.NewHandler(r, "http"),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}
	return s
}

// Issuer exposes the token issuer, mainly to tests.
func (s *Server) Issuer() *TokenIssuer { return s.issuer }

// Handler returns the assembled HTTP handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start serves HTTP until the context is canceled or the listener fails.
// The returned channel yields the terminal serve error, if any.
func (s *Server) Start(ctx context.Context) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", map[string]interface{}{
			"addr": s.httpServer.Addr,
		})
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.HTTP.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
