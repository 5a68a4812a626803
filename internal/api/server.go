package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mailkite/mailkite/internal/campaign"
	"github.com/mailkite/mailkite/internal/config"
	"github.com/mailkite/mailkite/internal/metrics"
	"github.com/mailkite/mailkite/internal/queue"
	"github.com/mailkite/mailkite/internal/repository"
)

// Server is the HTTP control and tracking surface.
type Server struct {
	router       *chi.Mux
	httpServer   *http.Server
	orchestrator *campaign.Orchestrator
	campaigns    *repository.CampaignRepository
	contacts     *repository.ContactRepository
	tracking     *repository.TrackingRepository
	queue        queue.Queue
	metrics      *metrics.Metrics
	config       *config.ServerConfig
	logger       *slog.Logger
	startTime    time.Time
}

// NewServer creates the HTTP server.
func NewServer(
	orchestrator *campaign.Orchestrator,
	campaigns *repository.CampaignRepository,
	contacts *repository.ContactRepository,
	tracking *repository.TrackingRepository,
	q queue.Queue,
	m *metrics.Metrics,
	cfg *config.ServerConfig,
	logger *slog.Logger,
) *Server {
	s := &Server{
		router:       chi.NewRouter(),
		orchestrator: orchestrator,
		campaigns:    campaigns,
		contacts:     contacts,
		tracking:     tracking,
		queue:        q,
		metrics:      m,
		config:       cfg,
		logger:       logger.With("component", "api"),
		startTime:    time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.metricsMiddleware)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/campaigns/{id}/start", s.handleCampaignStart)
		r.Post("/campaigns/{id}/pause", s.handleCampaignPause)
		r.Post("/campaigns/{id}/cancel", s.handleCampaignCancel)
		r.Get("/campaigns/{id}/stats", s.handleCampaignStats)
		r.Get("/queue", s.handleQueue)
	})

	// Recipient-facing endpoints; no auth, never fail visibly.
	s.router.Get("/tracking/open/{campaignID}/{contactID}", s.handleTrackingOpen)
	s.router.Get("/tracking/click/{campaignID}/{contactID}", s.handleTrackingClick)
	s.router.Get("/unsubscribe/{token}", s.handleUnsubscribePage)
	s.router.Post("/unsubscribe/{token}", s.handleUnsubscribe)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
