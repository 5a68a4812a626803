package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mailkite/mailkite/internal/campaign"
	"github.com/mailkite/mailkite/internal/models"
	"github.com/mailkite/mailkite/internal/queue"
)

// StartResponse is the response for POST /campaigns/{id}/start
type StartResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Enqueued int    `json:"enqueued"`
}

// StatusResponse is the response for pause and cancel
type StatusResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// StatsResponse is the response for GET /campaigns/{id}/stats
type StatsResponse struct {
	ID          string                `json:"id"`
	Status      models.CampaignStatus `json:"status"`
	PendingJobs int                   `json:"pending_jobs"`
	Stats       *models.CampaignStats `json:"stats"`
}

// QueueResponse is the response for GET /queue
type QueueResponse struct {
	Stats      *queue.QueueStats    `json:"stats"`
	DeadLetter []*queue.DeliveryJob `json:"dead_letter,omitempty"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime"`
	Queue  *queue.QueueStats `json:"queue"`
}

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleCampaignStart handles POST /api/v1/campaigns/{id}/start
func (s *Server) handleCampaignStart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	n, err := s.orchestrator.Start(r.Context(), id)
	if err != nil {
		s.sendCampaignError(w, err)
		return
	}

	c, err := s.campaigns.GetByID(id)
	if err != nil || c == nil {
		s.sendError(w, http.StatusInternalServerError, "failed to load campaign")
		return
	}

	s.sendJSON(w, http.StatusOK, StartResponse{
		ID:       id,
		Status:   string(c.Status),
		Enqueued: n,
	})
}

// handleCampaignPause handles POST /api/v1/campaigns/{id}/pause
func (s *Server) handleCampaignPause(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.orchestrator.Pause(r.Context(), id); err != nil {
		s.sendCampaignError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, StatusResponse{ID: id, Status: string(models.CampaignPaused)})
}

// handleCampaignCancel handles POST /api/v1/campaigns/{id}/cancel
func (s *Server) handleCampaignCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.orchestrator.Cancel(r.Context(), id); err != nil {
		s.sendCampaignError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, StatusResponse{ID: id, Status: string(models.CampaignCancelled)})
}

// handleCampaignStats handles GET /api/v1/campaigns/{id}/stats
func (s *Server) handleCampaignStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := s.campaigns.GetByID(id)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to load campaign")
		return
	}
	if c == nil {
		s.sendError(w, http.StatusNotFound, "campaign not found")
		return
	}

	stats, err := s.campaigns.Stats(id)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}

	s.sendJSON(w, http.StatusOK, StatsResponse{
		ID:          c.ID,
		Status:      c.Status,
		PendingJobs: c.PendingJobs,
		Stats:       stats,
	})
}

// handleQueue handles GET /api/v1/queue
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Stats(r.Context())
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "failed to read queue stats")
		return
	}

	resp := QueueResponse{Stats: stats}
	if bolt, ok := s.queue.(*queue.BoltStorage); ok {
		if dead, err := bolt.ListDLQ(r.Context(), 100, 0); err == nil {
			resp.DeadLetter = dead
		}
	}

	s.sendJSON(w, http.StatusOK, resp)
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queue.Stats(r.Context())
	if err != nil {
		s.sendError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}

	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
		Queue:  stats,
	})
}

// sendCampaignError maps orchestrator errors to status codes.
func (s *Server) sendCampaignError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, campaign.ErrNotFound):
		s.sendError(w, http.StatusNotFound, "campaign not found")
	case errors.Is(err, campaign.ErrInvalidState), errors.Is(err, campaign.ErrNoList):
		s.sendError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("campaign operation failed", "error", err)
		s.sendError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, msg string) {
	s.sendJSON(w, status, ErrorResponse{Error: msg})
}
