package api

import (
	"fmt"
	"html"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mailkite/mailkite/internal/models"
)

// openDedupeWindow collapses repeated pixel loads by the same contact into
// one recorded open.
const openDedupeWindow = time.Hour

// trackingPixel is a 1x1 transparent PNG.
var trackingPixel = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0b, 0x49, 0x44, 0x41, 0x54, 0x78, 0xda, 0x63, 0x60, 0x00, 0x02, 0x00,
	0x00, 0x05, 0x00, 0x01, 0xe9, 0xfa, 0xdc, 0xd8, 0x00, 0x00, 0x00, 0x00,
	0x49, 0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

// handleTrackingOpen serves the open pixel. The pixel is always returned,
// even when recording fails, so broken tracking never breaks mail rendering.
func (s *Server) handleTrackingOpen(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")
	contactID := chi.URLParam(r, "contactID")

	s.recordOpen(r, campaignID, contactID)

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.Write(trackingPixel)
}

func (s *Server) recordOpen(r *http.Request, campaignID, contactID string) {
	now := time.Now()
	exists, err := s.tracking.RecentOpenExists(campaignID, contactID, now.Add(-openDedupeWindow))
	if err != nil {
		s.logger.Error("failed to check open dedupe", "error", err)
		return
	}
	if exists {
		return
	}

	ev := &models.OpenEvent{
		CampaignID: campaignID,
		ContactID:  contactID,
		IPAddress:  r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	}
	if err := s.tracking.CreateOpen(ev); err != nil {
		s.logger.Error("failed to record open", "campaign_id", campaignID, "error", err)
		return
	}
	if err := s.contacts.TouchLastOpen(contactID, now); err != nil {
		s.logger.Error("failed to touch last open", "contact_id", contactID, "error", err)
	}
	s.metrics.OpensTotal.Inc()
}

// handleTrackingClick records a click and redirects to the original URL.
// The redirect happens even when recording fails.
func (s *Server) handleTrackingClick(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignID")
	contactID := chi.URLParam(r, "contactID")

	target := r.URL.Query().Get("url")
	if target == "" {
		s.sendError(w, http.StatusBadRequest, "missing url parameter")
		return
	}
	if u, err := url.Parse(target); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		s.sendError(w, http.StatusBadRequest, "invalid url parameter")
		return
	}

	s.recordClick(r, campaignID, contactID, target)

	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) recordClick(r *http.Request, campaignID, contactID, target string) {
	ev := &models.ClickEvent{
		CampaignID: campaignID,
		ContactID:  contactID,
		URL:        target,
		IPAddress:  r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	}
	if err := s.tracking.CreateClick(ev); err != nil {
		s.logger.Error("failed to record click", "campaign_id", campaignID, "error", err)
		return
	}
	if err := s.contacts.TouchLastClick(contactID, time.Now()); err != nil {
		s.logger.Error("failed to touch last click", "contact_id", contactID, "error", err)
	}
	s.metrics.ClicksTotal.Inc()
}

// handleUnsubscribePage serves a minimal confirmation form so a single
// prefetch of the link does not unsubscribe the contact.
func (s *Server) handleUnsubscribePage(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	contact, err := s.contacts.GetByToken(token)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if contact == nil {
		http.Error(w, "unknown unsubscribe link", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<!DOCTYPE html>
<html><head><title>Unsubscribe</title></head><body>
<p>Unsubscribe %s from this list?</p>
<form method="post" action="/unsubscribe/%s"><button type="submit">Unsubscribe</button></form>
</body></html>`, html.EscapeString(contact.Email), html.EscapeString(token))
}

// handleUnsubscribe flips the contact to unsubscribed. Idempotent; a contact
// that already left stays unsubscribed.
func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	contact, err := s.contacts.GetByToken(token)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if contact == nil {
		http.Error(w, "unknown unsubscribe link", http.StatusNotFound)
		return
	}

	if contact.Status != models.ContactUnsubscribed {
		if err := s.contacts.UpdateStatus(contact.ID, models.ContactUnsubscribed); err != nil {
			s.sendError(w, http.StatusInternalServerError, "internal error")
			return
		}
		s.logger.Info("contact unsubscribed", "contact_id", contact.ID)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, `<!DOCTYPE html><html><body><p>You have been unsubscribed.</p></body></html>`)
}
