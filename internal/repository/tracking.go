package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mailkite/mailkite/internal/models"
)

type TrackingRepository struct {
	db *sql.DB
}

func NewTrackingRepository(db *sql.DB) *TrackingRepository {
	return &TrackingRepository{db: db}
}

// CreateOpen records an open-pixel hit.
func (r *TrackingRepository) CreateOpen(ev *models.OpenEvent) error {
	ev.ID = uuid.New().String()
	ev.OpenedAt = time.Now()

	_, err := r.db.Exec(`
		INSERT INTO email_opens (id, campaign_id, contact_id, ip_address, user_agent, opened_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.CampaignID, ev.ContactID, nullString(ev.IPAddress), nullString(ev.UserAgent), ev.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create open event: %w", err)
	}
	return nil
}

// RecentOpenExists reports whether an open was already recorded for this
// campaign and contact at or after the given time. Used to collapse
// repeated pixel loads from mail clients into one logical open.
func (r *TrackingRepository) RecentOpenExists(campaignID, contactID string, since time.Time) (bool, error) {
	var exists int
	err := r.db.QueryRow(`
		SELECT EXISTS(
			SELECT 1 FROM email_opens
			WHERE campaign_id = ? AND contact_id = ? AND opened_at >= ?
		)`, campaignID, contactID, since).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists == 1, nil
}

// CreateClick records a tracked link click.
func (r *TrackingRepository) CreateClick(ev *models.ClickEvent) error {
	ev.ID = uuid.New().String()
	ev.ClickedAt = time.Now()

	_, err := r.db.Exec(`
		INSERT INTO email_clicks (id, campaign_id, contact_id, url, ip_address, user_agent, clicked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.CampaignID, ev.ContactID, ev.URL, nullString(ev.IPAddress), nullString(ev.UserAgent), ev.ClickedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create click event: %w", err)
	}
	return nil
}
