package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mailkite/mailkite/internal/models"
)

type SendRepository struct {
	db *sql.DB
}

func NewSendRepository(db *sql.DB) *SendRepository {
	return &SendRepository{db: db}
}

// Create records a delivery attempt outcome. Rows are never updated after
// creation.
func (r *SendRepository) Create(s *models.EmailSend) error {
	s.ID = uuid.New().String()
	s.CreatedAt = time.Now()

	_, err := r.db.Exec(`
		INSERT INTO email_sends (id, campaign_id, contact_id, subject, from_name, from_email, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.CampaignID, s.ContactID, s.Subject, s.FromName, s.FromEmail, s.Status, s.Error, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create send record: %w", err)
	}
	return nil
}

// Exists reports whether any send record exists for a campaign/contact pair.
// Tracking endpoints use this to reject hits for mail that was never sent.
func (r *SendRepository) Exists(campaignID, contactID string) (bool, error) {
	var n int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM email_sends WHERE campaign_id = ? AND contact_id = ?",
		campaignID, contactID,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListByCampaign returns send records for a campaign, newest first.
func (r *SendRepository) ListByCampaign(campaignID string, limit int) ([]*models.EmailSend, error) {
	query := `
		SELECT id, campaign_id, contact_id, subject, from_name, from_email, status, error, created_at
		FROM email_sends WHERE campaign_id = ? ORDER BY created_at DESC`
	args := []any{campaignID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sends := []*models.EmailSend{}
	for rows.Next() {
		s := &models.EmailSend{}
		var fromName, fromEmail, errMsg sql.NullString
		if err := rows.Scan(&s.ID, &s.CampaignID, &s.ContactID, &s.Subject,
			&fromName, &fromEmail, &s.Status, &errMsg, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.FromName = fromName.String
		s.FromEmail = fromEmail.String
		s.Error = errMsg.String
		sends = append(sends, s)
	}
	return sends, rows.Err()
}
