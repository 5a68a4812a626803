package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mailkite/mailkite/internal/models"
)

type BounceRepository struct {
	db *sql.DB
}

func NewBounceRepository(db *sql.DB) *BounceRepository {
	return &BounceRepository{db: db}
}

// Create records a classified delivery failure.
func (r *BounceRepository) Create(b *models.Bounce) error {
	b.ID = uuid.New().String()
	b.CreatedAt = time.Now()

	_, err := r.db.Exec(`
		INSERT INTO bounces (id, campaign_id, contact_id, type, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		b.ID, b.CampaignID, b.ContactID, b.Type, b.Reason, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create bounce record: %w", err)
	}
	return nil
}

// ListByCampaign returns the bounces recorded for a campaign.
func (r *BounceRepository) ListByCampaign(campaignID string) ([]*models.Bounce, error) {
	rows, err := r.db.Query(`
		SELECT id, campaign_id, contact_id, type, reason, created_at
		FROM bounces WHERE campaign_id = ? ORDER BY created_at DESC`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bounces := []*models.Bounce{}
	for rows.Next() {
		b := &models.Bounce{}
		var reason sql.NullString
		if err := rows.Scan(&b.ID, &b.CampaignID, &b.ContactID, &b.Type, &reason, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.Reason = reason.String
		bounces = append(bounces, b)
	}
	return bounces, rows.Err()
}
