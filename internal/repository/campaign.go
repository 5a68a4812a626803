package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mailkite/mailkite/internal/models"
)

type CampaignRepository struct {
	db *sql.DB
}

func NewCampaignRepository(db *sql.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// Create creates a new campaign in draft status (or scheduled when a
// schedule time is set).
func (r *CampaignRepository) Create(c *models.Campaign) error {
	c.ID = uuid.New().String()
	if c.ScheduledAt != nil {
		c.Status = models.CampaignScheduled
	} else {
		c.Status = models.CampaignDraft
	}
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt

	subjectRotation, err := marshalJSONColumn(c.SubjectRotation)
	if err != nil {
		return err
	}
	fromRotation, err := marshalJSONColumn(c.FromRotation)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(`
		INSERT INTO campaigns (id, user_id, list_id, smtp_profile_id, name, status,
			subject, subject_rotation, from_name, from_email, from_rotation,
			html_content, text_content, preheader, scheduled_at, pending_jobs, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		c.ID, c.UserID, nullString(c.ListID), nullString(c.SmtpProfileID), c.Name, c.Status,
		c.Subject, subjectRotation, c.FromName, c.FromEmail, fromRotation,
		c.HTMLContent, c.TextContent, c.Preheader, c.ScheduledAt, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

// GetByID returns a campaign by ID, or nil if it does not exist.
func (r *CampaignRepository) GetByID(id string) (*models.Campaign, error) {
	return r.scanOne(r.db.QueryRow(campaignSelect+" WHERE id = ?", id))
}

// Update replaces campaign content. Content may only change while the
// campaign is editable; the caller checks the status precondition.
func (r *CampaignRepository) Update(c *models.Campaign) error {
	subjectRotation, err := marshalJSONColumn(c.SubjectRotation)
	if err != nil {
		return err
	}
	fromRotation, err := marshalJSONColumn(c.FromRotation)
	if err != nil {
		return err
	}

	c.UpdatedAt = time.Now()
	_, err = r.db.Exec(`
		UPDATE campaigns SET list_id = ?, smtp_profile_id = ?, name = ?, status = ?,
			subject = ?, subject_rotation = ?, from_name = ?, from_email = ?, from_rotation = ?,
			html_content = ?, text_content = ?, preheader = ?, scheduled_at = ?, updated_at = ?
		WHERE id = ?`,
		nullString(c.ListID), nullString(c.SmtpProfileID), c.Name, c.Status,
		c.Subject, subjectRotation, c.FromName, c.FromEmail, fromRotation,
		c.HTMLContent, c.TextContent, c.Preheader, c.ScheduledAt, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update campaign: %w", err)
	}
	return nil
}

// Delete removes a campaign. The caller checks the status precondition.
func (r *CampaignRepository) Delete(id string) error {
	_, err := r.db.Exec("DELETE FROM campaigns WHERE id = ?", id)
	return err
}

// UpdateStatus sets the campaign status.
func (r *CampaignRepository) UpdateStatus(id string, status models.CampaignStatus) error {
	_, err := r.db.Exec("UPDATE campaigns SET status = ?, updated_at = ? WHERE id = ?",
		status, time.Now(), id)
	return err
}

// MarkStarted atomically moves a campaign to sending, records the start
// timestamp and seeds the outstanding-job counter with the snapshot size.
// The status is re-checked inside the update so concurrent starts cannot
// both succeed.
func (r *CampaignRepository) MarkStarted(id string, pendingJobs int) (bool, error) {
	now := time.Now()
	res, err := r.db.Exec(`
		UPDATE campaigns SET status = ?, sent_at = ?, pending_jobs = ?, updated_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		models.CampaignSending, now, pendingJobs, now,
		id, models.CampaignDraft, models.CampaignScheduled,
	)
	if err != nil {
		return false, fmt.Errorf("failed to start campaign: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DecrementPending decrements the outstanding-job counter for a campaign and
// returns the remaining count. The counter never goes below zero.
func (r *CampaignRepository) DecrementPending(id string) (int, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		UPDATE campaigns SET pending_jobs = pending_jobs - 1, updated_at = ?
		WHERE id = ? AND pending_jobs > 0`, time.Now(), id); err != nil {
		return 0, fmt.Errorf("failed to decrement pending jobs: %w", err)
	}

	var remaining int
	if err := tx.QueryRow("SELECT pending_jobs FROM campaigns WHERE id = ?", id).Scan(&remaining); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, err
	}

	return remaining, tx.Commit()
}

// FinishIfComplete transitions a sending campaign with no outstanding jobs
// to finished. Returns true if the transition happened.
func (r *CampaignRepository) FinishIfComplete(id string) (bool, error) {
	res, err := r.db.Exec(`
		UPDATE campaigns SET status = ?, updated_at = ?
		WHERE id = ? AND status = ? AND pending_jobs = 0`,
		models.CampaignFinished, time.Now(), id, models.CampaignSending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to finish campaign: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListScheduledDue returns scheduled campaigns whose schedule time has
// passed.
func (r *CampaignRepository) ListScheduledDue(now time.Time) ([]*models.Campaign, error) {
	rows, err := r.db.Query(campaignSelect+`
		WHERE status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?
		ORDER BY scheduled_at`, models.CampaignScheduled, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []*models.Campaign{}
	for rows.Next() {
		c, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}

// Stats returns the aggregate delivery counters for a campaign.
func (r *CampaignRepository) Stats(id string) (*models.CampaignStats, error) {
	stats := &models.CampaignStats{}

	err := r.db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM email_sends WHERE campaign_id = ? AND status = 'sent'),
			(SELECT COUNT(*) FROM email_sends WHERE campaign_id = ? AND status = 'failed'),
			(SELECT COUNT(*) FROM email_opens WHERE campaign_id = ?),
			(SELECT COUNT(*) FROM email_clicks WHERE campaign_id = ?),
			(SELECT COUNT(*) FROM bounces WHERE campaign_id = ?)`,
		id, id, id, id, id,
	).Scan(&stats.Sent, &stats.Failed, &stats.Opened, &stats.Clicked, &stats.Bounced)
	if err != nil {
		return nil, fmt.Errorf("failed to load campaign stats: %w", err)
	}
	return stats, nil
}

const campaignSelect = `
	SELECT id, user_id, list_id, smtp_profile_id, name, status,
		subject, subject_rotation, from_name, from_email, from_rotation,
		html_content, text_content, preheader, scheduled_at, sent_at,
		pending_jobs, created_at, updated_at
	FROM campaigns`

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *CampaignRepository) scanOne(row *sql.Row) (*models.Campaign, error) {
	c, err := r.scanRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (r *CampaignRepository) scanRow(row rowScanner) (*models.Campaign, error) {
	c := &models.Campaign{}
	var listID, profileID, fromName, textContent, preheader sql.NullString
	var subjectRotation, fromRotation sql.NullString
	var scheduledAt, sentAt sql.NullTime

	err := row.Scan(&c.ID, &c.UserID, &listID, &profileID, &c.Name, &c.Status,
		&c.Subject, &subjectRotation, &fromName, &c.FromEmail, &fromRotation,
		&c.HTMLContent, &textContent, &preheader, &scheduledAt, &sentAt,
		&c.PendingJobs, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}

	c.ListID = listID.String
	c.SmtpProfileID = profileID.String
	c.FromName = fromName.String
	c.TextContent = textContent.String
	c.Preheader = preheader.String
	if scheduledAt.Valid {
		c.ScheduledAt = &scheduledAt.Time
	}
	if sentAt.Valid {
		c.SentAt = &sentAt.Time
	}
	if subjectRotation.Valid && subjectRotation.String != "" {
		if err := json.Unmarshal([]byte(subjectRotation.String), &c.SubjectRotation); err != nil {
			return nil, fmt.Errorf("failed to parse subject rotation: %w", err)
		}
	}
	if fromRotation.Valid && fromRotation.String != "" {
		if err := json.Unmarshal([]byte(fromRotation.String), &c.FromRotation); err != nil {
			return nil, fmt.Errorf("failed to parse sender rotation: %w", err)
		}
	}

	return c, nil
}

func marshalJSONColumn(v any) (sql.NullString, error) {
	switch val := v.(type) {
	case []string:
		if len(val) == 0 {
			return sql.NullString{}, nil
		}
	case []models.SenderVariant:
		if len(val) == 0 {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal JSON column: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
