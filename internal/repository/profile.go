package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mailkite/mailkite/internal/models"
)

type ProfileRepository struct {
	db *sql.DB
}

func NewProfileRepository(db *sql.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// Create creates an SMTP profile. When the profile is marked default, the
// default flag is cleared on the owner's other profiles in the same
// transaction so at most one default exists per owner.
func (r *ProfileRepository) Create(p *models.SmtpProfile) error {
	p.ID = uuid.New().String()
	if p.Security == "" {
		p.Security = models.SecurityStartTLS
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if p.IsDefault {
		if _, err := tx.Exec("UPDATE smtp_profiles SET is_default = 0 WHERE user_id = ?", p.UserID); err != nil {
			return fmt.Errorf("failed to clear default flags: %w", err)
		}
	}

	_, err = tx.Exec(`
		INSERT INTO smtp_profiles (id, user_id, name, host, port, security, username, password,
			from_name, from_email, reply_to, rate_limit, is_default, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Name, p.Host, p.Port, p.Security, p.Username, p.Password,
		p.FromName, p.FromEmail, p.ReplyTo, p.RateLimit, p.IsDefault, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create smtp profile: %w", err)
	}

	return tx.Commit()
}

// GetByID returns a profile by ID, or nil if it does not exist.
func (r *ProfileRepository) GetByID(id string) (*models.SmtpProfile, error) {
	return r.scanOne(r.db.QueryRow(profileSelect+" WHERE id = ?", id))
}

// GetDefault returns the owner's default profile, or nil when none is set.
func (r *ProfileRepository) GetDefault(userID string) (*models.SmtpProfile, error) {
	return r.scanOne(r.db.QueryRow(profileSelect+" WHERE user_id = ? AND is_default = 1", userID))
}

// SetDefault marks a profile as the owner's default, clearing the flag on
// all sibling profiles in the same transaction.
func (r *ProfileRepository) SetDefault(id, userID string) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("UPDATE smtp_profiles SET is_default = 0 WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("failed to clear default flags: %w", err)
	}

	res, err := tx.Exec("UPDATE smtp_profiles SET is_default = 1, updated_at = ? WHERE id = ? AND user_id = ?",
		time.Now(), id, userID)
	if err != nil {
		return fmt.Errorf("failed to set default profile: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("smtp profile not found: %s", id)
	}

	return tx.Commit()
}

// ListByUser returns all profiles of an owner.
func (r *ProfileRepository) ListByUser(userID string) ([]*models.SmtpProfile, error) {
	rows, err := r.db.Query(profileSelect+" WHERE user_id = ? ORDER BY created_at", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	profiles := []*models.SmtpProfile{}
	for rows.Next() {
		p, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

const profileSelect = `
	SELECT id, user_id, name, host, port, security, username, password,
		from_name, from_email, reply_to, rate_limit, is_default, created_at, updated_at
	FROM smtp_profiles`

func (r *ProfileRepository) scanOne(row *sql.Row) (*models.SmtpProfile, error) {
	p, err := r.scanRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (r *ProfileRepository) scanRow(row rowScanner) (*models.SmtpProfile, error) {
	p := &models.SmtpProfile{}
	var username, password, fromName, replyTo sql.NullString

	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Host, &p.Port, &p.Security, &username, &password,
		&fromName, &p.FromEmail, &replyTo, &p.RateLimit, &p.IsDefault, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	p.Username = username.String
	p.Password = password.String
	p.FromName = fromName.String
	p.ReplyTo = replyTo.String
	return p, nil
}
