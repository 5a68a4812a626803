package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mailkite/mailkite/internal/models"
)

type ContactRepository struct {
	db *sql.DB
}

func NewContactRepository(db *sql.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

// Create adds a contact to a list. The unsubscribe token is generated if not
// provided and is stable for the life of the contact.
func (r *ContactRepository) Create(c *models.Contact) error {
	c.ID = uuid.New().String()
	if c.Status == "" {
		c.Status = models.ContactSubscribed
	}
	if c.UnsubscribeToken == "" {
		c.UnsubscribeToken = uuid.New().String()
	}
	c.CreatedAt = time.Now()

	fields, err := marshalCustomFields(c.CustomFields)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(`
		INSERT INTO contacts (id, list_id, email, first_name, last_name, status,
			unsubscribe_token, custom_fields, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ListID, c.Email, c.FirstName, c.LastName, c.Status,
		c.UnsubscribeToken, fields, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create contact: %w", err)
	}
	return nil
}

// GetByID returns a contact by ID, or nil if it does not exist.
func (r *ContactRepository) GetByID(id string) (*models.Contact, error) {
	return r.scanOne(r.db.QueryRow(contactSelect+" WHERE id = ?", id))
}

// GetByToken returns the contact owning an unsubscribe token.
func (r *ContactRepository) GetByToken(token string) (*models.Contact, error) {
	return r.scanOne(r.db.QueryRow(contactSelect+" WHERE unsubscribe_token = ?", token))
}

// ListSubscribed returns the subscribed contacts of a list in stable
// (created_at, id) order. This is the snapshot ordering used for job
// sequence indices.
func (r *ContactRepository) ListSubscribed(listID string) ([]*models.Contact, error) {
	rows, err := r.db.Query(contactSelect+`
		WHERE list_id = ? AND status = ?
		ORDER BY created_at, id`, listID, models.ContactSubscribed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	contacts := []*models.Contact{}
	for rows.Next() {
		c, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// UpdateStatus sets the contact subscription status. Callers outside the
// bounce path must not set the bounced status; use MarkBounced for that.
func (r *ContactRepository) UpdateStatus(id string, status models.ContactStatus) error {
	if status == models.ContactBounced {
		return fmt.Errorf("contact status bounced is set only by bounce classification")
	}
	_, err := r.db.Exec("UPDATE contacts SET status = ? WHERE id = ?", status, id)
	return err
}

// MarkBounced transitions a contact to bounced. Only the delivery worker's
// bounce classification calls this.
func (r *ContactRepository) MarkBounced(id string) error {
	_, err := r.db.Exec("UPDATE contacts SET status = ? WHERE id = ?", models.ContactBounced, id)
	return err
}

// TouchLastOpen updates the last-open timestamp.
func (r *ContactRepository) TouchLastOpen(id string, at time.Time) error {
	_, err := r.db.Exec("UPDATE contacts SET last_open_at = ? WHERE id = ?", at, id)
	return err
}

// TouchLastClick updates the last-click timestamp.
func (r *ContactRepository) TouchLastClick(id string, at time.Time) error {
	_, err := r.db.Exec("UPDATE contacts SET last_click_at = ? WHERE id = ?", at, id)
	return err
}

const contactSelect = `
	SELECT id, list_id, email, first_name, last_name, status,
		unsubscribe_token, custom_fields, last_open_at, last_click_at, created_at
	FROM contacts`

func (r *ContactRepository) scanOne(row *sql.Row) (*models.Contact, error) {
	c, err := r.scanRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (r *ContactRepository) scanRow(row rowScanner) (*models.Contact, error) {
	c := &models.Contact{}
	var firstName, lastName, fields sql.NullString
	var lastOpen, lastClick sql.NullTime

	err := row.Scan(&c.ID, &c.ListID, &c.Email, &firstName, &lastName, &c.Status,
		&c.UnsubscribeToken, &fields, &lastOpen, &lastClick, &c.CreatedAt)
	if err != nil {
		return nil, err
	}

	c.FirstName = firstName.String
	c.LastName = lastName.String
	if lastOpen.Valid {
		c.LastOpenAt = &lastOpen.Time
	}
	if lastClick.Valid {
		c.LastClickAt = &lastClick.Time
	}

	c.CustomFields, err = models.ParseCustomFields(fields.String)
	if err != nil {
		return nil, err
	}

	return c, nil
}

func marshalCustomFields(f models.CustomFields) (sql.NullString, error) {
	if len(f) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal custom fields: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
