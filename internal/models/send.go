package models

import "time"

// SendStatus is the outcome recorded for one delivery attempt.
type SendStatus string

const (
	SendSent   SendStatus = "sent"
	SendFailed SendStatus = "failed"
)

// EmailSend is the audit record of a delivery attempt. It carries the
// resolved subject and sender actually used, and is never mutated after
// creation.
type EmailSend struct {
	ID         string     `json:"id"`
	CampaignID string     `json:"campaign_id"`
	ContactID  string     `json:"contact_id"`
	Subject    string     `json:"subject"`
	FromName   string     `json:"from_name"`
	FromEmail  string     `json:"from_email"`
	Status     SendStatus `json:"status"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// BounceType classifies a delivery failure.
type BounceType string

const (
	BounceHard BounceType = "hard"
	BounceSoft BounceType = "soft"
)

// Bounce records a classified delivery failure, created by the delivery
// worker when it detects a bounce signature in a transport error.
type Bounce struct {
	ID         string     `json:"id"`
	CampaignID string     `json:"campaign_id"`
	ContactID  string     `json:"contact_id"`
	Type       BounceType `json:"type"`
	Reason     string     `json:"reason"`
	CreatedAt  time.Time  `json:"created_at"`
}

// OpenEvent records an open-pixel hit.
type OpenEvent struct {
	ID         string    `json:"id"`
	CampaignID string    `json:"campaign_id"`
	ContactID  string    `json:"contact_id"`
	IPAddress  string    `json:"ip_address,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	OpenedAt   time.Time `json:"opened_at"`
}

// ClickEvent records a tracked link click.
type ClickEvent struct {
	ID         string    `json:"id"`
	CampaignID string    `json:"campaign_id"`
	ContactID  string    `json:"contact_id"`
	URL        string    `json:"url"`
	IPAddress  string    `json:"ip_address,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	ClickedAt  time.Time `json:"clicked_at"`
}
