package models

import "time"

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignPaused    CampaignStatus = "paused"
	CampaignFinished  CampaignStatus = "finished"
	CampaignCancelled CampaignStatus = "cancelled"
)

// CanStart reports whether a campaign in this status may be started.
func (s CampaignStatus) CanStart() bool {
	return s == CampaignDraft || s == CampaignScheduled
}

// CanPause reports whether a campaign in this status may be paused.
func (s CampaignStatus) CanPause() bool {
	return s == CampaignSending
}

// CanCancel reports whether a campaign in this status may be cancelled.
// Finished and cancelled campaigns cannot be cancelled again.
func (s CampaignStatus) CanCancel() bool {
	return s != CampaignFinished && s != CampaignCancelled
}

// CanEdit reports whether campaign content may still be modified.
// Content freezes once sending begins.
func (s CampaignStatus) CanEdit() bool {
	return s == CampaignDraft || s == CampaignScheduled
}

// CanDelete reports whether the campaign row may be destroyed.
func (s CampaignStatus) CanDelete() bool {
	return s != CampaignSending && s != CampaignFinished
}

// Dispatchable reports whether a delivery job for this campaign may still
// be sent. Jobs of paused or cancelled campaigns are dropped by the worker.
func (s CampaignStatus) Dispatchable() bool {
	return s == CampaignSending || s == CampaignScheduled
}

// SenderVariant is one entry of a sender rotation list.
type SenderVariant struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Campaign represents a single bulk-send operation with its own content,
// schedule and status.
type Campaign struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	ListID          string          `json:"list_id,omitempty"`
	SmtpProfileID   string          `json:"smtp_profile_id,omitempty"`
	Name            string          `json:"name"`
	Status          CampaignStatus  `json:"status"`
	Subject         string          `json:"subject"`
	SubjectRotation []string        `json:"subject_rotation,omitempty"`
	FromName        string          `json:"from_name"`
	FromEmail       string          `json:"from_email"`
	FromRotation    []SenderVariant `json:"from_rotation,omitempty"`
	HTMLContent     string          `json:"html_content"`
	TextContent     string          `json:"text_content,omitempty"`
	Preheader       string          `json:"preheader,omitempty"`
	ScheduledAt     *time.Time      `json:"scheduled_at,omitempty"`
	SentAt          *time.Time      `json:"sent_at,omitempty"`
	// PendingJobs is the number of delivery jobs that have not yet reached a
	// terminal outcome. Set at start time, decremented by the worker; the
	// campaign finishes when it reaches zero.
	PendingJobs int       `json:"pending_jobs"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CampaignStats holds the aggregate delivery counters surfaced per campaign.
type CampaignStats struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Opened  int `json:"opened"`
	Clicked int `json:"clicked"`
	Bounced int `json:"bounced"`
}
