package queue

import (
	"time"
)

// JobStatus represents the status of a delivery job in the queue
type JobStatus string

const (
	StatusPending  JobStatus = "pending"
	StatusSending  JobStatus = "sending"
	StatusSent     JobStatus = "sent"
	StatusFailed   JobStatus = "failed"
	StatusDeferred JobStatus = "deferred"
	StatusSkipped  JobStatus = "skipped"
)

// Terminal reports whether a job in this status will never run again.
func (s JobStatus) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusSkipped
}

// DeliveryJob represents one queued delivery: a single contact of a single
// campaign. It carries references, not content; subject, sender and body are
// resolved from the campaign at send time so retries always pick up the
// current rotation position.
type DeliveryJob struct {
	ID         string `json:"id"`
	CampaignID string `json:"campaign_id"`
	ContactID  string `json:"contact_id"`
	// SequenceIndex is the contact's position in the start-time snapshot.
	// It drives rotation selection and is immutable across retries.
	SequenceIndex int       `json:"sequence_index"`
	Status        JobStatus `json:"status"`
	RetryCount    int       `json:"retry_count"`
	NextRetryAt   time.Time `json:"next_retry_at"`
	LastError     string    `json:"last_error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// QueueStats represents queue statistics
type QueueStats struct {
	Pending  int64 `json:"pending"`
	Sending  int64 `json:"sending"`
	Sent     int64 `json:"sent"`
	Failed   int64 `json:"failed"`
	Deferred int64 `json:"deferred"`
	Skipped  int64 `json:"skipped"`
	Total    int64 `json:"total"`
}

// ListFilter represents filter options for listing jobs
type ListFilter struct {
	CampaignID string
	Status     JobStatus
	Limit      int
	Offset     int
}
