package models

import "time"

// ContactStatus is the subscription state of a contact.
type ContactStatus string

const (
	ContactSubscribed   ContactStatus = "subscribed"
	ContactUnsubscribed ContactStatus = "unsubscribed"
	ContactBounced      ContactStatus = "bounced"
	ContactPending      ContactStatus = "pending" // double opt-in not yet confirmed
)

// List is an opt-in contact list.
type List struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Contact is a member of exactly one list. Its status is mutated by the
// opt-in flow, the unsubscribe flow and by hard-bounce classification;
// never directly by the dispatch loop.
type Contact struct {
	ID               string        `json:"id"`
	ListID           string        `json:"list_id"`
	Email            string        `json:"email"`
	FirstName        string        `json:"first_name,omitempty"`
	LastName         string        `json:"last_name,omitempty"`
	Status           ContactStatus `json:"status"`
	UnsubscribeToken string        `json:"unsubscribe_token"`
	CustomFields     CustomFields  `json:"custom_fields,omitempty"`
	LastOpenAt       *time.Time    `json:"last_open_at,omitempty"`
	LastClickAt      *time.Time    `json:"last_click_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}
