package models

import "time"

// SecurityMode is the transport security of an SMTP connection.
type SecurityMode string

const (
	SecurityNone     SecurityMode = "none"
	SecurityStartTLS SecurityMode = "starttls"
	SecurityTLS      SecurityMode = "tls" // implicit TLS (SMTPS)
)

// SmtpProfile is a sending credential: the authenticated SMTP endpoint used
// to transmit campaign mail. At most one profile per owner is the default.
type SmtpProfile struct {
	ID        string       `json:"id"`
	UserID    string       `json:"user_id"`
	Name      string       `json:"name"`
	Host      string       `json:"host"`
	Port      int          `json:"port"`
	Security  SecurityMode `json:"security"`
	Username  string       `json:"username"`
	Password  string       `json:"-"`
	FromName  string       `json:"from_name"`
	FromEmail string       `json:"from_email"`
	ReplyTo   string       `json:"reply_to,omitempty"`
	// RateLimit is the outbound quota in messages per hour.
	RateLimit int       `json:"rate_limit"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
