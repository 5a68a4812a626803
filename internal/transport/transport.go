// Package transport delivers rendered messages through an authenticated
// SMTP smarthost and classifies delivery failures.
package transport

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/emersion/go-smtp"
)

// Message is one fully resolved outbound email.
type Message struct {
	FromName  string
	FromEmail string
	ReplyTo   string
	To        string
	Subject   string
	HTML      string
	Text      string
}

// Mailer sends a single message and returns the assigned Message-ID.
// Implementations must be safe for concurrent use by multiple delivery
// workers.
type Mailer interface {
	Send(ctx context.Context, msg *Message) (string, error)
}

// DeliveryError represents a delivery error with type information
type DeliveryError struct {
	Temporary bool
	Code      int
	Message   string
}

func (e *DeliveryError) Error() string {
	return e.Message
}

// smtpCodePattern matches SMTP response codes at word boundaries
var smtpCodePattern = regexp.MustCompile(`\b(4\d{2}|5\d{2})\b`)

// CategorizeError determines if an SMTP error is temporary or permanent.
// Structured server errors carry their code directly; anything else is
// classified from the reply text, and unknown failures default to temporary
// so they are retried rather than dropped.
func CategorizeError(err error, stage string) *DeliveryError {
	msg := fmt.Sprintf("%s failed: %v", stage, err)

	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return &DeliveryError{
			Temporary: smtpErr.Code >= 400 && smtpErr.Code < 500,
			Code:      smtpErr.Code,
			Message:   msg,
		}
	}

	matches := smtpCodePattern.FindStringSubmatch(err.Error())
	if len(matches) > 1 {
		code := matches[1]
		if strings.HasPrefix(code, "5") {
			return &DeliveryError{Temporary: false, Code: atoiCode(code), Message: msg}
		}
		if strings.HasPrefix(code, "4") {
			return &DeliveryError{Temporary: true, Code: atoiCode(code), Message: msg}
		}
	}

	return &DeliveryError{Temporary: true, Message: msg}
}

// IsTemporaryError checks if the error is temporary
func IsTemporaryError(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Temporary
	}
	return true // Assume temporary if unknown
}

func atoiCode(s string) int {
	code := 0
	for _, r := range s {
		code = code*10 + int(r-'0')
	}
	return code
}
