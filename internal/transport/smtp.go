package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/mailkite/mailkite/internal/dkim"
	"github.com/mailkite/mailkite/internal/models"
)

// SMTPMailer sends messages through one authenticated smarthost, as
// configured by a sending credential. One mailer per credential; workers
// resolve the credential per job and share mailers through a cache.
type SMTPMailer struct {
	profile *models.SmtpProfile
	timeout time.Duration
	logger  *slog.Logger
	signer  *dkim.Signer
}

// NewSMTPMailer creates a mailer for one sending credential.
func NewSMTPMailer(profile *models.SmtpProfile, timeout time.Duration, logger *slog.Logger) *SMTPMailer {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &SMTPMailer{
		profile: profile,
		timeout: timeout,
		logger:  logger.With("component", "smtp", "host", profile.Host),
	}
}

// SetDKIMSigner sets the signer for outgoing messages. Unsigned delivery
// continues when signing fails.
func (m *SMTPMailer) SetDKIMSigner(signer *dkim.Signer) {
	m.signer = signer
}

// Send delivers one message through the smarthost and returns the assigned
// Message-ID.
func (m *SMTPMailer) Send(ctx context.Context, msg *Message) (string, error) {
	client, err := m.dial()
	if err != nil {
		return "", &DeliveryError{
			Temporary: true,
			Message:   fmt.Sprintf("connection failed to %s: %v", m.addr(), err),
		}
	}
	defer client.Close()

	if deadline, ok := ctx.Deadline(); ok {
		client.CommandTimeout = time.Until(deadline)
		client.SubmissionTimeout = time.Until(deadline)
	}

	if m.profile.Username != "" {
		auth := sasl.NewPlainClient("", m.profile.Username, m.profile.Password)
		if err := client.Auth(auth); err != nil {
			return "", CategorizeError(err, "AUTH")
		}
	}

	if err := client.Mail(m.profile.FromEmail, nil); err != nil {
		return "", CategorizeError(err, "MAIL FROM")
	}
	if err := client.Rcpt(msg.To, nil); err != nil {
		return "", CategorizeError(err, fmt.Sprintf("RCPT TO %s", msg.To))
	}

	data, messageID := BuildMessage(msg)
	if m.signer != nil {
		signed, err := m.signer.Sign(data)
		if err != nil {
			m.logger.Warn("DKIM signing failed, sending unsigned",
				"domain", m.signer.Domain(),
				"error", err,
			)
		} else {
			data = signed
		}
	}

	wc, err := client.Data()
	if err != nil {
		return "", CategorizeError(err, "DATA")
	}
	if _, err := wc.Write(data); err != nil {
		wc.Close()
		return "", &DeliveryError{
			Temporary: true,
			Message:   fmt.Sprintf("failed to write message data: %v", err),
		}
	}
	if err := wc.Close(); err != nil {
		return "", CategorizeError(err, "DATA close")
	}

	client.Quit()

	m.logger.Debug("message delivered", "to", msg.To, "message_id", messageID)
	return messageID, nil
}

func (m *SMTPMailer) addr() string {
	return net.JoinHostPort(m.profile.Host, strconv.Itoa(m.profile.Port))
}

func (m *SMTPMailer) dial() (*smtp.Client, error) {
	tlsConfig := &tls.Config{
		ServerName: m.profile.Host,
		MinVersion: tls.VersionTLS12,
	}

	switch m.profile.Security {
	case models.SecurityTLS:
		return smtp.DialTLS(m.addr(), tlsConfig)
	case models.SecurityNone:
		return smtp.Dial(m.addr())
	default:
		return smtp.DialStartTLS(m.addr(), tlsConfig)
	}
}
