package transport

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/emersion/go-smtp"
)

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantTemporary bool
	}{
		{
			name:          "5xx permanent",
			err:           fmt.Errorf("550 5.1.1 user unknown"),
			wantTemporary: false,
		},
		{
			name:          "552 mailbox full",
			err:           fmt.Errorf("552 mailbox full"),
			wantTemporary: false,
		},
		{
			name:          "4xx temporary",
			err:           fmt.Errorf("421 service not available"),
			wantTemporary: true,
		},
		{
			name:          "450 greylisted",
			err:           fmt.Errorf("450 try again later"),
			wantTemporary: true,
		},
		{
			name:          "no code defaults temporary",
			err:           errors.New("connection reset by peer"),
			wantTemporary: true,
		},
		{
			name:          "structured permanent",
			err:           &smtp.SMTPError{Code: 554, Message: "relay access denied"},
			wantTemporary: false,
		},
		{
			name:          "structured temporary",
			err:           &smtp.SMTPError{Code: 451, Message: "local error"},
			wantTemporary: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			de := CategorizeError(tt.err, "RCPT TO")
			if de.Temporary != tt.wantTemporary {
				t.Errorf("Temporary = %v, want %v", de.Temporary, tt.wantTemporary)
			}
			if !strings.Contains(de.Message, "RCPT TO") {
				t.Errorf("Message = %q, missing stage", de.Message)
			}
		})
	}
}

func TestCategorizeErrorStructuredCodeWins(t *testing.T) {
	// The text mentions a 4xx code but the server reply code is 550
	err := &smtp.SMTPError{Code: 550, Message: "rejected after 421 deferral"}
	de := CategorizeError(err, "DATA")
	if de.Temporary {
		t.Error("structured 550 classified as temporary")
	}
	if de.Code != 550 {
		t.Errorf("Code = %d, want 550", de.Code)
	}
}

func TestIsTemporaryError(t *testing.T) {
	if IsTemporaryError(&DeliveryError{Temporary: false}) {
		t.Error("permanent DeliveryError reported temporary")
	}
	if !IsTemporaryError(&DeliveryError{Temporary: true}) {
		t.Error("temporary DeliveryError reported permanent")
	}
	if !IsTemporaryError(errors.New("unknown")) {
		t.Error("unknown error should default to temporary")
	}
}

func TestBuildMessageMultipart(t *testing.T) {
	raw, messageID := BuildMessage(&Message{
		FromName:  "Acme News",
		FromEmail: "news@acme.test",
		ReplyTo:   "support@acme.test",
		To:        "jane@example.com",
		Subject:   "Hello",
		HTML:      "<p>Hi Jane</p>",
		Text:      "Hi Jane",
	})
	data := string(raw)

	for _, want := range []string{
		`From: "Acme News" <news@acme.test>`,
		"To: jane@example.com",
		"Reply-To: support@acme.test",
		"Subject: Hello",
		"MIME-Version: 1.0",
		"Content-Type: multipart/alternative;",
		"Content-Type: text/plain; charset=utf-8",
		"Content-Type: text/html; charset=utf-8",
		"<p>Hi Jane</p>",
	} {
		if !strings.Contains(data, want) {
			t.Errorf("message missing %q", want)
		}
	}

	if !strings.Contains(data, "Message-ID: <"+messageID+">") {
		t.Error("message missing the returned Message-ID")
	}
	if !strings.HasSuffix(messageID, "@acme.test") {
		t.Errorf("Message-ID = %q, want sender domain suffix", messageID)
	}
}

func TestBuildMessageHTMLOnly(t *testing.T) {
	raw, _ := BuildMessage(&Message{
		FromEmail: "news@acme.test",
		To:        "jane@example.com",
		Subject:   "Hello",
		HTML:      "<p>Hi</p>",
	})
	data := string(raw)

	if strings.Contains(data, "multipart/alternative") {
		t.Error("single-part message built as multipart")
	}
	if !strings.Contains(data, "Content-Type: text/html; charset=utf-8") {
		t.Error("missing html content type")
	}
	if strings.Contains(data, "Reply-To:") {
		t.Error("Reply-To header present without a reply address")
	}
}

func TestBuildMessageNoFromName(t *testing.T) {
	raw, _ := BuildMessage(&Message{
		FromEmail: "news@acme.test",
		To:        "jane@example.com",
		Subject:   "Hello",
		Text:      "Hi",
	})
	data := string(raw)

	if !strings.Contains(data, "From: news@acme.test\r\n") {
		t.Error("bare address From header not emitted")
	}
}

func TestExtractDomain(t *testing.T) {
	tests := []struct {
		email string
		want  string
	}{
		{"jane@Example.COM", "example.com"},
		{"Jane Doe <jane@example.com>", "example.com"},
		{"invalid", ""},
		{"@example.com", ""},
		{"jane@", ""},
	}

	for _, tt := range tests {
		if got := ExtractDomain(tt.email); got != tt.want {
			t.Errorf("ExtractDomain(%q) = %q, want %q", tt.email, got, tt.want)
		}
	}

	if got := ExtractDomainOrDefault("invalid", "fallback.test"); got != "fallback.test" {
		t.Errorf("ExtractDomainOrDefault() = %q, want fallback.test", got)
	}
}
