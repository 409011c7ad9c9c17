// Package provider defines the interface for email delivery backends.
package provider

import (
	"context"

	"github.com/shineum/smtp-mailer/internal/email"
)

// Provider is the interface that email delivery backends must implement.
// Each provider hands a fully merged message to its target service
// (an SMTP server, Amazon SES, Microsoft Graph or stdout).
type Provider interface {
	// Send delivers msg and blocks until the backend accepts or rejects it.
	// On success it returns the message as sent, including its Message-ID.
	Send(ctx context.Context, msg *email.Message) (*email.Message, error)

	// Name returns the human-readable name of this provider.
	Name() string
}
