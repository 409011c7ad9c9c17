// Package stdout implements a Provider that prints emails to standard output.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/shineum/smtp-mailer/internal/compose"
	"github.com/shineum/smtp-mailer/internal/email"
)

// Provider prints email messages in a human-readable format. It is meant
// for development and never contacts a mail server.
type Provider struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
	mu     sync.Mutex
}

// New creates a new stdout Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Send prints the email message and returns it with a generated Message-ID.
// Attachment content is read to report its size, so a stream attachment
// is consumed.
func (p *Provider) Send(_ context.Context, msg *email.Message) (*email.Message, error) {
	sent := msg.Clone()
	sent.MessageID = fmt.Sprintf("<%s@stdout>", uuid.NewString())

	var b strings.Builder

	b.WriteString("========================================\n")
	fmt.Fprintf(&b, "Message-ID: %s\n", sent.MessageID)
	fmt.Fprintf(&b, "From: %s\n", msg.From)
	fmt.Fprintf(&b, "To: %s\n", msg.To)

	if len(msg.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", msg.Cc)
	}
	if len(msg.Bcc) > 0 {
		fmt.Fprintf(&b, "Bcc: %s\n", msg.Bcc)
	}

	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	b.WriteString("Body:\n")
	b.WriteString(msg.Text + "\n")

	if len(msg.Attachments) > 0 {
		attachments := make([]string, 0, len(msg.Attachments))
		for _, att := range msg.Attachments {
			desc, err := describe(att)
			if err != nil {
				return nil, err
			}
			attachments = append(attachments, desc)
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(attachments, ", "))
	}

	b.WriteString("========================================\n")

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := fmt.Fprint(p.writer, b.String()); err != nil {
		return nil, fmt.Errorf("failed to write message: %w", err)
	}

	return &sent, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

func describe(att email.Attachment) (string, error) {
	content, err := compose.Content(att)
	if err != nil {
		return "", err
	}

	var flags []string
	if att.Alternative {
		flags = append(flags, "alternative")
	}
	if att.Inline {
		flags = append(flags, "inline")
	}
	if len(att.Related) > 0 {
		flags = append(flags, fmt.Sprintf("%d related", len(att.Related)))
	}

	name := compose.Name(att)
	if att.Alternative {
		name = att.ContentType()
	}

	desc := fmt.Sprintf("%s (%s)", name, formatSize(len(content)))
	if len(flags) > 0 {
		desc += " [" + strings.Join(flags, ", ") + "]"
	}
	return desc, nil
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
