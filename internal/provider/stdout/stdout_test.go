package stdout

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/smtp-mailer/internal/email"
)

func TestSend_BasicEmail(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	msg := &email.Message{
		From:    "sender@example.com",
		To:      email.AddressList{"alice@example.com", "bob@example.com"},
		Subject: "Monthly Report",
		Text:    "Please find the report attached.",
	}

	sent, err := p.Send(context.Background(), msg)
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "From: sender@example.com")
	assert.Contains(t, output, "To: alice@example.com, bob@example.com")
	assert.Contains(t, output, "Subject: Monthly Report")
	assert.Contains(t, output, "Please find the report attached.")
	assert.NotContains(t, output, "Cc:")
	assert.NotContains(t, output, "Attachments:")

	assert.True(t, strings.HasPrefix(sent.MessageID, "<"))
	assert.True(t, strings.HasSuffix(sent.MessageID, "@stdout>"))
	assert.Contains(t, output, "Message-ID: "+sent.MessageID)
	assert.Equal(t, msg.Subject, sent.Subject)
	assert.Empty(t, msg.MessageID, "input must not be modified")
}

func TestSend_UniqueMessageIDs(t *testing.T) {
	t.Parallel()

	p := NewWithWriter(&bytes.Buffer{})
	msg := &email.Message{To: email.AddressList{"a@example.com"}}

	first, err := p.Send(context.Background(), msg)
	require.NoError(t, err)
	second, err := p.Send(context.Background(), msg)
	require.NoError(t, err)

	assert.NotEqual(t, first.MessageID, second.MessageID)
}

func TestSend_WithCcAndBcc(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	_, err := p.Send(context.Background(), &email.Message{
		From: "sender@example.com",
		To:   email.AddressList{"alice@example.com"},
		Cc:   email.AddressList{"carol@example.com", "dave@example.com"},
		Bcc:  email.AddressList{"audit@example.com"},
	})
	require.NoError(t, err)

	assert.Contains(t, buf.String(), "Cc: carol@example.com, dave@example.com")
	assert.Contains(t, buf.String(), "Bcc: audit@example.com")
}

func TestSend_WithAttachments(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	_, err := p.Send(context.Background(), &email.Message{
		From: "sender@example.com",
		To:   email.AddressList{"alice@example.com"},
		Text: "Please find the report attached.",
		Attachments: email.Attachments{
			{Stream: bytes.NewReader(make([]byte, 1258291)), Name: "report.pdf"},
			{Data: strings.Repeat("x", 46080), Name: "summary.xlsx"},
			{
				Data:        "<p>hi</p>",
				Alternative: true,
				Related:     []email.Attachment{{Data: "png", Name: "logo.png"}},
			},
		},
	})
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "Attachments:")
	assert.Contains(t, output, "report.pdf (1.2 MB)")
	assert.Contains(t, output, "summary.xlsx (45.0 KB)")
	assert.Contains(t, output, "text/html (9 B) [alternative, 1 related]")
}

func TestSend_InvalidAttachment(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	_, err := p.Send(context.Background(), &email.Message{
		Attachments: email.Attachments{{Name: "nothing"}},
	})
	assert.ErrorIs(t, err, email.ErrNoContentSource)
	assert.Empty(t, buf.String())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestSend_WriteError(t *testing.T) {
	t.Parallel()

	_, err := NewWithWriter(failingWriter{}).Send(context.Background(), &email.Message{Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "stdout", New().Name())
}

func TestFormatSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		bytes int
		want  string
	}{
		{name: "zero bytes", bytes: 0, want: "0 B"},
		{name: "small bytes", bytes: 512, want: "512 B"},
		{name: "kilobytes", bytes: 46080, want: "45.0 KB"},
		{name: "megabytes", bytes: 1258291, want: "1.2 MB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, formatSize(tt.bytes))
		})
	}
}
