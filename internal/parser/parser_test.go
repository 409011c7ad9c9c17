package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/smtp-mailer/internal/email"
)

func TestParsePlainTextEmail(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: Test Subject",
		"Message-Id: <test123@example.com>",
		"Content-Type: text/plain",
		"",
		"Hello, this is a plain text email.",
	}, "\r\n"))

	msg, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "sender@example.com", msg.From)
	assert.Equal(t, email.AddressList{"recipient@example.com"}, msg.To)
	assert.Equal(t, "Test Subject", msg.Subject)
	assert.Equal(t, "<test123@example.com>", msg.MessageID)
	assert.Equal(t, "Hello, this is a plain text email.", msg.Text)
	assert.Empty(t, msg.Attachments)
}

func TestParseMultipartTextAndHTML(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: alice@example.com, bob@example.com",
		"Cc: carol@example.com",
		"Subject: Multipart Test",
		"Content-Type: multipart/alternative; boundary=boundary123",
		"",
		"--boundary123",
		"Content-Type: text/plain",
		"",
		"Plain text body",
		"--boundary123",
		"Content-Type: text/html",
		"",
		"<html><body><p>HTML body</p></body></html>",
		"--boundary123--",
	}, "\r\n"))

	msg, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, email.AddressList{"alice@example.com", "bob@example.com"}, msg.To)
	assert.Equal(t, email.AddressList{"carol@example.com"}, msg.Cc)
	assert.Equal(t, "Plain text body", msg.Text)

	require.Len(t, msg.Attachments, 1)
	html := msg.Attachments[0]
	assert.True(t, html.Alternative)
	assert.Equal(t, "text/html", html.Type)
	assert.Equal(t, "<html><body><p>HTML body</p></body></html>", html.Data)
}

func TestParseEmailWithAttachments(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: With Attachment",
		"Content-Type: multipart/mixed; boundary=mixedboundary",
		"",
		"--mixedboundary",
		"Content-Type: text/plain",
		"",
		"Email body text",
		"--mixedboundary",
		"Content-Type: application/pdf; name=\"report.pdf\"",
		"Content-Disposition: attachment; filename=\"report.pdf\"",
		"Content-Transfer-Encoding: base64",
		"",
		"SGVsbG8gV29ybGQ=",
		"--mixedboundary",
		"Content-Type: image/png; name=\"logo.png\"",
		"Content-Disposition: inline; filename=\"logo.png\"",
		"Content-Id: <logo.png>",
		"",
		"PNG",
		"--mixedboundary--",
	}, "\r\n"))

	msg, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "Email body text", msg.Text)
	require.Len(t, msg.Attachments, 2)

	att := msg.Attachments[0]
	assert.Equal(t, "report.pdf", att.Name)
	assert.Equal(t, "application/pdf", att.Type)
	assert.Equal(t, "Hello World", att.Data)
	assert.False(t, att.Inline)

	inline := msg.Attachments[1]
	assert.Equal(t, "logo.png", inline.Name)
	assert.True(t, inline.Inline)
}

func TestParseMalformedMIME(t *testing.T) {
	t.Parallel()

	t.Run("completely invalid message", func(t *testing.T) {
		t.Parallel()

		_, err := Parse([]byte("not a valid email at all\x00\x01\x02"))
		assert.Error(t, err)
	})

	t.Run("missing content type defaults to text/plain", func(t *testing.T) {
		t.Parallel()

		raw := []byte(strings.Join([]string{
			"From: sender@example.com",
			"To: recipient@example.com",
			"Subject: No Content Type",
			"",
			"Body without content type header",
		}, "\r\n"))

		msg, err := Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, "Body without content type header", msg.Text)
	})

	t.Run("multipart missing boundary", func(t *testing.T) {
		t.Parallel()

		raw := []byte(strings.Join([]string{
			"From: sender@example.com",
			"To: recipient@example.com",
			"Content-Type: multipart/mixed",
			"",
			"some body",
		}, "\r\n"))

		_, err := Parse(raw)
		assert.Error(t, err)
	})
}

func TestParseMultipleRecipients(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: alice@example.com, \"Bob Smith\" <bob@example.com>, carol@example.com",
		"Bcc: secret@example.com",
		"Subject: Multiple Recipients",
		"Content-Type: text/plain",
		"",
		"Hello everyone",
	}, "\r\n"))

	msg, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, email.AddressList{
		"alice@example.com",
		`"Bob Smith" <bob@example.com>`,
		"carol@example.com",
	}, msg.To)
	assert.Equal(t, email.AddressList{"secret@example.com"}, msg.Bcc)
}

func TestParseEmptyAddressFields(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"Subject: No To",
		"Content-Type: text/plain",
		"",
		"Body",
	}, "\r\n"))

	msg, err := Parse(raw)
	require.NoError(t, err)

	assert.Nil(t, msg.To)
	assert.Nil(t, msg.Cc)
	assert.Nil(t, msg.Bcc)
}

func TestParseEncodedHeadersAndBody(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: =?UTF-8?q?J=C3=BCrgen?= <j@example.com>",
		"To: recipient@example.com",
		"Subject: =?UTF-8?q?Gr=C3=BC=C3=9Fe?=",
		"Content-Type: text/plain; charset=UTF-8",
		"Content-Transfer-Encoding: quoted-printable",
		"",
		"Gr=C3=BC=C3=9Fe aus Berlin",
	}, "\r\n"))

	msg, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "Jürgen <j@example.com>", msg.From)
	assert.Equal(t, "Grüße", msg.Subject)
	assert.Equal(t, "Grüße aus Berlin", msg.Text)
}

func TestParseBase64AttachmentWithCRLF(t *testing.T) {
	t.Parallel()

	raw := []byte("From: sender@example.com\r\n" +
		"To: recipient@example.com\r\n" +
		"Subject: CRLF Base64\r\n" +
		"Content-Type: multipart/mixed; boundary=bound\r\n" +
		"\r\n" +
		"--bound\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"body\r\n" +
		"--bound\r\n" +
		"Content-Type: application/pdf; name=\"file.pdf\"\r\n" +
		"Content-Disposition: attachment; filename=\"file.pdf\"\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"SGVs\r\n" +
		"bG8g\r\n" +
		"V29y\r\n" +
		"bGQ=\r\n" +
		"--bound--\r\n")

	msg, err := Parse(raw)
	require.NoError(t, err)

	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "file.pdf", msg.Attachments[0].Name)
	assert.Equal(t, "Hello World", msg.Attachments[0].Data)
}

func TestParseAttachmentWithoutFilename(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: No Filename",
		"Content-Type: multipart/mixed; boundary=bound",
		"",
		"--bound",
		"Content-Type: text/plain",
		"",
		"body",
		"--bound",
		"Content-Type: application/pdf",
		"Content-Disposition: attachment",
		"Content-Transfer-Encoding: base64",
		"",
		"SGVsbG8gV29ybGQ=",
		"--bound--",
	}, "\r\n"))

	msg, err := Parse(raw)
	require.NoError(t, err)

	require.Len(t, msg.Attachments, 1)
	assert.Empty(t, msg.Attachments[0].Name)
	assert.Equal(t, "application/pdf", msg.Attachments[0].Type)
}

func TestParseNestedMultipart(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: Nested",
		"Content-Type: multipart/mixed; boundary=outer",
		"",
		"--outer",
		"Content-Type: multipart/alternative; boundary=inner",
		"",
		"--inner",
		"Content-Type: text/plain",
		"",
		"Plain nested",
		"--inner",
		"Content-Type: text/html",
		"",
		"<p>HTML nested</p>",
		"--inner--",
		"--outer",
		"Content-Type: text/csv; name=\"data.csv\"",
		"Content-Disposition: attachment; filename=\"data.csv\"",
		"",
		"a,b",
		"--outer--",
	}, "\r\n"))

	msg, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "Plain nested", msg.Text)
	require.Len(t, msg.Attachments, 2)
	assert.True(t, msg.Attachments[0].Alternative)
	assert.Equal(t, "<p>HTML nested</p>", msg.Attachments[0].Data)
	assert.Equal(t, "data.csv", msg.Attachments[1].Name)
	assert.Equal(t, "a,b", msg.Attachments[1].Data)
}
