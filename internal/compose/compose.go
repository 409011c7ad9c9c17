// Package compose turns an email.Message into a MIME message using go-mail.
package compose

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"github.com/wneessen/go-mail"

	"github.com/shineum/smtp-mailer/internal/email"
)

var (
	// ErrNoSender is returned when the message has no From address.
	ErrNoSender = errors.New("no sender provided")
	// ErrNoRecipients is returned when To, Cc and Bcc are all empty.
	ErrNoRecipients = errors.New("no recipients provided")
)

// defaultAttachmentName names data and stream attachments without a Name.
const defaultAttachmentName = "attachment"

// Build creates a go-mail message with headers, body and attachments.
// Stream attachments are drained into memory, so the result can be written
// more than once.
func Build(msg *email.Message) (*mail.Msg, error) {
	if msg.From == "" {
		return nil, ErrNoSender
	}
	if len(msg.Recipients()) == 0 {
		return nil, ErrNoRecipients
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	m := mail.NewMsg()
	if err := m.From(msg.From); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if len(msg.To) > 0 {
		if err := m.To(msg.To...); err != nil {
			return nil, fmt.Errorf("invalid to address: %w", err)
		}
	}
	if len(msg.Cc) > 0 {
		if err := m.Cc(msg.Cc...); err != nil {
			return nil, fmt.Errorf("invalid cc address: %w", err)
		}
	}
	if len(msg.Bcc) > 0 {
		if err := m.Bcc(msg.Bcc...); err != nil {
			return nil, fmt.Errorf("invalid bcc address: %w", err)
		}
	}
	m.Subject(msg.Subject)
	m.SetDate()
	m.SetMessageID()

	b := &builder{msg: m}
	if msg.Text != "" {
		b.body(mail.TypeTextPlain, msg.Text)
	}

	for i, att := range msg.Attachments {
		if err := b.add(att); err != nil {
			return nil, fmt.Errorf("attachment %d: %w", i, err)
		}
	}

	if !b.hasBody {
		m.SetBodyString(mail.TypeTextPlain, "")
	}

	return m, nil
}

// Render writes the message in RFC 5322 form.
func Render(m *mail.Msg) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to render message: %w", err)
	}
	return buf.Bytes(), nil
}

// Content returns the decoded bytes of an attachment. A stream is consumed.
func Content(att email.Attachment) ([]byte, error) {
	switch att.Source() {
	case email.SourcePath:
		data, err := os.ReadFile(att.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment file: %w", err)
		}
		return data, nil
	case email.SourceData:
		if att.Encoded {
			cleaned := strings.NewReplacer("\r", "", "\n", "").Replace(att.Data)
			data, err := base64.StdEncoding.DecodeString(cleaned)
			if err != nil {
				return nil, fmt.Errorf("failed to decode base64 attachment: %w", err)
			}
			return data, nil
		}
		return []byte(att.Data), nil
	case email.SourceStream:
		data, err := io.ReadAll(att.Stream)
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment stream: %w", err)
		}
		return data, nil
	default:
		return nil, att.Validate()
	}
}

// Name returns the file name an attachment is presented under.
func Name(att email.Attachment) string {
	switch {
	case att.Name != "":
		return att.Name
	case att.Path != "":
		return filepath.Base(att.Path)
	default:
		return defaultAttachmentName
	}
}

type builder struct {
	msg     *mail.Msg
	hasBody bool
}

func (b *builder) body(ct mail.ContentType, content string) {
	if !b.hasBody {
		b.msg.SetBodyString(ct, content)
		b.hasBody = true
		return
	}
	b.msg.AddAlternativeString(ct, content)
}

func (b *builder) add(att email.Attachment) error {
	if att.Alternative {
		content, err := Content(att)
		if err != nil {
			return err
		}
		b.body(mail.ContentType(att.ContentType()), string(content))
	} else if err := b.file(att, att.Inline); err != nil {
		return err
	}

	for i, rel := range att.Related {
		if err := b.file(rel, true); err != nil {
			return fmt.Errorf("related attachment %d: %w", i, err)
		}
	}
	return nil
}

func (b *builder) file(att email.Attachment, embed bool) error {
	content, err := Content(att)
	if err != nil {
		return err
	}

	opts := fileOptions(att, content)
	r := bytes.NewReader(content)
	if embed {
		b.msg.EmbedReadSeeker(Name(att), r, opts...)
	} else {
		b.msg.AttachReadSeeker(Name(att), r, opts...)
	}
	return nil
}

// fileOptions applies the attachment's type and headers and makes the part
// writable more than once.
func fileOptions(att email.Attachment, content []byte) []mail.FileOption {
	return []mail.FileOption{
		func(f *mail.File) {
			if f.Header == nil {
				f.Header = make(textproto.MIMEHeader)
			}
			if ct := att.ContentType(); ct != "" {
				f.Header.Set("Content-Type", fmt.Sprintf("%s; name=%q", ct, f.Name))
			}
			for k, v := range att.Headers {
				f.Header.Set(k, v)
			}
			f.Writer = func(w io.Writer) (int64, error) {
				n, err := w.Write(content)
				return int64(n), err
			}
		},
	}
}
