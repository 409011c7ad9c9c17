// Package parser reads RFC 5322 messages back into email.Message values.
// Transports use it to report what was actually put on the wire.
package parser

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"github.com/shineum/smtp-mailer/internal/email"
)

var wordDecoder = new(mime.WordDecoder)

// Parse parses a raw message. Text parts fill Message.Text, HTML parts
// become alternative attachments and every other part with a file name
// becomes an attachment carrying its decoded content in Data.
func Parse(raw []byte) (*email.Message, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	result := &email.Message{
		From:      firstAddress(msg.Header, "From"),
		To:        addressList(msg.Header, "To"),
		Cc:        addressList(msg.Header, "Cc"),
		Bcc:       addressList(msg.Header, "Bcc"),
		Subject:   decodeHeader(msg.Header.Get("Subject")),
		MessageID: msg.Header.Get("Message-Id"),
	}

	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		slog.Warn("failed to parse content type, treating as plain text",
			"content_type", contentType,
			"error", err,
		)
		body, readErr := io.ReadAll(msg.Body)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read message body: %w", readErr)
		}
		result.Text = string(body)
		return result, nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("multipart message missing boundary")
		}
		if err := parseMultipart(msg.Body, boundary, result); err != nil {
			return nil, fmt.Errorf("failed to parse multipart message: %w", err)
		}
		return result, nil
	}

	body, err := decodeBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"))
	if err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}
	switch mediaType {
	case "text/plain":
		result.Text = string(body)
	case "text/html":
		result.Attachments = append(result.Attachments, email.Attachment{
			Data:        string(body),
			Type:        mediaType,
			Alternative: true,
		})
	default:
		slog.Warn("unrecognized top-level content type",
			"content_type", mediaType,
		)
		result.Text = string(body)
	}

	return result, nil
}

// parseMultipart walks a multipart body, descending into nested multiparts.
func parseMultipart(body io.Reader, boundary string, result *email.Message) error {
	reader := multipart.NewReader(body, boundary)

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read next part: %w", err)
		}

		partContentType := part.Header.Get("Content-Type")
		if partContentType == "" {
			partContentType = "text/plain"
		}

		mediaType, params, err := mime.ParseMediaType(partContentType)
		if err != nil {
			slog.Warn("failed to parse part content type, skipping",
				"content_type", partContentType,
				"error", err,
			)
			continue
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			nestedBoundary := params["boundary"]
			if nestedBoundary == "" {
				slog.Warn("nested multipart missing boundary, skipping")
				continue
			}
			if err := parseMultipart(part, nestedBoundary, result); err != nil {
				slog.Warn("failed to parse nested multipart", "error", err)
			}
			continue
		}

		// multipart.Reader already strips quoted-printable encoding
		content, err := decodeBody(part, part.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			slog.Warn("failed to read part content",
				"content_type", mediaType,
				"error", err,
			)
			continue
		}

		disposition, _, _ := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
		filename := extractFilename(part, params)

		switch {
		case disposition == "" && mediaType == "text/plain" && result.Text == "":
			result.Text = string(content)
		case disposition == "" && mediaType == "text/html":
			result.Attachments = append(result.Attachments, email.Attachment{
				Data:        string(content),
				Type:        mediaType,
				Alternative: true,
			})
		case disposition != "" || filename != "":
			result.Attachments = append(result.Attachments, email.Attachment{
				Data:   string(content),
				Type:   mediaType,
				Name:   filename,
				Inline: disposition == "inline",
			})
		default:
			slog.Warn("unrecognized MIME part, skipping",
				"content_type", mediaType,
			)
		}
	}

	return nil
}

// decodeBody reads r and removes the given transfer encoding.
func decodeBody(r io.Reader, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		raw, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		cleaned := strings.NewReplacer("\r", "", "\n", "").Replace(string(raw))
		decoded, err := base64.StdEncoding.DecodeString(cleaned)
		if err != nil {
			// Try with RawStdEncoding for unpadded base64
			decoded, err = base64.RawStdEncoding.DecodeString(cleaned)
			if err != nil {
				return nil, fmt.Errorf("failed to decode base64 content: %w", err)
			}
		}
		return decoded, nil
	case "quoted-printable":
		return io.ReadAll(quotedprintable.NewReader(r))
	default:
		return io.ReadAll(r)
	}
}

// extractFilename checks Content-Disposition, then the Content-Type name parameter.
func extractFilename(part *multipart.Part, params map[string]string) string {
	if fn := part.FileName(); fn != "" {
		return fn
	}
	if name, ok := params["name"]; ok && name != "" {
		return decodeHeader(name)
	}
	return ""
}

// addressList reads an address header, decoding RFC 2047 display names.
func addressList(h mail.Header, key string) email.AddressList {
	raw := h.Get(key)
	if raw == "" {
		return nil
	}

	addresses, err := h.AddressList(key)
	if err != nil {
		return email.ParseAddressList(raw)
	}

	result := make(email.AddressList, 0, len(addresses))
	for _, addr := range addresses {
		if addr.Name == "" {
			result = append(result, addr.Address)
			continue
		}
		result = append(result, decodeHeader(addr.String()))
	}
	return result
}

func firstAddress(h mail.Header, key string) string {
	if list := addressList(h, key); len(list) > 0 {
		return list[0]
	}
	return decodeHeader(h.Get(key))
}

func decodeHeader(v string) string {
	decoded, err := wordDecoder.DecodeHeader(v)
	if err != nil {
		return v
	}
	return decoded
}
