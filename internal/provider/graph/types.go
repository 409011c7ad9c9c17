// Package graph implements a Provider that sends emails via the Microsoft Graph API.
package graph

import (
	"encoding/base64"
	"net/mail"

	"github.com/shineum/smtp-mailer/internal/compose"
	"github.com/shineum/smtp-mailer/internal/email"
)

const fileAttachmentType = "#microsoft.graph.fileAttachment"

// sendMailRequest is the top-level request body for the Graph API sendMail endpoint.
type sendMailRequest struct {
	Message sendMailMessage `json:"message"`
}

// sendMailMessage represents the message portion of a sendMail request.
type sendMailMessage struct {
	Subject       string            `json:"subject"`
	Body          messageBody       `json:"body"`
	From          *recipient        `json:"from,omitempty"`
	ToRecipients  []recipient       `json:"toRecipients"`
	CcRecipients  []recipient       `json:"ccRecipients,omitempty"`
	BccRecipients []recipient       `json:"bccRecipients,omitempty"`
	Attachments   []graphAttachment `json:"attachments,omitempty"`
}

// messageBody represents the body of an email message.
type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// recipient represents an email recipient.
type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

// emailAddress represents an email address in a Graph API request.
type emailAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// graphAttachment represents a file attachment in a Graph API request.
type graphAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType,omitempty"`
	ContentBytes string `json:"contentBytes"`
	IsInline     bool   `json:"isInline,omitempty"`
	ContentID    string `json:"contentId,omitempty"`
}

// graphErrorResponse represents an error response from the Graph API.
type graphErrorResponse struct {
	Error graphError `json:"error"`
}

// graphError represents the error detail in a Graph API error response.
type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// buildSendMailRequest converts a message into a Graph API sendMail request
// body. Graph carries a single body, so the first HTML alternative replaces
// the text body. Custom attachment headers have no Graph equivalent and
// are dropped.
func buildSendMailRequest(msg *email.Message) (*sendMailRequest, error) {
	body := messageBody{
		ContentType: "text",
		Content:     msg.Text,
	}

	var attachments []graphAttachment
	htmlBody := false
	for _, att := range msg.Attachments {
		if att.Alternative && !htmlBody && att.ContentType() == "text/html" {
			content, err := compose.Content(att)
			if err != nil {
				return nil, err
			}
			body = messageBody{ContentType: "html", Content: string(content)}
			htmlBody = true
		} else {
			a, err := fileAttachment(att, att.Inline)
			if err != nil {
				return nil, err
			}
			attachments = append(attachments, a)
		}

		for _, rel := range att.Related {
			a, err := fileAttachment(rel, true)
			if err != nil {
				return nil, err
			}
			attachments = append(attachments, a)
		}
	}

	req := &sendMailRequest{
		Message: sendMailMessage{
			Subject:       msg.Subject,
			Body:          body,
			ToRecipients:  recipients(msg.To),
			CcRecipients:  recipients(msg.Cc),
			BccRecipients: recipients(msg.Bcc),
			Attachments:   attachments,
		},
	}
	if msg.From != "" {
		from := toRecipient(msg.From)
		req.Message.From = &from
	}

	return req, nil
}

func fileAttachment(att email.Attachment, inline bool) (graphAttachment, error) {
	content, err := compose.Content(att)
	if err != nil {
		return graphAttachment{}, err
	}

	a := graphAttachment{
		ODataType:    fileAttachmentType,
		Name:         compose.Name(att),
		ContentType:  att.ContentType(),
		ContentBytes: base64.StdEncoding.EncodeToString(content),
		IsInline:     inline,
	}
	if inline {
		a.ContentID = a.Name
	}
	return a, nil
}

func recipients(list email.AddressList) []recipient {
	result := make([]recipient, 0, len(list))
	for _, entry := range list {
		result = append(result, toRecipient(entry))
	}
	return result
}

func toRecipient(entry string) recipient {
	addr, err := mail.ParseAddress(entry)
	if err != nil {
		return recipient{EmailAddress: emailAddress{Address: entry}}
	}
	return recipient{EmailAddress: emailAddress{Name: addr.Name, Address: addr.Address}}
}
