// Package email defines the message model shared by the mailer and its transports.
package email

import (
	"fmt"
	"slices"

	"github.com/samber/lo"
)

// Message is an outgoing email. A zero-valued field is treated as absent
// and is filled from the mailer's default message before sending.
type Message struct {
	From        string      `yaml:"from" env:"FROM"`
	To          AddressList `yaml:"to" env:"TO"`
	Cc          AddressList `yaml:"cc" env:"CC"`
	Bcc         AddressList `yaml:"bcc" env:"BCC"`
	Subject     string      `yaml:"subject" env:"SUBJECT"`
	Text        string      `yaml:"text" env:"TEXT"`
	Attachments Attachments `yaml:"attachment"`

	// MessageID is set by transports on the sent message. It is never
	// merged from defaults.
	MessageID string `yaml:"-"`
}

// Input is either plain text or a structured Message.
type Input interface {
	message() Message
}

// Text is the plain string shorthand for Message{Text: string(t)}.
type Text string

func (t Text) message() Message {
	return Message{Text: string(t)}
}

func (m Message) message() Message {
	return m
}

// Resolve turns an Input into a Message. A nil input, including a nil
// *Message, yields the empty message.
func Resolve(in Input) Message {
	if in == nil {
		return Message{}
	}
	if p, ok := in.(*Message); ok && p == nil {
		return Message{}
	}
	return in.message()
}

// WithDefaults returns a copy of m where every absent field is taken from d.
// Fields present in m are never overwritten. The merge is one level deep:
// a non-empty attachment list in m replaces the default list as a whole.
func (m Message) WithDefaults(d Message) Message {
	return Message{
		From:        lo.CoalesceOrEmpty(m.From, d.From),
		To:          coalesceList(m.To, d.To),
		Cc:          coalesceList(m.Cc, d.Cc),
		Bcc:         coalesceList(m.Bcc, d.Bcc),
		Subject:     lo.CoalesceOrEmpty(m.Subject, d.Subject),
		Text:        lo.CoalesceOrEmpty(m.Text, d.Text),
		Attachments: coalesceAttachments(m.Attachments, d.Attachments),
		MessageID:   m.MessageID,
	}
}

// Clone returns a copy of m that shares no slices with it.
func (m Message) Clone() Message {
	c := m
	c.To = slices.Clone(m.To)
	c.Cc = slices.Clone(m.Cc)
	c.Bcc = slices.Clone(m.Bcc)
	c.Attachments = m.Attachments.clone()
	return c
}

// Validate checks every attachment of the message.
func (m Message) Validate() error {
	for i, a := range m.Attachments {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("attachment %d: %w", i, err)
		}
	}
	return nil
}

// Recipients returns every envelope recipient: To, then Cc, then Bcc.
func (m Message) Recipients() []string {
	return lo.Flatten([][]string{m.To, m.Cc, m.Bcc})
}

func coalesceList(v, def AddressList) AddressList {
	if len(v) > 0 {
		return slices.Clone(v)
	}
	return slices.Clone(def)
}

func coalesceAttachments(v, def Attachments) Attachments {
	if len(v) > 0 {
		return v.clone()
	}
	return def.clone()
}
