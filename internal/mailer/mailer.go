// Package mailer sends messages through a provider after filling absent
// fields from a default message. Sends are asynchronous: the result of
// each one is logged and handed to a callback exactly once.
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shineum/smtp-mailer/internal/email"
	"github.com/shineum/smtp-mailer/internal/provider"
	"github.com/shineum/smtp-mailer/internal/provider/smtp"
)

// Callback receives the outcome of a send. On success err is nil and msg
// is the message as transmitted. On failure msg is the merged message
// that was attempted.
type Callback func(err error, msg *email.Message)

// NopCallback is used when Send is called without a callback.
func NopCallback(error, *email.Message) {}

// Option configures a Mailer.
type Option func(*Mailer)

// WithLogger sets the logger for send attempts and outcomes.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mailer) {
		if l != nil {
			m.logger = l
		}
	}
}

// Mailer owns one provider and one default message for its lifetime.
type Mailer struct {
	provider provider.Provider
	defaults email.Message
	logger   *slog.Logger

	wg sync.WaitGroup
}

// New returns a Mailer that delivers through p.
func New(p provider.Provider, defaults email.Message, opts ...Option) *Mailer {
	m := &Mailer{
		provider: p,
		defaults: defaults.Clone(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect builds an SMTP provider from cfg and returns a Mailer using it.
// A configuration the SMTP client rejects is returned unchanged from
// smtp.New and matches smtp.ErrInvalidConfig.
func Connect(cfg smtp.Config, defaults email.Message, opts ...Option) (*Mailer, error) {
	m := New(nil, defaults, opts...)

	p, err := smtp.New(cfg, m.logger)
	if err != nil {
		return nil, err
	}
	m.provider = p

	return m, nil
}

// Send merges in with the default message and delivers it in the
// background. A nil in sends the default message unchanged and a nil done
// is replaced by NopCallback. Send returns m so calls can be chained.
//
// Stream attachments are consumed by the first send that uses them, so a
// default message should not carry one when it is sent more than once.
func (m *Mailer) Send(in email.Input, done Callback) *Mailer {
	if done == nil {
		done = NopCallback
	}

	msg := email.Resolve(in).WithDefaults(m.defaults)
	attrs := []any{
		"subject", msg.Subject,
		"to", msg.To.String(),
		"provider", m.provider.Name(),
	}

	m.logger.Info(fmt.Sprintf("sending a message with subject `%s` to `%s`", msg.Subject, msg.To), attrs...)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		sent, err := m.provider.Send(context.Background(), &msg)
		if err != nil {
			m.logger.Error(fmt.Sprintf("a message with subject `%s` to `%s` has not been sent", msg.Subject, msg.To), attrs...)
			m.logger.Error(err.Error(), "error", err)
			done(err, &msg)
			return
		}
		if sent == nil {
			sent = &msg
		}

		m.logger.Info(fmt.Sprintf("a message with subject `%s` to `%s` has been sent", msg.Subject, msg.To),
			append(attrs, "message_id", sent.MessageID)...,
		)
		done(nil, sent)
	}()

	return m
}

// Wait blocks until every send started so far has invoked its callback.
// It does not cancel anything.
func (m *Mailer) Wait() {
	m.wg.Wait()
}

// Defaults returns a copy of the default message.
func (m *Mailer) Defaults() email.Message {
	return m.defaults.Clone()
}

// Provider returns the name of the provider in use.
func (m *Mailer) Provider() string {
	return m.provider.Name()
}
