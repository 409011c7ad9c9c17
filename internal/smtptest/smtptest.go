// Package smtptest runs an in-process SMTP server that records every
// message it accepts. It is meant for transport and end-to-end tests.
package smtptest

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	mailtls "github.com/shineum/smtp-mailer/internal/tls"
)

// Message is one accepted SMTP transaction.
type Message struct {
	// Hostname is the name the client greeted with in HELO/EHLO.
	Hostname string
	// User is the authenticated user name, empty for anonymous sessions.
	User       string
	From       string
	Recipients []string
	Data       []byte
}

// Option configures a Server.
type Option func(*Server)

// WithTLS advertises STARTTLS using a freshly generated certificate.
func WithTLS() Option {
	return func(s *Server) { s.startTLS = true }
}

// WithImplicitTLS wraps the listener in TLS, as on port 465.
func WithImplicitTLS() Option {
	return func(s *Server) { s.implicitTLS = true }
}

// WithAuth requires PLAIN or LOGIN authentication with the given
// credentials before MAIL FROM.
func WithAuth(username, password string) Option {
	return func(s *Server) {
		s.username = username
		s.password = password
	}
}

// WithRejectRecipient makes the server refuse RCPT TO for addr.
func WithRejectRecipient(addr string) Option {
	return func(s *Server) { s.reject[addr] = struct{}{} }
}

// Server is a running SMTP sink.
type Server struct {
	// CAFile is the PEM certificate the server presents, written to a
	// temporary file. It is empty unless a TLS option was given.
	CAFile string

	srv         *smtp.Server
	ln          net.Listener
	startTLS    bool
	implicitTLS bool
	reject      map[string]struct{}
	username    string
	password    string

	mu       sync.Mutex
	messages []Message
}

// NewServer starts a server on 127.0.0.1 and stops it when the test ends.
func NewServer(t testing.TB, opts ...Option) *Server {
	t.Helper()

	s := &Server{reject: make(map[string]struct{})}
	for _, opt := range opts {
		opt(s)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("smtptest: failed to listen: %v", err)
	}

	s.srv = smtp.NewServer(&backend{server: s})
	s.srv.Domain = "localhost"
	s.srv.AllowInsecureAuth = true

	if s.startTLS || s.implicitTLS {
		cfg := s.tlsConfig(t)
		if s.implicitTLS {
			ln = tls.NewListener(ln, cfg)
		} else {
			s.srv.TLSConfig = cfg
		}
	}
	s.ln = ln

	go func() {
		_ = s.srv.Serve(ln)
	}()
	t.Cleanup(func() {
		_ = s.srv.Close()
	})

	return s
}

func (s *Server) tlsConfig(t testing.TB) *tls.Config {
	t.Helper()

	certPEM, keyPEM, err := mailtls.GenerateSelfSigned("localhost", "127.0.0.1")
	if err != nil {
		t.Fatalf("smtptest: %v", err)
	}
	cfg, err := mailtls.ServerConfig(certPEM, keyPEM)
	if err != nil {
		t.Fatalf("smtptest: %v", err)
	}

	s.CAFile = filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(s.CAFile, certPEM, 0o600); err != nil {
		t.Fatalf("smtptest: failed to write CA file: %v", err)
	}
	return cfg
}

// Host returns the listening IP address.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.ln.Addr().String())
	return host
}

// Port returns the listening port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.ln.Addr().String())
	n, _ := strconv.Atoi(port)
	return n
}

// Messages returns a copy of every message accepted so far.
func (s *Server) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Server) record(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
}

type backend struct {
	server *Server
}

func (b *backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &session{server: b.server, conn: c}, nil
}

type session struct {
	server *Server
	conn   *smtp.Conn
	user   string
	from   string
	rcpts  []string
}

func (s *session) AuthMechanisms() []string {
	return []string{sasl.Plain, sasl.Login}
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	switch mech {
	case sasl.Plain:
		return sasl.NewPlainServer(func(_, username, password string) error {
			return s.login(username, password)
		}), nil
	case sasl.Login:
		return &loginServer{login: s.login}, nil
	default:
		return nil, smtp.ErrAuthUnknownMechanism
	}
}

func (s *session) login(username, password string) error {
	if s.server.username == "" || username != s.server.username || password != s.server.password {
		return smtp.ErrAuthFailed
	}
	s.user = username
	return nil
}

func (s *session) Mail(from string, _ *smtp.MailOptions) error {
	if s.server.username != "" && s.user == "" {
		return smtp.ErrAuthRequired
	}
	s.from = from
	return nil
}

func (s *session) Rcpt(to string, _ *smtp.RcptOptions) error {
	if _, ok := s.server.reject[to]; ok {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "mailbox unavailable",
		}
	}
	s.rcpts = append(s.rcpts, to)
	return nil
}

func (s *session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.server.record(Message{
		Hostname:   s.conn.Hostname(),
		User:       s.user,
		From:       s.from,
		Recipients: s.rcpts,
		Data:       data,
	})
	return nil
}

func (s *session) Reset() {
	s.from = ""
	s.rcpts = nil
}

func (s *session) Logout() error {
	return nil
}

// loginServer is the server side of the LOGIN mechanism: it asks for the
// user name, then the password.
type loginServer struct {
	login    func(username, password string) error
	username string
	step     int
}

func (l *loginServer) Next(response []byte) ([]byte, bool, error) {
	switch l.step {
	case 0:
		l.step++
		if len(response) > 0 {
			l.username = string(response)
			l.step++
			return []byte("Password:"), false, nil
		}
		return []byte("Username:"), false, nil
	case 1:
		l.username = string(response)
		l.step++
		return []byte("Password:"), false, nil
	case 2:
		l.step++
		return nil, true, l.login(l.username, string(response))
	default:
		return nil, false, errors.New("unexpected LOGIN response")
	}
}
