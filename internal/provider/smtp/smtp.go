// Package smtp delivers messages to an external SMTP server through go-mail.
package smtp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/wneessen/go-mail"
	"gopkg.in/yaml.v3"

	"github.com/shineum/smtp-mailer/internal/compose"
	"github.com/shineum/smtp-mailer/internal/email"
	"github.com/shineum/smtp-mailer/internal/parser"
	mailtls "github.com/shineum/smtp-mailer/internal/tls"
)

// ErrInvalidConfig is returned by New for a configuration that cannot
// produce a working client.
var ErrInvalidConfig = errors.New("invalid smtp configuration")

const (
	// DefaultTimeout bounds connecting and every command on the connection.
	DefaultTimeout = 5 * time.Second

	portSSL      = 465
	portTLS      = 587
	portPlain    = 25
	providerName = "smtp"
)

// SSLOptions enables an implicit TLS connection. In YAML it is either a
// boolean or a mapping with key, cert and ca file paths. The files also
// apply to STARTTLS.
type SSLOptions struct {
	Enabled bool   `yaml:"enabled"`
	Key     string `yaml:"key" env:"KEY"`
	Cert    string `yaml:"cert" env:"CERT"`
	CA      string `yaml:"ca" env:"CA"`
}

// UnmarshalYAML accepts `ssl: true` as well as `ssl: {key, cert, ca}`.
// A mapping enables SSL unless it sets enabled: false.
func (o *SSLOptions) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Decode(&o.Enabled)
	case yaml.MappingNode:
		type plain SSLOptions
		p := plain{Enabled: true}
		if err := node.Decode(&p); err != nil {
			return err
		}
		*o = SSLOptions(p)
		return nil
	default:
		return fmt.Errorf("ssl: unexpected YAML node at line %d", node.Line)
	}
}

// UnmarshalText reads the boolean form from an environment variable.
func (o *SSLOptions) UnmarshalText(text []byte) error {
	v, err := strconv.ParseBool(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("ssl: %w", err)
	}
	o.Enabled = v
	return nil
}

func (o SSLOptions) bundle() mailtls.Bundle {
	return mailtls.Bundle{Key: o.Key, Cert: o.Cert, CA: o.CA}
}

// Config describes the SMTP server to deliver to.
type Config struct {
	User     string        `yaml:"user" env:"USER"`
	Password string        `yaml:"password" env:"PASSWORD"`
	Host     string        `yaml:"host" env:"HOST" validate:"required,hostname_rfc1123|ip"`
	Port     int           `yaml:"port" env:"PORT" validate:"omitempty,min=1,max=65535"`
	SSL      SSLOptions    `yaml:"ssl" env:"SSL" envPrefix:"SSL_"`
	TLS      bool          `yaml:"tls" env:"TLS"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT" validate:"gte=0"`
	Domain   string        `yaml:"domain" env:"DOMAIN"`
	AuthType string        `yaml:"auth" env:"AUTH" validate:"omitempty,oneof=plain login cram-md5"`
}

// Address returns host:port after defaults are applied.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.port())
}

func (c Config) port() int {
	switch {
	case c.Port != 0:
		return c.Port
	case c.SSL.Enabled:
		return portSSL
	case c.TLS:
		return portTLS
	default:
		return portPlain
	}
}

func (c Config) timeout() time.Duration {
	if c.Timeout == 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

func (c Config) authType() mail.SMTPAuthType {
	switch strings.ToLower(c.AuthType) {
	case "login":
		return mail.SMTPAuthLogin
	case "cram-md5":
		return mail.SMTPAuthCramMD5
	default:
		return mail.SMTPAuthPlain
	}
}

// Provider sends messages over one go-mail client.
type Provider struct {
	cfg    Config
	logger *slog.Logger

	// go-mail clients hold the connection state and must not be shared
	// between concurrent sends.
	mu     sync.Mutex
	client *mail.Client
}

// New validates cfg and builds the client. No connection is made until
// the first Send.
func New(cfg Config, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	tlsConfig, err := mailtls.ClientConfig(cfg.Host, cfg.SSL.bundle())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	opts := []mail.Option{
		mail.WithPort(cfg.port()),
		mail.WithTimeout(cfg.timeout()),
		mail.WithTLSConfig(tlsConfig),
	}
	switch {
	case cfg.SSL.Enabled:
		opts = append(opts, mail.WithSSL(), mail.WithTLSPolicy(mail.NoTLS))
	case cfg.TLS:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}
	if cfg.Domain != "" {
		opts = append(opts, mail.WithHELO(cfg.Domain))
	}
	if cfg.User != "" {
		opts = append(opts,
			mail.WithSMTPAuth(cfg.authType()),
			mail.WithUsername(cfg.User),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return &Provider{cfg: cfg, logger: logger, client: client}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return providerName
}

// Send composes msg, delivers it and returns the message as it was put
// on the wire.
func (p *Provider) Send(ctx context.Context, msg *email.Message) (*email.Message, error) {
	m, err := compose.Build(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to compose message: %w", err)
	}

	raw, err := compose.Render(m)
	if err != nil {
		return nil, err
	}

	p.logger.Debug("delivering message",
		"provider", providerName,
		"server", p.cfg.Address(),
		"recipients", len(msg.Recipients()),
		"size", len(raw),
	)

	p.mu.Lock()
	err = p.client.DialAndSendWithContext(ctx, m)
	p.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to deliver message via %s: %w", p.cfg.Address(), err)
	}

	sent, err := parser.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to read back sent message: %w", err)
	}
	sent.Bcc = slices.Clone(msg.Bcc)

	return sent, nil
}
