// Package main is the entry point for the smtp-mailer command. It sends a
// single message, merged with the configured default message, and exits
// non-zero when delivery fails.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/shineum/smtp-mailer/internal/config"
	"github.com/shineum/smtp-mailer/internal/email"
	"github.com/shineum/smtp-mailer/internal/mailer"
	"github.com/shineum/smtp-mailer/internal/provider"
	"github.com/shineum/smtp-mailer/internal/provider/graph"
	"github.com/shineum/smtp-mailer/internal/provider/ses"
	"github.com/shineum/smtp-mailer/internal/provider/smtp"
	"github.com/shineum/smtp-mailer/internal/provider/stdout"
)

// options holds the parsed command line.
type options struct {
	configPath string
	message    email.Message
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	// A missing .env file is fine, values may come from the real environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to load .env file", "error", err)
		os.Exit(1)
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logging.Level)

	prov, err := selectProvider(context.Background(), cfg, logger)
	if err != nil {
		slog.Error("failed to create provider", "provider", cfg.Provider, "error", err)
		os.Exit(1)
	}

	var sendErr error
	mailer.New(prov, cfg.DefaultMessage, mailer.WithLogger(logger)).
		Send(opts.message, func(err error, _ *email.Message) {
			sendErr = err
		}).
		Wait()

	if sendErr != nil {
		os.Exit(1)
	}
}

// parseFlags reads the command line into options. Message fields left
// unset are filled from the configured default message.
func parseFlags(args []string, output io.Writer) (*options, error) {
	flags := flag.NewFlagSet("smtp-mailer", flag.ContinueOnError)
	flags.SetOutput(output)

	opts := &options{}
	var to, cc, bcc string

	flags.StringVar(&opts.configPath, "config", "", "path to YAML configuration file (optional)")
	flags.StringVar(&opts.message.From, "from", "", "sender address")
	flags.StringVar(&to, "to", "", "comma-separated recipient addresses")
	flags.StringVar(&cc, "cc", "", "comma-separated carbon copy addresses")
	flags.StringVar(&bcc, "bcc", "", "comma-separated blind carbon copy addresses")
	flags.StringVar(&opts.message.Subject, "subject", "", "message subject")
	flags.StringVar(&opts.message.Text, "text", "", "plain text body")
	flags.Func("attach", "file to attach (repeatable)", func(path string) error {
		if path == "" {
			return errors.New("empty path")
		}
		opts.message.Attachments = append(opts.message.Attachments, email.Attachment{Path: path})
		return nil
	})

	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	if flags.NArg() > 0 {
		fmt.Fprintf(output, "unexpected arguments: %v\n", flags.Args())
		flags.Usage()
		return nil, errors.New("unexpected arguments")
	}

	opts.message.To = email.ParseAddressList(to)
	opts.message.Cc = email.ParseAddressList(cc)
	opts.message.Bcc = email.ParseAddressList(bcc)

	return opts, nil
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// selectProvider creates the delivery backend named by cfg.Provider.
func selectProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (provider.Provider, error) {
	switch cfg.Provider {
	case config.ProviderSMTP:
		logger.Info("using SMTP provider", "address", cfg.SMTP.Address())
		return smtp.New(cfg.SMTP, logger)

	case config.ProviderSES:
		logger.Info("using AWS SES provider",
			"region", cfg.SES.Region,
			"sender", cfg.SES.Sender,
		)
		return ses.New(ctx, cfg.SES)

	case config.ProviderGraph:
		logger.Info("using Microsoft Graph provider",
			"sender", cfg.Graph.Sender,
		)
		return graph.New(cfg.Graph), nil

	case config.ProviderStdout:
		logger.Info("using stdout provider")
		return stdout.New(), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
