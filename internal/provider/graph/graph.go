package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/samber/lo"
	"github.com/sethvargo/go-retry"

	"github.com/shineum/smtp-mailer/internal/email"
)

// Config holds the configuration for creating a Provider. Sender is the
// mailbox the message is sent from and the From address of messages that
// have none.
type Config struct {
	TenantID     string `yaml:"tenant_id" env:"TENANT_ID"`
	ClientID     string `yaml:"client_id" env:"CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"CLIENT_SECRET"`
	Sender       string `yaml:"sender" env:"SENDER"`
}

// maxRetries is the maximum number of retry attempts for transient failures.
const maxRetries = 3

// baseRetryDelay is the initial delay for exponential backoff.
const baseRetryDelay = 1 * time.Second

// Provider sends emails via the Microsoft Graph API using OAuth2
// client credentials authentication.
type Provider struct {
	sender     string
	graphURL   string
	httpClient *http.Client
	token      *tokenSource
	retryDelay time.Duration
}

// New creates a new Provider with the given configuration.
func New(cfg Config) *Provider {
	tokenURL := fmt.Sprintf(
		"https://login.microsoftonline.com/%s/oauth2/v2.0/token",
		url.PathEscape(cfg.TenantID),
	)
	graphURL := fmt.Sprintf(
		"https://graph.microsoft.com/v1.0/users/%s/sendMail",
		url.PathEscape(cfg.Sender),
	)

	return newWithOverrides(cfg, graphURL, tokenURL, &http.Client{Timeout: 30 * time.Second})
}

// newWithOverrides creates a Provider with custom URLs and HTTP client,
// used for testing.
func newWithOverrides(cfg Config, graphURL, tokenURL string, client *http.Client) *Provider {
	return &Provider{
		sender:     cfg.Sender,
		graphURL:   graphURL,
		httpClient: client,
		token:      newTokenSource(tokenURL, cfg.ClientID, cfg.ClientSecret, client),
		retryDelay: baseRetryDelay,
	}
}

// Name returns the provider name.
func (g *Provider) Name() string {
	return "msgraph"
}

// Send delivers an email message via the Microsoft Graph API.
// Transient failures are retried with exponential backoff, HTTP 429 waits
// for Retry-After and HTTP 401 refreshes the token once. Graph does not
// report a Message-ID, so the returned message has none.
func (g *Provider) Send(ctx context.Context, msg *email.Message) (*email.Message, error) {
	sent := msg.Clone()
	sent.From = lo.CoalesceOrEmpty(sent.From, g.sender)
	if len(sent.Recipients()) == 0 {
		return nil, errors.New("no recipients provided")
	}

	reqBody, err := buildSendMailRequest(&sent)
	if err != nil {
		return nil, fmt.Errorf("failed to build request body: %w", err)
	}
	bodyJSON, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	var (
		attempt        int
		tokenRefreshed bool
		retryAfter     time.Duration
	)
	backoff := retry.WithMaxRetries(maxRetries, retry.NewExponential(g.retryDelay))
	b := retry.BackoffFunc(func() (time.Duration, bool) {
		next, stop := backoff.Next()
		if stop {
			return 0, true
		}
		if retryAfter > 0 {
			next, retryAfter = retryAfter, 0
		}
		return next, false
	})

	err = retry.Do(ctx, b, func(ctx context.Context) error {
		if attempt > 0 {
			slog.Debug("retrying Graph API request",
				"attempt", attempt,
				"max_retries", maxRetries,
			)
		}
		attempt++

		err := g.doSendRequest(ctx, bodyJSON)
		if err == nil {
			return nil
		}

		var graphErr *sendError
		if !errors.As(err, &graphErr) {
			return err
		}

		switch {
		case graphErr.permanent:
			return graphErr
		case graphErr.statusCode == http.StatusUnauthorized:
			if tokenRefreshed {
				return graphErr
			}
			slog.Info("refreshing Graph API token after 401")
			g.token.Reset()
			tokenRefreshed = true
		case graphErr.statusCode == http.StatusTooManyRequests:
			retryAfter = parseRetryAfter(graphErr.retryAfter)
			slog.Info("rate limited by Graph API",
				"retry_after", retryAfter,
			)
		default:
			slog.Info("transient Graph API error, retrying",
				"status", graphErr.statusCode,
				"error", graphErr,
			)
		}
		return retry.RetryableError(graphErr)
	})
	if err != nil {
		return nil, fmt.Errorf("Graph API request failed after %d attempts: %w", attempt, err)
	}

	return &sent, nil
}

// doSendRequest performs a single HTTP request to the Graph API sendMail endpoint.
func (g *Provider) doSendRequest(ctx context.Context, bodyJSON []byte) error {
	token, err := g.token.Token()
	if err != nil {
		if isCredentialError(err) {
			return fmt.Errorf("failed to get access token: %w", err)
		}
		return &sendError{
			message:   fmt.Sprintf("failed to get access token: %v", err),
			transient: true,
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.graphURL, bytes.NewReader(bodyJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	token.SetAuthHeader(req)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return &sendError{
			message:   fmt.Sprintf("HTTP request failed: %v", err),
			transient: true,
		}
	}
	defer resp.Body.Close()

	// HTTP 202 Accepted is success for sendMail
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)

	var graphErrResp graphErrorResponse
	if jsonErr := json.Unmarshal(body, &graphErrResp); jsonErr == nil && graphErrResp.Error.Message != "" {
		return classifyError(resp.StatusCode, graphErrResp.Error.Message, resp.Header.Get("Retry-After"))
	}

	return classifyError(resp.StatusCode, string(body), resp.Header.Get("Retry-After"))
}

// sendError represents an error from the Graph API send operation with
// classification for retry logic.
type sendError struct {
	message    string
	statusCode int
	permanent  bool
	transient  bool
	retryAfter string
}

func (e *sendError) Error() string {
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.statusCode, e.message)
}

// classifyError categorizes an HTTP error response for retry decisions.
func classifyError(statusCode int, message, retryAfter string) *sendError {
	err := &sendError{
		message:    message,
		statusCode: statusCode,
		retryAfter: retryAfter,
	}

	switch {
	case statusCode == http.StatusBadRequest || statusCode == http.StatusForbidden:
		err.permanent = true
	case statusCode == http.StatusUnauthorized:
		err.transient = true
	case statusCode == http.StatusTooManyRequests:
		err.transient = true
	case statusCode >= 500:
		err.transient = true
	default:
		err.permanent = true
	}

	return err
}

// parseRetryAfter reads a Retry-After header given in seconds. It returns
// zero when the header is missing or unparseable, leaving the delay to the
// exponential backoff.
func parseRetryAfter(retryAfter string) time.Duration {
	seconds, err := strconv.Atoi(retryAfter)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
