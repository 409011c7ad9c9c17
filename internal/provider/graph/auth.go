package graph

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// graphScope requests every application permission granted to the client.
const graphScope = "https://graph.microsoft.com/.default"

// tokenSource hands out client credentials tokens. Tokens are cached until
// they expire or Reset is called after the API rejects one.
type tokenSource struct {
	cfg        *clientcredentials.Config
	httpClient *http.Client

	mu  sync.Mutex
	src oauth2.TokenSource
}

func newTokenSource(tokenURL, clientID, clientSecret string, httpClient *http.Client) *tokenSource {
	ts := &tokenSource{
		cfg: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			Scopes:       []string{graphScope},
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		httpClient: httpClient,
	}
	ts.src = ts.newSource()
	return ts
}

// newSource returns a caching token source that fetches through httpClient.
func (ts *tokenSource) newSource() oauth2.TokenSource {
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, ts.httpClient)
	return ts.cfg.TokenSource(ctx)
}

// Token returns a valid access token. It is safe for concurrent use.
func (ts *tokenSource) Token() (*oauth2.Token, error) {
	ts.mu.Lock()
	src := ts.src
	ts.mu.Unlock()

	return src.Token()
}

// Reset drops the cached token so the next call to Token fetches a new one.
func (ts *tokenSource) Reset() {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.src = ts.newSource()
}

// isCredentialError reports whether the token endpoint refused the client,
// which no retry can fix.
func isCredentialError(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) || re.Response == nil {
		return false
	}
	return re.Response.StatusCode >= 400 && re.Response.StatusCode < 500
}
