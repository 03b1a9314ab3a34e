// Package credential obtains short-lived provider keys from a token service.
// Long-lived API keys never reach this process; each session gets its own
// ephemeral grant.
package credential

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrDenied reports that the token service refused to issue a grant.
var ErrDenied = errors.New("credential request denied")

// Grant is a short-lived provider credential bound to one session.
type Grant struct {
	Key       string    `json:"key"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Client requests grants from the token service.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a credential client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type issueRequest struct {
	Provider string `json:"provider"`
}

// Issue requests an ephemeral key for the named provider.
func (c *Client) Issue(ctx context.Context, provider string) (Grant, error) {
	body, err := json.Marshal(issueRequest{Provider: provider})
	if err != nil {
		return Grant{}, fmt.Errorf("credential: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/credentials",
		bytes.NewReader(body))
	if err != nil {
		return Grant{}, fmt.Errorf("credential: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Grant{}, fmt.Errorf("credential: issue for %s: %w", provider, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Grant{}, fmt.Errorf("credential: issue for %s: %w", provider, ErrDenied)
	case resp.StatusCode != http.StatusOK:
		return Grant{}, fmt.Errorf("credential: issue for %s: unexpected status %d", provider, resp.StatusCode)
	}

	var grant Grant
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		return Grant{}, fmt.Errorf("credential: decode grant: %w", err)
	}
	if grant.Key == "" {
		return Grant{}, fmt.Errorf("credential: empty key in grant for %s", provider)
	}
	return grant, nil
}

// Static returns a fixed-key grant for development use, bypassing the token
// service.
func Static(key string) Grant {
	return Grant{Key: key, ExpiresAt: time.Now().Add(time.Hour)}
}
