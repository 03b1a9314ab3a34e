package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

var _ Ledger = (*Client)(nil)

// Client settles costs against a remote billing service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a ledger client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type finalizeRequest struct {
	SessionID  string  `json:"session_id"`
	Provider   string  `json:"provider"`
	DurationMS int64   `json:"duration_ms"`
	Estimate   float64 `json:"estimate"`
}

type finalizeResponse struct {
	Amount float64 `json:"amount"`
}

// Finalize posts the session's duration and estimate and returns the
// service's authoritative amount. Transport failures and 5xx responses map to
// ErrUnavailable.
func (c *Client) Finalize(ctx context.Context, cost Cost) (float64, error) {
	body, err := json.Marshal(finalizeRequest{
		SessionID:  cost.SessionID,
		Provider:   cost.Provider,
		DurationMS: cost.Elapsed.Milliseconds(),
		Estimate:   cost.Estimate,
	})
	if err != nil {
		return 0, fmt.Errorf("ledger: marshal finalize: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/sessions/finalize", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("ledger: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("ledger: finalize %s: %w", cost.SessionID, ErrUnavailable)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return 0, fmt.Errorf("ledger: finalize %s: status %d: %w", cost.SessionID, resp.StatusCode, ErrUnavailable)
	case resp.StatusCode != http.StatusOK:
		return 0, fmt.Errorf("ledger: finalize %s: unexpected status %d", cost.SessionID, resp.StatusCode)
	}

	var out finalizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("ledger: decode finalize response: %w", err)
	}
	return out.Amount, nil
}
