package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client POSTs envelopes to the relay target URL. One call is one delivery
// attempt with a bounded timeout; retries live in the task queue around it.
type Client struct {
	targetURL  string
	httpClient *http.Client
}

// NewClient creates a relay client for the target URL.
func NewClient(targetURL string) *Client {
	return &Client{
		targetURL:  targetURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Post delivers one envelope. Non-2xx responses are errors so the task queue
// retries them.
func (c *Client) Post(ctx context.Context, envelope Envelope) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.targetURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("relay request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("relay target returned %d", resp.StatusCode)
	}

	return nil
}
