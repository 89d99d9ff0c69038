// Package gateway provides the HTTP client for the external push gateway.
//
// The gateway accepts bounded batches and returns a per-item status for each
// address, so one bad token never fails the rest of a batch. Rate limiting
// is handled via a token bucket limiter.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/gatherly/gatherly-notify/internal/notify"
)

// Client is the push gateway HTTP client.
// Nil-safe: when not configured, sends are logged and reported as delivered,
// which keeps development environments working without a gateway.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// New creates a gateway client with rate limiting.
// Returns nil if baseURL is empty (gateway disabled).
func New(baseURL, apiKey string, requestsPerMinute int, logger *slog.Logger) *Client {
	if baseURL == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	rps := float64(requestsPerMinute) / 60.0
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		logger:     logger,
	}
}

// batchRequest is the gateway's batch send payload.
type batchRequest struct {
	Messages []notify.PushMessage `json:"messages"`
}

// batchResponse is the gateway's batch send response.
type batchResponse struct {
	Results []notify.PushResult `json:"results"`
}

// SendBatch posts one batch and returns per-item statuses. A non-2xx
// response or transport error is a whole-batch failure; the dispatcher owns
// retry policy.
func (c *Client) SendBatch(ctx context.Context, msgs []notify.PushMessage) ([]notify.PushResult, error) {
	if c == nil {
		// Disabled mode: pretend every item was accepted.
		results := make([]notify.PushResult, len(msgs))
		for i, m := range msgs {
			results[i] = notify.PushResult{Address: m.Address, Status: notify.StatusOK}
		}
		slog.Default().Info("Push gateway disabled, dropping batch", "items", len(msgs))
		return results, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	payload, err := json.Marshal(batchRequest{Messages: msgs})
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/send", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request /v1/send: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway /v1/send returned %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var result batchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return result.Results, nil
}

// truncate returns a truncated string representation for error messages.
func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
