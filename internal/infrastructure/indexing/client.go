// Package indexing forwards trade descriptions to the search/vectorization
// service.
package indexing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type document struct {
	UserID  int64  `json:"userId"`
	TradeID string `json:"tradeId"`
	Text    string `json:"text"`
}

// Client posts one document per trade to the indexing endpoint.
type Client struct {
	url        string
	httpClient *http.Client
}

func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		url: url,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *Client) Index(ctx context.Context, userID int64, tradeID, text string) error {
	body, err := json.Marshal(document{UserID: userID, TradeID: tradeID, Text: text})
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("indexing API error (status %d): %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

// Noop drops documents when no indexing endpoint is configured.
type Noop struct{}

func (Noop) Index(ctx context.Context, userID int64, tradeID, text string) error { return nil }
