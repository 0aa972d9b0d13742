package brokerage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// ErrUnauthorized is returned when the aggregator rejects the credential (HTTP 401).
var ErrUnauthorized = errors.New("aggregator credential unauthorized")

const (
	defaultTimeout  = 60 * time.Second
	usersPath       = "/users"
	loginPath       = "/users/login"
	connectionsPath = "/connections"
	accountsPath    = "/accounts"
)

// Config holds the client settings.
type Config struct {
	BaseURL     string
	ClientID    string
	ConsumerKey string
	Timeout     time.Duration
	RateLimit   float64 // requests per second; zero disables limiting
	RateBurst   int
}

type Client struct {
	httpClient  *http.Client
	baseURL     string
	clientID    string
	consumerKey string
	limiter     *rate.Limiter
}

var _ ClientInterface = (*Client)(nil)

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL:     cfg.BaseURL,
		clientID:    cfg.ClientID,
		consumerKey: cfg.ConsumerKey,
		limiter:     limiter,
	}
}

// RegisterUser creates the aggregator-side identity for a local user.
func (c *Client) RegisterUser(ctx context.Context, userRef string) (*Credential, error) {
	var resp registerResponse
	body := map[string]string{"userId": userRef}
	if err := c.do(ctx, http.MethodPost, usersPath, nil, body, &resp); err != nil {
		return nil, err
	}
	if resp.Data.UserID == "" || resp.Data.UserSecret == "" {
		return nil, fmt.Errorf("register user: empty credential in response")
	}
	return &resp.Data, nil
}

// LoginURL returns the connection portal URL for the given brokerage.
func (c *Client) LoginURL(ctx context.Context, cred Credential, brokerage, redirectURL string) (string, error) {
	var resp loginResponse
	body := map[string]string{"broker": brokerage, "customRedirect": redirectURL}
	if err := c.do(ctx, http.MethodPost, loginPath, credentialQuery(cred), body, &resp); err != nil {
		return "", err
	}
	if resp.Data.RedirectURI == "" {
		return "", fmt.Errorf("login: empty redirect URI in response")
	}
	return resp.Data.RedirectURI, nil
}

func (c *Client) ListConnections(ctx context.Context, cred Credential) ([]Connection, error) {
	var resp listResponse[Connection]
	if err := c.do(ctx, http.MethodGet, connectionsPath, credentialQuery(cred), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) DeleteConnection(ctx context.Context, cred Credential, connectionID string) error {
	path := connectionsPath + "/" + url.PathEscape(connectionID)
	return c.do(ctx, http.MethodDelete, path, credentialQuery(cred), nil, nil)
}

func (c *Client) ListAccounts(ctx context.Context, cred Credential) ([]Account, error) {
	var resp listResponse[Account]
	if err := c.do(ctx, http.MethodGet, accountsPath, credentialQuery(cred), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) ListHoldings(ctx context.Context, cred Credential, accountID string) ([]Holding, error) {
	var resp listResponse[Holding]
	path := accountsPath + "/" + url.PathEscape(accountID) + "/holdings"
	if err := c.do(ctx, http.MethodGet, path, credentialQuery(cred), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// ListTransactions fetches one page (1-based) of an account's activity.
func (c *Client) ListTransactions(ctx context.Context, cred Credential, accountID string, page, pageSize int) ([]Transaction, error) {
	q := credentialQuery(cred)
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(pageSize))

	var resp listResponse[Transaction]
	path := accountsPath + "/" + url.PathEscape(accountID) + "/transactions"
	if err := c.do(ctx, http.MethodGet, path, q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func credentialQuery(cred Credential) url.Values {
	q := url.Values{}
	q.Set("userId", cred.UserID)
	q.Set("userSecret", cred.UserSecret)
	return q
}

// do performs one rate-limited JSON request. out may be nil for calls
// without a response body of interest.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reqBody io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.consumerKey))
	req.Header.Set("X-Client-Id", c.clientID)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp ErrorResponse
		if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
			return fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
		}
		return fmt.Errorf("API error (status %d): %s - %s", resp.StatusCode, errResp.Error, errResp.Message)
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
