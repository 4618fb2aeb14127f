package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// State is the wallet session state published by the server.
type State struct {
	Version uint64 `json:"version"`
	Status  string `json:"status"` // connected, disconnected
	Address string `json:"address,omitempty"`
	ChainID int64  `json:"chain_id,omitempty"`
	Balance string `json:"balance,omitempty"`

	Network *Network `json:"network,omitempty"`
	Error   *Notice  `json:"error,omitempty"`

	Pending []string      `json:"pending"`
	History []Transaction `json:"history"`

	Count   string `json:"count,omitempty"`
	Loading bool   `json:"loading"`
}

// Connected reports whether the session is bound to an account.
func (s *State) Connected() bool {
	return s.Status == "connected"
}

// Network is network metadata for a chain.
type Network struct {
	ChainID         int64  `json:"chain_id,omitempty"`
	Name            string `json:"name"`
	CurrencySymbol  string `json:"currency_symbol,omitempty"`
	BlockExplorer   string `json:"block_explorer,omitempty"`
	Testnet         bool   `json:"testnet"`
	CounterContract string `json:"counter_contract,omitempty"`
}

// Notice is the error currently shown to the user.
type Notice struct {
	Category  string    `json:"category"`
	Message   string    `json:"message"`
	Reason    string    `json:"reason,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Transaction is one tracked counter transaction.
type Transaction struct {
	Hash        string `json:"hash"`
	Status      string `json:"status"` // pending, success, failed
	Timestamp   int64  `json:"timestamp"`
	ExplorerURL string `json:"explorer_url,omitempty"`
}

// Time returns the transaction creation time.
func (t Transaction) Time() time.Time {
	return time.UnixMilli(t.Timestamp)
}

// Transactions is the pending set and history reported by the server.
type Transactions struct {
	Pending []string      `json:"pending"`
	History []Transaction `json:"history"`
	Count   int           `json:"count"`
}

// ActionResult is the outcome of a counter write.
type ActionResult struct {
	OK    bool  `json:"ok"`
	State State `json:"state"`
}

// APIError is an error response from the server.
type APIError struct {
	StatusCode int
	Category   string
	Message    string
	Reason     string
}

func (e *APIError) Error() string {
	if e.Category != "" {
		return fmt.Sprintf("request failed: %s (%s)", e.Message, e.Category)
	}
	return fmt.Sprintf("request failed: %s", e.Message)
}

// ListOptions filters Transactions.
type ListOptions struct {
	Status string // pending, success, failed; empty for all
	Limit  int    // zero for the server default
}

// Client is the HTTP client for the counterwallet service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new counterwallet service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// State retrieves the current published state.
func (c *Client) State(ctx context.Context) (*State, error) {
	var state State
	if err := c.do(ctx, http.MethodGet, "/api/v1/state", &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Connect asks the server to request account access from the wallet provider.
func (c *Client) Connect(ctx context.Context) (*State, error) {
	var state State
	if err := c.do(ctx, http.MethodPost, "/api/v1/session/connect", &state); err != nil {
		return nil, err
	}
	c.logger.Debug("session connected", "address", state.Address, "chain_id", state.ChainID)
	return &state, nil
}

// Disconnect ends the session. It always succeeds on the server side.
func (c *Client) Disconnect(ctx context.Context) (*State, error) {
	var state State
	if err := c.do(ctx, http.MethodPost, "/api/v1/session/disconnect", &state); err != nil {
		return nil, err
	}
	c.logger.Debug("session disconnected")
	return &state, nil
}

// Refresh re-queries the balance of the connected account.
func (c *Client) Refresh(ctx context.Context) (*State, error) {
	var state State
	if err := c.do(ctx, http.MethodPost, "/api/v1/session/refresh", &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Count reads the counter value without submitting a transaction.
func (c *Client) Count(ctx context.Context) (string, error) {
	var resp struct {
		Count    string `json:"count"`
		Contract string `json:"contract"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/counter", &resp); err != nil {
		return "", err
	}
	return resp.Count, nil
}

// Increment submits an increment and blocks until it is confirmed.
func (c *Client) Increment(ctx context.Context) (*ActionResult, error) {
	return c.invoke(ctx, "increment")
}

// Decrement submits a decrement and blocks until it is confirmed.
func (c *Client) Decrement(ctx context.Context) (*ActionResult, error) {
	return c.invoke(ctx, "decrement")
}

func (c *Client) invoke(ctx context.Context, action string) (*ActionResult, error) {
	var result ActionResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/counter/"+url.PathEscape(action), &result); err != nil {
		return nil, err
	}
	c.logger.Debug("counter action finished", "action", action, "ok", result.OK)
	return &result, nil
}

// Transactions lists the pending set and history, most recent first.
func (c *Client) Transactions(ctx context.Context, opts ListOptions) (*Transactions, error) {
	query := url.Values{}
	if opts.Status != "" {
		query.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	path := "/api/v1/transactions"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var txns Transactions
	if err := c.do(ctx, http.MethodGet, path, &txns); err != nil {
		return nil, err
	}
	return &txns, nil
}

// Transaction returns one tracked transaction by hash.
func (c *Client) Transaction(ctx context.Context, hash string) (*Transaction, error) {
	var tx Transaction
	if err := c.do(ctx, http.MethodGet, "/api/v1/transactions/"+url.PathEscape(hash), &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// DismissError clears the active error and reports whether one was shown.
func (c *Client) DismissError(ctx context.Context) (bool, error) {
	var resp struct {
		Dismissed bool `json:"dismissed"`
	}
	if err := c.do(ctx, http.MethodDelete, "/api/v1/error", &resp); err != nil {
		return false, err
	}
	return resp.Dismissed, nil
}

// Networks lists the networks the server knows about.
func (c *Client) Networks(ctx context.Context) ([]Network, error) {
	var resp struct {
		Networks []Network `json:"networks"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/networks", &resp); err != nil {
		return nil, err
	}
	return resp.Networks, nil
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned unhealthy status: %d", resp.StatusCode)
	}
	return nil
}

// Watch streams state updates until ctx is done, the server closes the
// stream, or fn returns an error. A nil return after ctx is cancelled is
// reported as ctx.Err().
func (c *Client) Watch(ctx context.Context, fn func(*State) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/stream", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream has no upper bound; reuse the transport without the timeout.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if event == "state" && data != "" {
				var state State
				if err := json.Unmarshal([]byte(data), &state); err != nil {
					c.logger.Warn("failed to decode state event", "error", err)
				} else if err := fn(&state); err != nil {
					return err
				}
			}
			event, data = "", ""
		case strings.HasPrefix(line, ":"):
			// keepalive
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("stream read failed: %w", err)
	}
	return ctx.Err()
}

func (c *Client) do(ctx context.Context, method, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error    string `json:"error"`
		Category string `json:"category"`
		Reason   string `json:"reason"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Category:   errResp.Category,
		Message:    errResp.Error,
		Reason:     errResp.Reason,
	}
}

// IsCategory reports whether err is an APIError with the given category.
func IsCategory(err error, category string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Category == category
}
