package client

import (
	"bufio"
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
	"strings"
	"time"

	"github.com/brojonat/walletfeed/service/feed"
	"github.com/brojonat/walletfeed/service/reconcile"
)

var (
	// ErrNotFound is returned when the server has no such record.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an enqueue was refused.
	ErrConflict = errors.New("conflict")
)

// Client is the HTTP client of the walletfeed server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client. A nil httpClient gets a 30s timeout; a nil
// logger discards output.
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

// PageOptions selects a feed page.
type PageOptions struct {
	Count    int
	Reset    bool
	Category feed.Category
}

// Page returns the next page of the feed.
func (c *Client) Page(ctx context.Context, opts PageOptions) ([]*feed.Event, error) {
	q := url.Values{}
	if opts.Count > 0 {
		q.Set("count", strconv.Itoa(opts.Count))
	}
	if opts.Reset {
		q.Set("reset", "true")
	}
	if opts.Category != "" {
		q.Set("category", string(opts.Category))
	}

	var page struct {
		Items []*feed.Event `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/feed?"+q.Encode(), nil, http.StatusOK, &page); err != nil {
		return nil, err
	}
	return page.Items, nil
}

// Get returns one record, or ErrNotFound.
func (c *Client) Get(ctx context.Context, id string) (*feed.Event, error) {
	var ev feed.Event
	if err := c.do(ctx, http.MethodGet, "/api/v1/feed/"+url.PathEscape(id), nil, http.StatusOK, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Enqueue records a locally sent transaction. It returns ErrConflict when the
// server refused it.
func (c *Client) Enqueue(ctx context.Context, ev *feed.Event) (*feed.Event, error) {
	var out feed.Event
	if err := c.do(ctx, http.MethodPost, "/api/v1/feed", ev, http.StatusCreated, &out); err != nil {
		return nil, err
	}
	c.logger.Debug("transaction enqueued", "id", out.ID)
	return &out, nil
}

// UpdateStatus sets the status of a record.
func (c *Client) UpdateStatus(ctx context.Context, id string, status feed.Status) (*feed.Event, error) {
	return c.putStatus(ctx, "/api/v1/feed/"+url.PathEscape(id)+"/status", status)
}

// UpdateOTPLStatus sets the payment link status of a record.
func (c *Client) UpdateOTPLStatus(ctx context.Context, id string, status feed.Status) (*feed.Event, error) {
	return c.putStatus(ctx, "/api/v1/feed/"+url.PathEscape(id)+"/otpl-status", status)
}

func (c *Client) putStatus(ctx context.Context, path string, status feed.Status) (*feed.Event, error) {
	var ev feed.Event
	body := map[string]string{"status": string(status)}
	if err := c.do(ctx, http.MethodPut, path, body, http.StatusOK, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// MarkError flags a record as failed.
func (c *Client) MarkError(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/feed/"+url.PathEscape(id)+"/error", nil, http.StatusNoContent, nil)
}

// ProcessReceipt asks the server to fetch and reconcile the receipt of hash.
// It returns nil without error when the chain has no such receipt.
func (c *Client) ProcessReceipt(ctx context.Context, hash string) (*feed.Event, error) {
	var ev feed.Event
	err := c.do(ctx, http.MethodPost, "/api/v1/receipts/"+url.PathEscape(hash), nil, http.StatusOK, &ev)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// Health returns nil when the server is up and its engine is ready.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, http.StatusOK, nil)
}

// Stream delivers feed updates from the server's event stream to fn until
// ctx is done or the server closes the stream.
func (c *Client) Stream(ctx context.Context, fn func(reconcile.Update)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/stream/feed", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream outlives the client timeout.
	httpClient := *c.httpClient
	httpClient.Timeout = 0
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	var event string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: ") && event == "update":
			var u reconcile.Update
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &u); err != nil {
				c.logger.Warn("failed to decode feed update", "error", err)
				continue
			}
			fn(u)
		case line == "":
			event = ""
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("stream failed: %w", err)
	}
	return nil
}

// do sends a JSON request and decodes a JSON response into out when the
// server answers with want.
func (c *Client) do(ctx context.Context, method, path string, in any, want int, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return c.parseErrorResponse(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// parseErrorResponse turns an error response into an error, wrapping
// ErrNotFound and ErrConflict for 404 and 409.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		msg = errResp.Error
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrConflict, msg)
	}
	return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, msg)
}
