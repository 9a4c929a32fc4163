package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Client provides HTTP client functionality to communicate with a botvisor daemon
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:5000/api",
		Timeout: 60 * time.Second,
	}
}

// New creates a new botvisor API client
func New(config Config) *Client {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	var r Response
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, &r); err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	return r.Success
}

// List returns every bot after the daemon reconciled liveness.
func (c *Client) List(ctx context.Context) ([]Bot, error) {
	var bots []Bot
	if err := c.do(ctx, http.MethodGet, "/bots", nil, &bots); err != nil {
		return nil, err
	}
	return bots, nil
}

// Add registers the entry script at path.
func (c *Client) Add(ctx context.Context, path string) (Response, error) {
	c.logger.Debug("Adding bot", "path", path)
	body, err := json.Marshal(map[string]string{"path": path})
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}
	var r Response
	err = c.do(ctx, http.MethodPost, "/bots/add", body, &r)
	return r, err
}

// Start launches the bot at index idx.
func (c *Client) Start(ctx context.Context, idx int) (Response, error) {
	return c.action(ctx, http.MethodPost, "/bots/"+strconv.Itoa(idx)+"/start")
}

// Stop terminates the bot at index idx. The daemon may hold the request
// for the whole grace period.
func (c *Client) Stop(ctx context.Context, idx int) (Response, error) {
	return c.action(ctx, http.MethodPost, "/bots/"+strconv.Itoa(idx)+"/stop")
}

// Delete stops and removes the bot at index idx.
func (c *Client) Delete(ctx context.Context, idx int) (Response, error) {
	return c.action(ctx, http.MethodDelete, "/bots/"+strconv.Itoa(idx))
}

// Logs returns the log ring, oldest first.
func (c *Client) Logs(ctx context.Context) ([]LogEntry, error) {
	var entries []LogEntry
	if err := c.do(ctx, http.MethodGet, "/logs", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// LogLines returns the log ring preformatted as "[timestamp] source: message".
func (c *Client) LogLines(ctx context.Context) ([]string, error) {
	var lines []string
	if err := c.do(ctx, http.MethodGet, "/logs?format=lines", nil, &lines); err != nil {
		return nil, err
	}
	return lines, nil
}

func (c *Client) action(ctx context.Context, method, path string) (Response, error) {
	c.logger.Debug("Bot action", "method", method, "path", path)
	var r Response
	err := c.do(ctx, method, path, nil, &r)
	return r, err
}

// do performs HTTP request with common error handling and decodes a 200
// body into out.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", url)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.handleErrorResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	var errorResp Response
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		c.logger.Error("Failed to decode error response", "status", resp.StatusCode)
		return &APIError{Status: resp.StatusCode}
	}

	c.logger.Debug("API request failed", "error", errorResp.Message, "status", resp.StatusCode)
	return &APIError{Status: resp.StatusCode, Message: errorResp.Message}
}

func itoa(n int) string { return strconv.Itoa(n) }
