// Package client talks to the chat API: it submits turns, folds the streamed
// artifact deltas into a draft and follows conversation push channels.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/capitalize-ai/canvas-chat/pkg/logger"
)

// DefaultReconnectDelay is the pause before reopening a dropped push channel.
const DefaultReconnectDelay = 2 * time.Second

// DefaultIdleTimeout is how long a push channel may stay silent before it is
// considered dead. Servers send a heartbeat every 15 seconds.
const DefaultIdleTimeout = 45 * time.Second

// Config configures a Client.
type Config struct {
	BaseURL        string
	Token          string
	HTTPClient     *http.Client
	ReconnectDelay time.Duration
	IdleTimeout    time.Duration
	Logger         *logger.Logger
}

// Client is an API client bound to one user token.
type Client struct {
	baseURL        string
	token          string
	http           *http.Client
	reconnectDelay time.Duration
	idleTimeout    time.Duration
	logger         *logger.Logger
}

// New creates a client.
func New(cfg Config) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		token:          cfg.Token,
		http:           cfg.HTTPClient,
		reconnectDelay: cfg.ReconnectDelay,
		idleTimeout:    cfg.IdleTimeout,
		logger:         cfg.Logger,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.reconnectDelay <= 0 {
		c.reconnectDelay = DefaultReconnectDelay
	}
	if c.idleTimeout <= 0 {
		c.idleTimeout = DefaultIdleTimeout
	}
	if c.logger == nil {
		c.logger = logger.NewNop()
	}
	return c
}

// APIError is a non-success response.
type APIError struct {
	Status     int
	Message    string
	RetryAfter int
}

func (e *APIError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("api error %d: %s (retry after %ds)", e.Status, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// apiError reads an error response body.
func apiError(resp *http.Response) error {
	e := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	e.RetryAfter, _ = strconv.Atoi(resp.Header.Get("Retry-After"))

	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		e.Message = body.Error
	}
	return e
}
