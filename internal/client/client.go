// Package client is a typed HTTP client for the flock API. Reads are
// retried with exponential backoff; writes are sent exactly once.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dukerupert/flock/internal/envelope"
)

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = 200 * time.Millisecond
	maxDelay          = 5 * time.Second
	maxResponseBytes  = 4 << 20
)

// APIError is a non-success response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("flock api: %d %s", e.Status, e.Message)
}

// IsUnauthorized reports whether err is a 401 from the server. Callers
// typically drop their token and send the user back to login.
func IsUnauthorized(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == http.StatusUnauthorized
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries uint64
	baseDelay  time.Duration

	mu    sync.RWMutex
	token string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithMaxRetries caps how many times a read is retried after the first
// attempt. Zero disables retries.
func WithMaxRetries(n uint64) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithBaseDelay sets the first backoff delay; later delays double.
func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = d
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// do sends one request and returns the envelope's data field.
func (c *Client) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	env, decodeErr := envelope.Decode(raw)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := http.StatusText(resp.StatusCode)
		if decodeErr == nil && env.Error != "" {
			msg = env.Error
		}
		return nil, &APIError{Status: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode response: %w", decodeErr)
	}
	if !env.Success {
		return nil, &APIError{Status: resp.StatusCode, Message: env.Error}
	}
	return env.Data, nil
}

// retryable reports whether a failed read may succeed if repeated:
// transport failures, 5xx and 429. A cancelled context never is.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Status >= 500 || ae.Status == http.StatusTooManyRequests
	}
	return true
}

func (c *Client) backoff() retry.Backoff {
	b := retry.NewExponential(c.baseDelay)
	b = retry.WithCappedDuration(maxDelay, b)
	b = retry.WithJitterPercent(10, b)
	return retry.WithMaxRetries(c.maxRetries, b)
}

func decodeData[T any](data json.RawMessage) (T, error) {
	var v T
	if len(data) == 0 || string(data) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode data: %w", err)
	}
	return v, nil
}

// Query GETs path and decodes the data field into T, retrying transient
// failures.
func Query[T any](ctx context.Context, c *Client, path string) (T, error) {
	var data json.RawMessage
	err := retry.Do(ctx, c.backoff(), func(ctx context.Context) error {
		d, err := c.do(ctx, http.MethodGet, path, nil)
		if err != nil {
			if retryable(ctx, err) {
				return retry.RetryableError(err)
			}
			return err
		}
		data = d
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return decodeData[T](data)
}

// Mutate sends body with method and decodes the data field into T. It is
// never retried; the server may already have applied the change.
func Mutate[T any](ctx context.Context, c *Client, method, path string, body any) (T, error) {
	data, err := c.do(ctx, method, path, body)
	if err != nil {
		var zero T
		return zero, err
	}
	return decodeData[T](data)
}
