// Package client is the HTTP client shared by the source control drivers.
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

	"github.com/cenk/backoff"

	"github.com/git-pkgs/mirror/fetch"
)

const maxErrorBody = 1024

// Response is a fully read HTTP response.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client performs GET and HEAD requests with retries on 429 and 5xx.
type Client struct {
	http       *http.Client
	userAgent  string
	header     http.Header
	maxRetries int
	baseDelay  time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

// WithMaxRetries sets how many times a request is retried.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithBaseDelay sets the first backoff interval.
func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = d
	}
}

// WithTransport replaces the round tripper, e.g. with a fetch.Breakers.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.http.Transport = rt
	}
}

// NewClient creates a client. Without options it uses the DNS caching
// transport from the fetch package.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: fetch.NewTransport(),
		},
		userAgent:  "mirror",
		header:     http.Header{},
		maxRetries: 3,
		baseDelay:  500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultClient returns a client with default settings.
func DefaultClient() *Client {
	return NewClient()
}

// WithUserAgent returns a copy of the client sending ua.
func (c *Client) WithUserAgent(ua string) *Client {
	cp := c.clone()
	cp.userAgent = ua
	return cp
}

// WithHeader returns a copy of the client that adds key: value to every
// request. Drivers use it for credentials.
func (c *Client) WithHeader(key, value string) *Client {
	cp := c.clone()
	cp.header.Set(key, value)
	return cp
}

// WithBasicAuth returns a copy of the client authenticating as user.
func (c *Client) WithBasicAuth(user, password string) *Client {
	req := &http.Request{Header: http.Header{}}
	req.SetBasicAuth(user, password)
	return c.WithHeader("Authorization", req.Header.Get("Authorization"))
}

func (c *Client) clone() *Client {
	cp := *c
	cp.header = c.header.Clone()
	return &cp
}

// Get fetches url, retrying on 429 and 5xx. Any non-2xx final response is
// returned as *HTTPError.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	return c.do(ctx, http.MethodGet, url)
}

// GetBody fetches url and returns the body.
func (c *Client) GetBody(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// GetText fetches url and returns the body as a string.
func (c *Client) GetText(ctx context.Context, url string) (string, error) {
	body, err := c.GetBody(ctx, url)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// GetJSON fetches url and decodes the body into v.
func (c *Client) GetJSON(ctx context.Context, url string, v any) error {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	return resp.DecodeJSON(v)
}

// Head issues a HEAD request and returns the response headers.
func (c *Client) Head(ctx context.Context, url string) (http.Header, error) {
	resp, err := c.do(ctx, http.MethodHead, url)
	if err != nil {
		return nil, err
	}
	return resp.Header, nil
}

func (c *Client) do(ctx context.Context, method, url string) (*Response, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.baseDelay
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := b.NextBackOff()
			if ra := retryAfter(lastErr); ra > delay {
				delay = ra
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		resp, err := c.once(ctx, method, url)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) once(ctx context.Context, method, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	for k, vs := range c.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		secs, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return nil, &RateLimitError{URL: url, RetryAfter: secs}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &HTTPError{StatusCode: resp.StatusCode, URL: url, Body: strings.TrimSpace(string(body))}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	return &Response{URL: url, StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// DecodeJSON decodes the body into v.
func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return &DecodeError{URL: r.URL, Err: err}
	}
	return nil
}

func retryable(err error) bool {
	if _, ok := err.(*RateLimitError); ok {
		return true
	}
	if httpErr, ok := err.(*HTTPError); ok {
		return httpErr.StatusCode >= 500
	}
	return false
}

func retryAfter(err error) time.Duration {
	if rl, ok := err.(*RateLimitError); ok && rl.RetryAfter > 0 {
		return time.Duration(rl.RetryAfter) * time.Second
	}
	return 0
}
