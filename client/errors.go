package client

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrUnavailable = errors.New("upstream unavailable")
)

// HTTPError is returned for any non-2xx response.
type HTTPError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.URL, e.StatusCode, e.Body)
}

// IsNotFound reports whether the response was a 404.
func (e *HTTPError) IsNotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

func (e *HTTPError) Unwrap() error {
	switch {
	case e.IsNotFound():
		return ErrNotFound
	case e.StatusCode >= 500:
		return ErrUnavailable
	}
	return nil
}

// RateLimitError is returned when the host keeps answering 429 after all
// retries were spent.
type RateLimitError struct {
	URL        string
	RetryAfter int // seconds, 0 if the host did not say
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %ds", e.URL, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.URL)
}

// DecodeError wraps a malformed response body.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
