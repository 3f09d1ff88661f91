package fetch

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func get(t *testing.T, rt http.RoundTripper, rawURL string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	return rt.RoundTrip(req)
}

func TestBreakersSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("test content"))
	}))
	defer server.Close()

	b := NewBreakers(nil, 0)
	resp, err := get(t, b, server.URL+"/composer.json")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "test content" {
		t.Errorf("expected 'test content', got %q", string(body))
	}
}

func TestBreakersState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	b := NewBreakers(nil, 0)

	if states := b.State(); len(states) != 0 {
		t.Errorf("expected empty states, got %d entries", len(states))
	}

	resp, err := get(t, b, server.URL+"/test")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	_ = resp.Body.Close()

	states := b.State()
	if len(states) != 1 {
		t.Fatalf("expected one breaker state, got %v", states)
	}
	for host, state := range states {
		if state != "closed" {
			t.Errorf("%s: expected closed state, got %s", host, state)
		}
	}
}

func TestBreakersMultipleHosts(t *testing.T) {
	server1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("server1"))
	}))
	defer server1.Close()

	server2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("server2"))
	}))
	defer server2.Close()

	b := NewBreakers(nil, 0)
	for _, u := range []string{server1.URL, server2.URL} {
		resp, err := get(t, b, u+"/test")
		if err != nil {
			t.Fatalf("request to %s failed: %v", u, err)
		}
		_ = resp.Body.Close()
	}

	if states := b.State(); len(states) != 2 {
		t.Errorf("expected 2 breaker states, got %d", len(states))
	}
}

func TestBreakersOpenOnFailures(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	b := NewBreakers(nil, 3)

	var lastErr error
	for range 10 {
		resp, err := get(t, b, server.URL+"/test")
		if err != nil {
			lastErr = err
			continue
		}
		_ = resp.Body.Close()
	}

	if !errors.Is(lastErr, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", lastErr)
	}
	if requests != 3 {
		t.Errorf("requests = %d, want 3 before the breaker opened", requests)
	}

	u, _ := url.Parse(server.URL)
	if b.State()[u.Host] != "open" {
		t.Errorf("state = %v, want open", b.State())
	}
}

func TestHostOf(t *testing.T) {
	tests := []struct {
		url      string
		expected string
	}{
		{"https://api.github.com/repos/acme/widget", "api.github.com"},
		{"https://example.com:8080/path", "example.com:8080"},
		{"/relative", "unknown"},
	}

	for _, tt := range tests {
		u, _ := url.Parse(tt.url)
		if got := hostOf(u); got != tt.expected {
			t.Errorf("hostOf(%q) = %q, want %q", tt.url, got, tt.expected)
		}
	}
}
