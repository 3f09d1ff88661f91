package fetch

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"
)

// ErrCircuitOpen is returned while a host's breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Breakers is an http.RoundTripper that keeps one circuit breaker per host.
// Connection errors, 429 and 5xx responses count as failures.
type Breakers struct {
	next      http.RoundTripper
	threshold int64
	breakers  map[string]*circuit.Breaker
	mu        sync.RWMutex
}

// NewBreakers wraps next. If next is nil, NewTransport() is used. A host
// trips after threshold consecutive failures; values below 1 mean 5.
func NewBreakers(next http.RoundTripper, threshold int) *Breakers {
	if next == nil {
		next = NewTransport()
	}
	if threshold < 1 {
		threshold = 5
	}
	return &Breakers{
		next:      next,
		threshold: int64(threshold),
		breakers:  make(map[string]*circuit.Breaker),
	}
}

func (b *Breakers) breaker(host string) *circuit.Breaker {
	b.mu.RLock()
	breaker, exists := b.breakers[host]
	b.mu.RUnlock()

	if exists {
		return breaker
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if breaker, exists := b.breakers[host]; exists {
		return breaker
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	breaker = circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(b.threshold),
	})
	b.breakers[host] = breaker
	return breaker
}

// RoundTrip implements http.RoundTripper.
func (b *Breakers) RoundTrip(req *http.Request) (*http.Response, error) {
	host := hostOf(req.URL)
	breaker := b.breaker(host)

	if !breaker.Ready() {
		return nil, fmt.Errorf("%s: %w", host, ErrCircuitOpen)
	}

	resp, err := b.next.RoundTrip(req)
	switch {
	case err != nil:
		breaker.Fail()
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		breaker.Fail()
	default:
		breaker.Success()
	}
	return resp, err
}

// State reports "open" or "closed" per host seen so far.
func (b *Breakers) State() map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	states := make(map[string]string, len(b.breakers))
	for host, breaker := range b.breakers {
		if breaker.Tripped() {
			states[host] = "open"
		} else {
			states[host] = "closed"
		}
	}
	return states
}

func hostOf(u *url.URL) string {
	if u == nil || u.Host == "" {
		return "unknown"
	}
	return u.Host
}
