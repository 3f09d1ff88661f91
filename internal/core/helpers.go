package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/git-pkgs/mirror/client"
)

// Classify wraps an error returned by the HTTP client with the kind the job
// layer reacts to: NotFound for missing resources, Transport for failures
// worth retrying, Other for everything else (bad credentials, malformed
// responses).
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != Other {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return E(op, Other, err)
	}

	var httpErr *client.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.IsNotFound():
			return E(op, NotFound, err)
		case httpErr.StatusCode == http.StatusTooManyRequests, httpErr.StatusCode >= 500:
			return E(op, Transport, err)
		default:
			return E(op, Other, err)
		}
	}

	var rateErr *client.RateLimitError
	if errors.As(err, &rateErr) || errors.Is(err, client.ErrUnavailable) {
		return E(op, Transport, err)
	}
	if errors.Is(err, client.ErrNotFound) {
		return E(op, NotFound, err)
	}

	var decodeErr *client.DecodeError
	if errors.As(err, &decodeErr) {
		return E(op, Other, err)
	}

	// Anything left is a dial, TLS or read failure.
	return E(op, Transport, err)
}

// DecodeManifest parses a composer.json body. Hosts serve whatever was
// committed, so a syntax error is reported with the identifier it came from.
func DecodeManifest(op, identifier string, body []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, E(op, Other, fmt.Errorf("composer.json at %s: %w", identifier, err))
	}
	if m == nil {
		return nil, E(op, Other, fmt.Errorf("composer.json at %s is not an object", identifier))
	}
	return m, nil
}

// NextLink extracts the URL with rel="next" from an RFC 5988 Link header.
// Returns empty string if no next link is present.
//
// Format: <https://api.github.com/...?page=2>; rel="next", <...>; rel="last"
func NextLink(header string) string {
	if header == "" {
		return ""
	}

	for _, part := range strings.Split(header, ",") {
		segments := strings.SplitN(strings.TrimSpace(part), ";", 2)
		if len(segments) != 2 {
			continue
		}

		urlPart := strings.TrimSpace(segments[0])
		if !strings.Contains(segments[1], `rel="next"`) {
			continue
		}
		if strings.HasPrefix(urlPart, "<") && strings.HasSuffix(urlPart, ">") {
			return urlPart[1 : len(urlPart)-1]
		}
	}

	return ""
}
