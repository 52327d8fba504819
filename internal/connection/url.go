package connection

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL maps an http(s) endpoint onto the matching ws(s) scheme.
// ws and wss URLs pass through unchanged.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
		u.Scheme = strings.ToLower(u.Scheme)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedURL, u.Scheme)
	}

	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host in %q", ErrUnsupportedURL, raw)
	}
	return u.String(), nil
}
