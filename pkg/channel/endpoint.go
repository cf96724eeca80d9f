package channel

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

const DefaultPath = "/ws"

// EndpointURL derives the socket URL served by origin: same host and port,
// fixed path, scheme upgraded http->ws and https->wss. A bare host:port is
// treated as plain http.
func EndpointURL(origin, path string) (string, error) {
	if !strings.Contains(origin, "://") {
		origin = "http://" + origin
	}
	u, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("parse origin %q: %w", origin, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
		u.Host = normalizeHostPort(u.Host, "80")
	case "https", "wss":
		u.Scheme = "wss"
		u.Host = normalizeHostPort(u.Host, "443")
	default:
		return "", fmt.Errorf("origin %q: unsupported scheme %q", origin, u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("origin %q: missing host", origin)
	}
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u.Path = path
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}

// normalizeHostPort adds defPort when addr has none.
func normalizeHostPort(addr, defPort string) string {
	if addr == "" {
		return addr
	}
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(strings.Trim(addr, "[]"), defPort)
}
