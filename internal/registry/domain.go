package registry

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidURL is returned when an ingest target cannot be parsed into a host.
var ErrInvalidURL = errors.New("invalid url")

// ParseTarget accepts a bare domain or a URL and returns the seed URL plus the
// registry key for it. The key is the lowercased host without a leading "www.".
func ParseTarget(raw string) (seedURL string, domain string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	u.Host = strings.ToLower(u.Host)
	u.Scheme = strings.ToLower(u.Scheme)
	u.Fragment = ""
	return u.String(), NormalizeDomain(host), nil
}

// NormalizeDomain lowercases a host and strips a leading "www.".
func NormalizeDomain(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	return strings.TrimPrefix(host, "www.")
}

// HostMatches reports whether host belongs to domain, ignoring a "www." prefix
// and allowing subdomains.
func HostMatches(host, domain string) bool {
	host = NormalizeDomain(host)
	domain = NormalizeDomain(domain)
	if host == "" || domain == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}
