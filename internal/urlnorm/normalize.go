// Package urlnorm derives the cache key used to de-duplicate scrape results.
package urlnorm

import (
	"net/url"
	"strings"
)

// Normalize returns the canonical key for rawURL: lower-cased host without a
// leading "www." followed by the lower-cased path without a trailing slash.
// Scheme, port, query and fragment are dropped. Input that does not parse as
// an absolute URL falls back to prefix stripping on the raw string, so
// Normalize never fails.
func Normalize(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return fallback(rawURL)
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	p := strings.TrimSuffix(u.EscapedPath(), "/")
	return strings.ToLower(host + p)
}

func fallback(raw string) string {
	s := strings.ToLower(raw)
	if strings.HasPrefix(s, "https://") {
		s = strings.TrimPrefix(s, "https://")
	} else {
		s = strings.TrimPrefix(s, "http://")
	}
	s = strings.TrimPrefix(s, "www.")
	return strings.TrimSuffix(s, "/")
}
