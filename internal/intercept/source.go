// Package intercept applies the manifest pipeline to responses observed by a
// host request pipeline.
package intercept

import (
	"fmt"
	"regexp"
	"strings"
)

// Response is one completed response seen by a ResponseSource.
type Response interface {
	// URL is the request URL the response belongs to.
	URL() string
	// Text returns the response body as text.
	Text() (string, error)
	// Replace swaps the body the caller will eventually observe.
	Replace(text string) error
}

// Handler is called once per completed matching response.
type Handler func(Response)

// ResponseSource is a host capability that exposes completed responses.
type ResponseSource interface {
	// Matches reports whether requests to url are intercepted at all.
	Matches(url string) bool
	// OnComplete registers a handler for completed matching responses.
	OnComplete(h Handler)
}

// Matcher recognizes manifest URLs on one host:
// https://<host>/<path>.m3u8 with an optional query, case-insensitively.
type Matcher struct {
	host string
	re   *regexp.Regexp
}

// NewMatcher builds a Matcher for host (a host name with optional port).
func NewMatcher(host string) (*Matcher, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, fmt.Errorf("manifest host is required")
	}
	if strings.ContainsAny(host, "/?#") {
		return nil, fmt.Errorf("invalid manifest host %q", host)
	}

	re, err := regexp.Compile(`(?i)^https://` + regexp.QuoteMeta(host) + `/.+\.m3u8(\?.*)?$`)
	if err != nil {
		return nil, fmt.Errorf("compile manifest pattern: %w", err)
	}

	return &Matcher{host: host, re: re}, nil
}

// Matches reports whether url is a manifest URL on the configured host.
func (m *Matcher) Matches(url string) bool {
	return m.re.MatchString(url)
}

// Host returns the host the matcher was built for.
func (m *Matcher) Host() string {
	return m.host
}
