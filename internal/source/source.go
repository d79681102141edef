// Package source loads manifest text from a file, standard input or an HTTP(S) URL.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// ErrTooLarge is returned when a manifest exceeds the loader's size limit.
var ErrTooLarge = errors.New("manifest too large")

// Document is loaded manifest text.
type Document struct {
	// Text is the raw manifest
	Text string

	// URL is set when the manifest was fetched over HTTP
	URL string
}

// Resolve resolves a variant URI against the document URL. Without a URL
// the URI is returned as is.
func (d *Document) Resolve(uri string) (string, error) {
	if d.URL == "" {
		return uri, nil
	}
	return resolveURL(d.URL, uri)
}

// Loader reads manifests.
type Loader struct {
	Client   *http.Client
	Stdin    io.Reader
	MaxBytes int64
}

// NewLoader creates a Loader with an HTTP client using timeout.
func NewLoader(timeout time.Duration, maxBytes int64) *Loader {
	return &Loader{
		Client: &http.Client{
			Timeout: timeout,
		},
		Stdin:    os.Stdin,
		MaxBytes: maxBytes,
	}
}

// Load reads arg: "-" (or empty) is standard input, http:// and https://
// are fetched, anything else is a file path.
func (l *Loader) Load(ctx context.Context, arg string) (*Document, error) {
	switch {
	case arg == "" || arg == "-":
		text, err := l.read(l.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return &Document{Text: text}, nil

	case isURL(arg):
		return l.fetch(ctx, arg)

	default:
		f, err := os.Open(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to open manifest: %w", err)
		}
		defer f.Close()

		text, err := l.read(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", arg, err)
		}
		return &Document{Text: text}, nil
	}
}

func (l *Loader) fetch(ctx context.Context, manifestURL string) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := l.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch manifest: HTTP %d", resp.StatusCode)
	}

	text, err := l.read(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	return &Document{Text: text, URL: resp.Request.URL.String()}, nil
}

func (l *Loader) read(r io.Reader) (string, error) {
	if l.MaxBytes <= 0 {
		b, err := io.ReadAll(r)
		return string(b), err
	}

	b, err := io.ReadAll(io.LimitReader(r, l.MaxBytes+1))
	if err != nil {
		return "", err
	}
	if int64(len(b)) > l.MaxBytes {
		return "", fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, l.MaxBytes)
	}
	return string(b), nil
}

func isURL(arg string) bool {
	lower := strings.ToLower(arg)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// resolveURL resolves a possibly relative URL against a base URL.
func resolveURL(baseURL, relativeURL string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}

	rel, err := url.Parse(relativeURL)
	if err != nil {
		return "", fmt.Errorf("invalid relative URL: %w", err)
	}

	return base.ResolveReference(rel).String(), nil
}
