// Package proxy forwards player requests to the manifest host and exposes
// completed manifest responses to interception handlers.
package proxy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"sync"

	"github.com/agleyzer/qualityfix/internal/intercept"
)

// DefaultMaxBody is the largest manifest buffered for interception.
const DefaultMaxBody = 4 << 20

// URLMatcher decides which upstream URLs are intercepted.
type URLMatcher interface {
	Matches(url string) bool
}

// Proxy is a reverse proxy and an intercept.ResponseSource.
type Proxy struct {
	upstream *url.URL
	matcher  URLMatcher
	logger   *slog.Logger
	maxBody  int64
	rp       *httputil.ReverseProxy

	mu       sync.RWMutex
	handlers []intercept.Handler
}

// Option configures a Proxy.
type Option func(*Proxy)

// WithTransport sets the transport used for upstream requests.
func WithTransport(rt http.RoundTripper) Option {
	return func(p *Proxy) { p.rp.Transport = rt }
}

// WithMaxBody caps the size of buffered manifests. Larger bodies stream
// through untouched.
func WithMaxBody(n int64) Option {
	return func(p *Proxy) {
		if n > 0 {
			p.maxBody = n
		}
	}
}

// New creates a Proxy forwarding to upstream.
func New(upstream *url.URL, matcher URLMatcher, logger *slog.Logger, opts ...Option) *Proxy {
	p := &Proxy{
		upstream: upstream,
		matcher:  matcher,
		logger:   logger,
		maxBody:  DefaultMaxBody,
	}

	p.rp = &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(upstream)
			// Let the transport negotiate and decode compression so bodies arrive as text
			r.Out.Header.Del("Accept-Encoding")
		},
		ModifyResponse: p.modifyResponse,
		ErrorHandler:   p.handleError,
		ErrorLog:       slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ServeHTTP forwards the request upstream.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.rp.ServeHTTP(w, r)
}

// Matches reports whether responses for url are intercepted.
func (p *Proxy) Matches(url string) bool {
	return p.matcher.Matches(url)
}

// OnComplete registers a handler for completed matching responses.
func (p *Proxy) OnComplete(h intercept.Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, h)
}

func (p *Proxy) currentHandlers() []intercept.Handler {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.handlers
}

func (p *Proxy) modifyResponse(resp *http.Response) error {
	// HEAD responses carry the upstream length but no body
	if resp.StatusCode != http.StatusOK || resp.Request.Method != http.MethodGet {
		return nil
	}

	upstreamURL := resp.Request.URL.String()
	if !p.Matches(upstreamURL) {
		return nil
	}

	handlers := p.currentHandlers()
	if len(handlers) == 0 {
		return nil
	}

	buf, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBody+1))
	if err != nil {
		resp.Body.Close()
		return fmt.Errorf("failed to read manifest body: %w", err)
	}

	if int64(len(buf)) > p.maxBody {
		p.logger.Warn("manifest too large to intercept, streaming through",
			"url", upstreamURL, "limit", p.maxBody)
		resp.Body = &replayBody{
			Reader: io.MultiReader(bytes.NewReader(buf), resp.Body),
			Closer: resp.Body,
		}
		return nil
	}
	resp.Body.Close()

	pr := &response{url: upstreamURL, text: string(buf)}
	for _, h := range handlers {
		h(pr)
	}

	body := pr.body()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
	return nil
}

func (p *Proxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, r.Context().Err()) {
		p.logger.Debug("client went away", "path", r.URL.Path, "error", err)
	} else {
		p.logger.Error("upstream request failed", "path", r.URL.Path, "error", err)
	}
	w.WriteHeader(http.StatusBadGateway)
}

// replayBody reads the buffered prefix and then the rest of the original body.
type replayBody struct {
	io.Reader
	io.Closer
}

// response adapts one buffered upstream response to intercept.Response.
type response struct {
	url      string
	text     string
	replaced *string
}

func (r *response) URL() string { return r.url }

func (r *response) Text() (string, error) { return r.text, nil }

func (r *response) Replace(text string) error {
	r.replaced = &text
	return nil
}

func (r *response) body() []byte {
	if r.replaced != nil {
		return []byte(*r.replaced)
	}
	return []byte(r.text)
}
