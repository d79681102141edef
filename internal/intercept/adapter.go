package intercept

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/agleyzer/qualityfix/internal/manifest"
	"github.com/agleyzer/qualityfix/internal/metrics"
	"github.com/agleyzer/qualityfix/internal/notify"
	"github.com/agleyzer/qualityfix/internal/selection"
)

// Adapter runs the manifest pipeline on intercepted responses. It fails
// open: any error or panic leaves the response as it was.
type Adapter struct {
	store    selection.Store
	notifier notify.Notifier
	logger   *slog.Logger
	enabled  bool
	verify   bool
	now      func() time.Time

	handled   atomic.Uint64
	rewritten atomic.Uint64
	failed    atomic.Uint64
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithEnabled turns rewriting on or off. A disabled adapter passes every
// response through.
func WithEnabled(enabled bool) Option {
	return func(a *Adapter) { a.enabled = enabled }
}

// WithVerify re-parses each rewritten manifest before committing it.
func WithVerify(verify bool) Option {
	return func(a *Adapter) { a.verify = verify }
}

// WithClock overrides the time source used for selection timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// New creates an Adapter that records selections in store and reports them to notifier.
func New(store selection.Store, notifier notify.Notifier, logger *slog.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		store:    store,
		notifier: notifier,
		logger:   logger,
		enabled:  true,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Attach registers the adapter with a response source.
func (a *Adapter) Attach(src ResponseSource) {
	src.OnComplete(a.Handle)
}

// stageError tags a failure with the pipeline stage it happened in.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

// Handle processes one completed response. It never panics.
func (a *Adapter) Handle(resp Response) {
	if !a.enabled {
		return
	}
	a.handled.Add(1)

	defer func() {
		if r := recover(); r != nil {
			a.failed.Add(1)
			metrics.RecordFailure("panic")
			a.logger.Error("manifest processing panicked, passing original through",
				"url", resp.URL(), "panic", r)
		}
	}()

	if err := a.process(resp); err != nil {
		a.failed.Add(1)
		stage := "unknown"
		if se, ok := err.(*stageError); ok {
			stage = se.stage
		}
		metrics.RecordFailure(stage)
		a.logger.Warn("manifest processing failed, passing original through",
			"url", resp.URL(), "stage", stage, "error", err)
	}
}

func (a *Adapter) process(resp Response) error {
	text, err := resp.Text()
	if err != nil {
		return &stageError{stage: "read", err: err}
	}

	res := manifest.Process(text)
	metrics.RecordInspected(res.Kind.String())

	if !res.Rewritten {
		a.logger.Debug("manifest passed through",
			"url", resp.URL(), "kind", res.Kind.String(), "variants", len(res.Variants))
		return nil
	}

	selected := *res.Selected
	trace := uuid.NewString()
	logger := a.logger.With("trace", trace, "url", resp.URL())

	if a.verify {
		if err := manifest.Verify(res.Output, selected); err != nil {
			return &stageError{stage: "verify", err: err}
		}
	}

	if err := resp.Replace(res.Output); err != nil {
		return &stageError{stage: "replace", err: fmt.Errorf("replace response text: %w", err)}
	}

	a.rewritten.Add(1)
	metrics.RecordRewrite(selected.Label, res.Dropped)

	sel, err := a.store.Set(selected.Label, a.now())
	if err != nil {
		// The rewritten text is already committed; only the display state is stale
		metrics.RecordFailure("state")
		logger.Warn("failed to record selection", "label", selected.Label, "error", err)
	}

	logger.Info("master manifest rewritten",
		"variants", len(res.Variants),
		"dropped", res.Dropped,
		"bandwidth", selected.Bandwidth,
		"label", selected.Label,
		"version", sel.Version,
	)

	a.notifier.Notify(selected.Label)
	return nil
}

// Stats returns counters for the health endpoint.
func (a *Adapter) Stats() map[string]interface{} {
	return map[string]interface{}{
		"enabled":   a.enabled,
		"verify":    a.verify,
		"handled":   a.handled.Load(),
		"rewritten": a.rewritten.Load(),
		"failed":    a.failed.Load(),
	}
}
