// Package sink records processing errors into the session-tier error log,
// with optional forwarding to Sentry. The sink is write-only from the core's
// point of view; nothing reads it back on the hot path.
package sink

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/m-mizutani/ctxlog"

	"github.com/takakanai/github-issue-linker/pkg/domain/interfaces"
	"github.com/takakanai/github-issue-linker/pkg/domain/model"
)

// Sink implements interfaces.ErrorSink
type Sink struct {
	storage interfaces.Storage
	sentry  bool
}

// Option configures a Sink
type Option func(*Sink)

// WithSentry forwards captured errors to the initialized Sentry client.
// Callers are responsible for sentry.Init.
func WithSentry() Option {
	return func(s *Sink) { s.sentry = true }
}

// New creates an error sink backed by the session storage tier
func New(storage interfaces.Storage, opts ...Option) *Sink {
	s := &Sink{storage: storage}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Capture logs the error and appends it to the session-tier error window.
// A storage failure is logged to the console only; nothing is retried.
func (s *Sink) Capture(ctx context.Context, err error, component string) {
	logger := ctxlog.From(ctx)
	logger.Error("processing error", "component", component, "error", err)

	if s.storage != nil {
		entry := model.ErrorLog{
			Message:    err.Error(),
			Component:  component,
			RecordedAt: time.Now(),
		}
		if serr := s.storage.AppendErrorLog(ctx, entry); serr != nil {
			logger.Warn("failed to record error log", "error", serr)
		}
	}

	if s.sentry {
		sentry.CaptureException(err)
	}
}
