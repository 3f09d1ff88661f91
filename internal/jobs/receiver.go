// Package jobs implements the handlers that drive the mirror: repository
// scans, version refreshes, deletions and version document builds.
package jobs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/git-pkgs/mirror/internal/core"
	"github.com/git-pkgs/mirror/internal/queue"
)

const (
	DefaultRetryIncrement = 10 * time.Second
	DefaultMaxDelay       = 900 * time.Second
	DefaultBuildDelay     = 5 * time.Second
)

type Config struct {
	// RetryIncrement is added to a job's accumulated delay on every retry.
	RetryIncrement time.Duration
	// MaxDelay caps the delay a job is re-enqueued with.
	MaxDelay time.Duration
	// BuildDelay postpones version document builds so bursts of refreshes
	// share one build.
	BuildDelay time.Duration
}

func (c Config) withDefaults() Config {
	switch {
	case c.RetryIncrement <= 0:
		c.RetryIncrement = DefaultRetryIncrement
	case c.RetryIncrement < time.Second:
		// retry_delay counts whole seconds
		c.RetryIncrement = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.BuildDelay < 0 {
		c.BuildDelay = 0
	}
	return c
}

// retry returns the copy of job to re-enqueue and the delay to send it with.
func (c Config) retry(job *queue.Job) (*queue.Job, time.Duration) {
	next := job.Clone()
	next.RetryDelay += int(c.RetryIncrement / time.Second)
	return next, min(time.Duration(next.RetryDelay)*time.Second, c.MaxDelay)
}

// Receiver wraps a handler with the retry contract: transient failures
// re-enqueue a copy of the job with a longer delay, everything else is
// returned to the caller.
type Receiver struct {
	handler   queue.Handler
	transport queue.Transport
	config    Config
	logger    *slog.Logger
}

func NewReceiver(h queue.Handler, transport queue.Transport, cfg Config, logger *slog.Logger) *Receiver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Receiver{handler: h, transport: transport, config: cfg.withDefaults(), logger: logger}
}

func (r *Receiver) Supports(job *queue.Job) bool {
	return r.handler.Supports(job)
}

func (r *Receiver) Handle(ctx context.Context, job *queue.Job) error {
	err := r.handler.Handle(ctx, job)
	if err == nil || !core.IsTransient(err) {
		return err
	}

	retry, delay := r.config.retry(job)

	if serr := r.transport.Send(ctx, retry, delay); serr != nil {
		return fmt.Errorf("re-enqueueing %s after %v: %w", job, err, serr)
	}
	r.logger.Warn("job retried",
		"job", job.String(),
		"retry_delay", retry.RetryDelay,
		"delay", delay,
		"error", err,
	)
	return nil
}

func (r *Receiver) Finish(ctx context.Context) error {
	return r.handler.Finish(ctx)
}
