package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ErrUnhandled is returned for jobs no handler supports.
var ErrUnhandled = errors.New("no handler supports job")

// Failure is a job whose handler returned an error.
type Failure struct {
	Job *Job
	Err error
}

// BatchError reports the failures of one Receive call.
type BatchError struct {
	Failures []Failure
	Finish   error
}

func (e *BatchError) Error() string {
	var parts []string
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Job, f.Err))
	}
	if e.Finish != nil {
		parts = append(parts, fmt.Sprintf("finish: %v", e.Finish))
	}
	return strings.Join(parts, "; ")
}

func (e *BatchError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures)+1)
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	if e.Finish != nil {
		errs = append(errs, e.Finish)
	}
	return errs
}

// For returns the error job failed with, or nil.
func (e *BatchError) For(job *Job) error {
	for _, f := range e.Failures {
		if f.Job == job {
			return f.Err
		}
	}
	return nil
}

// Failed reports whether job is among the failures.
func (e *BatchError) Failed(job *Job) bool {
	return e.For(job) != nil
}

// Dispatcher routes jobs to the handlers that support them.
type Dispatcher struct {
	handlers []Handler
	logger   *slog.Logger
}

func NewDispatcher(logger *slog.Logger, handlers ...Handler) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dispatcher{handlers: handlers, logger: logger}
}

// Receive hands each job to every handler that supports it, in order, then
// calls Finish once on each handler that saw a job. Handler errors do not
// stop the batch; they are returned together as a *BatchError.
func (d *Dispatcher) Receive(ctx context.Context, jobs []*Job) error {
	used := make([]bool, len(d.handlers))
	var batchErr BatchError

	for _, job := range jobs {
		handled := false
		for i, h := range d.handlers {
			if !h.Supports(job) {
				continue
			}
			handled = true
			used[i] = true
			if err := h.Handle(ctx, job); err != nil {
				d.logger.Error("job failed", "job", job.String(), "error", err)
				batchErr.Failures = append(batchErr.Failures, Failure{Job: job, Err: err})
			}
		}
		if !handled {
			d.logger.Warn("unhandled job", "job", job.String())
			batchErr.Failures = append(batchErr.Failures, Failure{Job: job, Err: fmt.Errorf("%s: %w", job.Type, ErrUnhandled)})
		}
	}

	var finishErrs []error
	for i, h := range d.handlers {
		if !used[i] {
			continue
		}
		if err := h.Finish(ctx); err != nil {
			finishErrs = append(finishErrs, err)
		}
	}
	batchErr.Finish = errors.Join(finishErrs...)

	if len(batchErr.Failures) == 0 && batchErr.Finish == nil {
		return nil
	}
	return &batchErr
}
