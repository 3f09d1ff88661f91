// Package sqlite is a durable job transport on a local SQLite database.
// Jobs become visible after their delay, are leased while a worker handles
// them and are deleted once acknowledged.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/git-pkgs/mirror/internal/core"
	"github.com/git-pkgs/mirror/internal/queue"
)

const (
	DefaultPollInterval = time.Second
	DefaultBatchSize    = 10
	DefaultLease        = 5 * time.Minute
	DefaultMaxAttempts  = 5
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	type       TEXT NOT NULL,
	payload    BLOB NOT NULL,
	visible_at INTEGER NOT NULL,
	attempts   INTEGER NOT NULL DEFAULT 0,
	failed     INTEGER NOT NULL DEFAULT 0,
	last_error TEXT
);
CREATE INDEX IF NOT EXISTS jobs_visible ON jobs (failed, visible_at);
`

type Config struct {
	// Path is the database file. The parent directory must exist.
	Path     string
	PoolSize int

	PollInterval time.Duration
	BatchSize    int
	// Lease is how long a claimed job stays invisible to other workers.
	Lease time.Duration
	// MaxAttempts is how often a failing job is delivered before it is
	// parked as failed.
	MaxAttempts int

	Logger *slog.Logger
}

type Transport struct {
	pool        *sqlitex.Pool
	logger      *slog.Logger
	poll        time.Duration
	batchSize   int
	lease       time.Duration
	maxAttempts int
	now         func() time.Time
}

// Message is a claimed job.
type Message struct {
	ID       int64
	Job      *queue.Job
	Attempts int
}

func Open(cfg Config) (*Transport, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("queue/sqlite: Path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("queue/sqlite: opening %s: %w", cfg.Path, err)
	}

	t := &Transport{
		pool:        pool,
		logger:      logger,
		poll:        orDefault(cfg.PollInterval, DefaultPollInterval),
		batchSize:   cfg.BatchSize,
		lease:       orDefault(cfg.Lease, DefaultLease),
		maxAttempts: cfg.MaxAttempts,
		now:         time.Now,
	}
	if t.batchSize <= 0 {
		t.batchSize = DefaultBatchSize
	}
	if t.maxAttempts <= 0 {
		t.maxAttempts = DefaultMaxAttempts
	}
	logger.Info("job queue opened", "path", cfg.Path, "pool_size", poolSize)
	return t, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func prepareConn(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return sqlitex.ExecuteScript(conn, schema, nil)
}

func (t *Transport) Close() error {
	return t.pool.Close()
}

// classify marks lock contention as overload so callers retry later.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch sqlite.ErrCode(err).ToPrimary() {
	case sqlite.ResultBusy, sqlite.ResultLocked:
		return core.E(op, core.Overload, err)
	}
	return core.E(op, core.Other, err)
}

func (t *Transport) Send(ctx context.Context, job *queue.Job, delay time.Duration) error {
	return t.SendBatch(ctx, []*queue.Job{job}, delay)
}

func (t *Transport) SendBatch(ctx context.Context, jobs []*queue.Job, delay time.Duration) (err error) {
	if len(jobs) == 0 {
		return nil
	}
	payloads := make([][]byte, len(jobs))
	for i, job := range jobs {
		if payloads[i], err = queue.Encode(job); err != nil {
			return err
		}
	}

	conn, err := t.pool.Take(ctx)
	if err != nil {
		return core.E("queue.send", core.Overload, err)
	}
	defer t.pool.Put(conn)

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return classify("queue.send", err)
	}
	defer endFn(&err)

	visible := t.now().Add(delay).UnixMilli()
	for i, job := range jobs {
		err = sqlitex.Execute(conn,
			`INSERT INTO jobs (type, payload, visible_at) VALUES (?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{string(job.Type), payloads[i], visible}})
		if err != nil {
			return classify("queue.send", err)
		}
	}
	return nil
}

// Claim leases up to n visible jobs.
func (t *Transport) Claim(ctx context.Context, n int) (msgs []Message, err error) {
	conn, err := t.pool.Take(ctx)
	if err != nil {
		return nil, core.E("queue.claim", core.Overload, err)
	}
	defer t.pool.Put(conn)

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return nil, classify("queue.claim", err)
	}
	defer endFn(&err)

	now := t.now()
	err = sqlitex.Execute(conn,
		`SELECT id, payload, attempts FROM jobs
		 WHERE failed = 0 AND visible_at <= ?
		 ORDER BY visible_at, id LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []any{now.UnixMilli(), n},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				payload := make([]byte, stmt.ColumnLen(1))
				stmt.ColumnBytes(1, payload)
				job, err := queue.Decode(payload)
				if err != nil {
					return fmt.Errorf("job %d: %w", stmt.ColumnInt64(0), err)
				}
				msgs = append(msgs, Message{
					ID:       stmt.ColumnInt64(0),
					Job:      job,
					Attempts: stmt.ColumnInt(2) + 1,
				})
				return nil
			},
		})
	if err != nil {
		return nil, classify("queue.claim", err)
	}

	leased := now.Add(t.lease).UnixMilli()
	for _, m := range msgs {
		err = sqlitex.Execute(conn,
			`UPDATE jobs SET visible_at = ?, attempts = attempts + 1 WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{leased, m.ID}})
		if err != nil {
			return nil, classify("queue.claim", err)
		}
	}
	return msgs, nil
}

// Ack deletes handled jobs.
func (t *Transport) Ack(ctx context.Context, ids ...int64) (err error) {
	if len(ids) == 0 {
		return nil
	}
	conn, err := t.pool.Take(ctx)
	if err != nil {
		return core.E("queue.ack", core.Overload, err)
	}
	defer t.pool.Put(conn)

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return classify("queue.ack", err)
	}
	defer endFn(&err)

	for _, id := range ids {
		if err = sqlitex.Execute(conn, `DELETE FROM jobs WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{id}}); err != nil {
			return classify("queue.ack", err)
		}
	}
	return nil
}

// Nack records a failed delivery. The job is redelivered when its lease
// runs out, or parked as failed once it used up its attempts.
func (t *Transport) Nack(ctx context.Context, m Message, cause error) error {
	conn, err := t.pool.Take(ctx)
	if err != nil {
		return core.E("queue.nack", core.Overload, err)
	}
	defer t.pool.Put(conn)

	failed := 0
	if m.Attempts >= t.maxAttempts {
		failed = 1
		t.logger.Error("job failed permanently", "job", m.Job.String(), "attempts", m.Attempts, "error", cause)
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	err = sqlitex.Execute(conn, `UPDATE jobs SET failed = ?, last_error = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{failed, msg, m.ID}})
	return classify("queue.nack", err)
}

// Stats counts jobs waiting for delivery and jobs parked as failed.
func (t *Transport) Stats(ctx context.Context) (pending, failed int, err error) {
	conn, err := t.pool.Take(ctx)
	if err != nil {
		return 0, 0, core.E("queue.stats", core.Overload, err)
	}
	defer t.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`SELECT COALESCE(SUM(failed = 0), 0), COALESCE(SUM(failed = 1), 0) FROM jobs`,
		&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
			pending = stmt.ColumnInt(0)
			failed = stmt.ColumnInt(1)
			return nil
		}})
	return pending, failed, classify("queue.stats", err)
}

// Failed lists the types and errors of parked jobs.
func (t *Transport) Failed(ctx context.Context) ([]string, error) {
	conn, err := t.pool.Take(ctx)
	if err != nil {
		return nil, core.E("queue.failed", core.Overload, err)
	}
	defer t.pool.Put(conn)

	var out []string
	err = sqlitex.Execute(conn,
		`SELECT type, COALESCE(last_error, '') FROM jobs WHERE failed = 1 ORDER BY id`,
		&sqlitex.ExecOptions{ResultFunc: func(stmt *sqlite.Stmt) error {
			out = append(out, strings.TrimSpace(stmt.ColumnText(0)+": "+stmt.ColumnText(1)))
			return nil
		}})
	return out, classify("queue.failed", err)
}

// Run claims and dispatches batches until ctx is cancelled. A claimed
// batch is handled to completion even when ctx is cancelled meanwhile.
func (t *Transport) Run(ctx context.Context, d *queue.Dispatcher) error {
	t.logger.Info("worker started", "batch_size", t.batchSize, "poll_interval", t.poll)
	for {
		n, err := t.RunOnce(ctx, d)
		if err != nil && ctx.Err() == nil {
			t.logger.Error("worker round failed", "error", err)
		}
		if n > 0 && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			t.logger.Info("worker stopped")
			return nil
		case <-time.After(t.poll):
		}
	}
}

// RunOnce handles at most one batch and returns the number of jobs
// claimed.
func (t *Transport) RunOnce(ctx context.Context, d *queue.Dispatcher) (int, error) {
	msgs, err := t.Claim(ctx, t.batchSize)
	if err != nil || len(msgs) == 0 {
		return 0, err
	}

	jobs := make([]*queue.Job, len(msgs))
	for i, m := range msgs {
		jobs[i] = m.Job
	}

	work := context.WithoutCancel(ctx)
	recvErr := d.Receive(work, jobs)

	var batchErr *queue.BatchError
	errors.As(recvErr, &batchErr)

	var acked []int64
	for _, m := range msgs {
		var cause error
		switch {
		case batchErr == nil:
		case batchErr.Finish != nil:
			cause = batchErr.Finish
		default:
			cause = batchErr.For(m.Job)
		}
		if cause == nil {
			acked = append(acked, m.ID)
			continue
		}
		if err := t.Nack(work, m, cause); err != nil {
			return len(msgs), err
		}
	}
	return len(msgs), t.Ack(work, acked...)
}
