package queue

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

type recorder struct {
	types    []Type
	handled  []*Job
	finished int
	fail     error
}

func (r *recorder) Supports(job *Job) bool {
	for _, t := range r.types {
		if job.Type == t {
			return true
		}
	}
	return false
}

func (r *recorder) Handle(_ context.Context, job *Job) error {
	r.handled = append(r.handled, job)
	return r.fail
}

func (r *recorder) Finish(context.Context) error {
	r.finished++
	return nil
}

func TestCodec(t *testing.T) {
	job := NewRefreshPackage("https://github.com/acme/widget", "abc123", "dev-main", true)
	job.RetryDelay = 20

	a, err := Encode(job)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	b, _ := Encode(job.Clone())
	if !bytes.Equal(a, b) {
		t.Error("encoding is not deterministic")
	}

	got, err := Decode(a)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if *got != *job {
		t.Errorf("Decode() = %+v, want %+v", got, job)
	}

	if _, err := Decode([]byte{0xa0}); err == nil {
		t.Error("expected error for job without type")
	}
	if _, err := Decode([]byte("garbage")); err == nil {
		t.Error("expected error for invalid payload")
	}
}

func TestJobString(t *testing.T) {
	tests := []struct {
		job  *Job
		want string
	}{
		{NewRefreshPackages("https://x.test/a/b", false), "refresh-packages(https://x.test/a/b)"},
		{NewRefreshPackage("https://x.test/a/b", "sha", "1.0.0", false), "refresh-package(https://x.test/a/b@1.0.0)"},
		{NewDeletePackage("a/b", "1.0.0"), "delete-package(a/b@1.0.0)"},
		{NewDeletePackages("a/b"), "delete-packages(a/b)"},
		{NewBuildPackageVersionsCache("a/b"), "build-package-versions-cache(a/b)"},
	}
	for _, tt := range tests {
		if got := tt.job.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestDispatcherRoutes(t *testing.T) {
	refresh := &recorder{types: []Type{RefreshPackage}}
	build := &recorder{types: []Type{BuildPackageVersionsCache}}
	idle := &recorder{types: []Type{DeletePackages}}
	d := NewDispatcher(nil, refresh, build, idle)

	jobs := []*Job{
		NewRefreshPackage("u", "1", "1.0.0", false),
		NewRefreshPackage("u", "2", "2.0.0", false),
		NewBuildPackageVersionsCache("a/b"),
	}
	if err := d.Receive(context.Background(), jobs); err != nil {
		t.Fatalf("Receive failed: %v", err)
	}

	if len(refresh.handled) != 2 || len(build.handled) != 1 || len(idle.handled) != 0 {
		t.Errorf("handled %d/%d/%d jobs", len(refresh.handled), len(build.handled), len(idle.handled))
	}
	if refresh.finished != 1 || build.finished != 1 {
		t.Errorf("finish called %d/%d times, want once each", refresh.finished, build.finished)
	}
	if idle.finished != 0 {
		t.Error("finish called on a handler without jobs")
	}
}

func TestDispatcherFailures(t *testing.T) {
	boom := errors.New("boom")
	failing := &recorder{types: []Type{DeletePackage}, fail: boom}
	ok := &recorder{types: []Type{DeletePackages}}
	d := NewDispatcher(nil, failing, ok)

	bad := NewDeletePackage("a/b", "1.0.0")
	good := NewDeletePackages("a/b")
	unknown := &Job{Type: "mystery"}

	err := d.Receive(context.Background(), []*Job{bad, good, unknown})
	var batchErr *BatchError
	if !errors.As(err, &batchErr) {
		t.Fatalf("expected *BatchError, got %v", err)
	}
	if len(batchErr.Failures) != 2 {
		t.Fatalf("got %d failures, want 2", len(batchErr.Failures))
	}
	if !batchErr.Failed(bad) || batchErr.Failed(good) || !batchErr.Failed(unknown) {
		t.Error("wrong jobs reported as failed")
	}
	if !errors.Is(err, boom) || !errors.Is(err, ErrUnhandled) {
		t.Errorf("errors not wrapped: %v", err)
	}
	if len(ok.handled) != 1 || failing.finished != 1 {
		t.Error("batch stopped at the first failure")
	}
}

func TestMemoryDrain(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	chain := &chainHandler{transport: m, remaining: 3}
	d := NewDispatcher(nil, chain)

	if err := m.Send(ctx, NewDeletePackages("a/b"), 5*time.Second); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := m.Drain(ctx, d); err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if chain.handled != 4 {
		t.Errorf("handled %d jobs, want 4", chain.handled)
	}
	if m.Len() != 0 {
		t.Errorf("%d jobs left pending", m.Len())
	}
	sent := m.Sent()
	if len(sent) != 4 || sent[0].Delay != 5*time.Second {
		t.Errorf("unexpected deliveries: %+v", sent)
	}
}

func TestMemoryCopiesJobs(t *testing.T) {
	m := NewMemory()
	job := NewDeletePackages("a/b")
	_ = m.SendBatch(context.Background(), []*Job{job}, 0)
	job.Name = "changed"
	if got := m.Take()[0].Job.Name; got != "a/b" {
		t.Errorf("queued job aliased caller's job: %q", got)
	}
}

type chainHandler struct {
	transport Transport
	remaining int
	handled   int
}

func (c *chainHandler) Supports(job *Job) bool { return job.Type == DeletePackages }

func (c *chainHandler) Handle(ctx context.Context, job *Job) error {
	c.handled++
	if c.remaining == 0 {
		return nil
	}
	c.remaining--
	return c.transport.Send(ctx, job, 0)
}

func (c *chainHandler) Finish(context.Context) error { return nil }
