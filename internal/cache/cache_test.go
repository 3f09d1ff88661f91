package cache

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/minio/minio-go/v7"

	"github.com/git-pkgs/mirror/internal/core"
)

type countingStore struct {
	Store
	gets int
}

func (c *countingStore) Get(ctx context.Context, key string) ([]byte, error) {
	c.gets++
	return c.Store.Get(ctx, key)
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.Get(ctx, "packages.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	data := []byte(`{"packages":{}}`)
	if err := m.Put(ctx, "packages.json", data); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	data[0] = 'X'

	got, err := m.Get(ctx, "packages.json")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != `{"packages":{}}` {
		t.Errorf("Get returned %q", got)
	}

	if err := m.Delete(ctx, "packages.json"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := m.Delete(ctx, "packages.json"); err != nil {
		t.Errorf("deleting a missing key failed: %v", err)
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d", m.Len())
	}
}

func TestLRUContentAddressedOnly(t *testing.T) {
	ctx := context.Background()
	backing := &countingStore{Store: NewMemory()}
	l, err := NewLRU(backing, 8)
	if err != nil {
		t.Fatalf("NewLRU failed: %v", err)
	}

	_ = l.Put(ctx, "p/acme/widget$abc.json", []byte("doc"))
	_ = l.Put(ctx, "packages.json", []byte("root"))

	for range 3 {
		if _, err := l.Get(ctx, "p/acme/widget$abc.json"); err != nil {
			t.Fatalf("Get failed: %v", err)
		}
	}
	if backing.gets != 0 {
		t.Errorf("content-addressed reads hit the backing store %d times", backing.gets)
	}

	for range 2 {
		if _, err := l.Get(ctx, "packages.json"); err != nil {
			t.Fatalf("Get failed: %v", err)
		}
	}
	if backing.gets != 2 {
		t.Errorf("root reads hit the backing store %d times, want 2", backing.gets)
	}

	if err := l.Delete(ctx, "p/acme/widget$abc.json"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := l.Get(ctx, "p/acme/widget$abc.json"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestCompressRoundTrip(t *testing.T) {
	data := []byte(`{"packages":{"acme/widget":{}}}`)
	z, err := compress(data)
	if err != nil {
		t.Fatalf("compress failed: %v", err)
	}
	if z[0] != 0x1f || z[1] != 0x8b {
		t.Fatalf("missing gzip header: %x", z[:2])
	}
	out, err := decompress(z)
	if err != nil {
		t.Fatalf("decompress failed: %v", err)
	}
	if string(out) != string(data) {
		t.Errorf("round trip = %q", out)
	}

	plain, err := decompress(data)
	if err != nil || string(plain) != string(data) {
		t.Errorf("plain passthrough = %q, %v", plain, err)
	}
}

func TestS3Classify(t *testing.T) {
	s := &S3Store{}
	if err := s.classify("op", minio.ErrorResponse{Code: "NoSuchKey"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("NoSuchKey = %v", err)
	}
	if err := s.classify("op", minio.ErrorResponse{Code: "SlowDown"}); core.KindOf(err) != core.Overload {
		t.Errorf("SlowDown kind = %v", core.KindOf(err))
	}
	if err := s.classify("op", errors.New("dial tcp: refused")); !core.IsTransient(err) {
		t.Errorf("network failure should be transient: %v", err)
	}
}

func TestNewS3StoreValidation(t *testing.T) {
	if _, err := NewS3Store(S3Config{}); err == nil {
		t.Error("expected missing endpoint error")
	}
	if _, err := NewS3Store(S3Config{Endpoint: "localhost:9000"}); err == nil {
		t.Error("expected missing credentials error")
	}
	if _, err := NewS3Store(S3Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b"}); err == nil {
		t.Error("expected missing bucket error")
	}
}

// TestS3Store runs against a real endpoint when MIRROR_TEST_S3_ENDPOINT is set.
func TestS3Store(t *testing.T) {
	endpoint := os.Getenv("MIRROR_TEST_S3_ENDPOINT")
	if endpoint == "" {
		t.Skip("MIRROR_TEST_S3_ENDPOINT not set")
	}
	s, err := NewS3Store(S3Config{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("MIRROR_TEST_S3_ACCESS_KEY"),
		SecretKey: os.Getenv("MIRROR_TEST_S3_SECRET_KEY"),
		Bucket:    "mirror-test",
		Prefix:    "cache",
	})
	if err != nil {
		t.Fatalf("NewS3Store failed: %v", err)
	}
	ctx := context.Background()

	if err := s.Put(ctx, "p/acme/widget$abc.json", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err := s.Get(ctx, "p/acme/widget$abc.json")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != `{"a":1}` {
		t.Errorf("Get = %q", got)
	}
	if err := s.Delete(ctx, "p/acme/widget$abc.json"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "p/acme/widget$abc.json"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
