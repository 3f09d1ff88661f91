package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/git-pkgs/mirror/internal/core"
	"github.com/git-pkgs/mirror/internal/store"
)

func TestWhere(t *testing.T) {
	tests := []struct {
		name     string
		c        store.Criteria
		wantSQL  string
		wantArgs int
	}{
		{"nil", nil, "TRUE", 0},
		{"eq", store.Eq{Field: "name", Value: "acme/widget"}, "(data #> $1::text[]) = $2::text::jsonb", 2},
		{"empty in", store.In{Field: "name"}, "FALSE", 0},
		{"empty or", store.Or{}, "FALSE", 0},
		{"empty and", store.And{}, "TRUE", 0},
		{
			"and",
			store.And{store.Eq{Field: "_kind", Value: "package"}, store.Exists{Field: "hash"}},
			"((data #> $1::text[]) = $2::text::jsonb AND ((data #> $3::text[]) IS NOT NULL AND jsonb_typeof(data #> $3::text[]) <> 'null'))",
			3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &query{}
			got, err := q.where(tt.c)
			if err != nil {
				t.Fatalf("where failed: %v", err)
			}
			if got != tt.wantSQL {
				t.Errorf("where() = %q, want %q", got, tt.wantSQL)
			}
			if len(q.args) != tt.wantArgs {
				t.Errorf("args = %v, want %d", q.args, tt.wantArgs)
			}
		})
	}
}

func TestWhereArgs(t *testing.T) {
	q := &query{}
	if _, err := q.where(store.Eq{Field: "manifest.type", Value: "library"}); err != nil {
		t.Fatalf("where failed: %v", err)
	}
	path, ok := q.args[0].([]string)
	if !ok || len(path) != 2 || path[0] != "manifest" || path[1] != "type" {
		t.Errorf("path arg = %#v", q.args[0])
	}
	if q.args[1] != `"library"` {
		t.Errorf("value arg = %#v", q.args[1])
	}
}

func TestWhereIn(t *testing.T) {
	q := &query{}
	got, err := q.where(store.In{Field: "name", Values: []any{"a", "b"}})
	if err != nil {
		t.Fatalf("where failed: %v", err)
	}
	if strings.Count(got, " OR ") != 1 || len(q.args) != 4 {
		t.Errorf("where() = %q with %d args", got, len(q.args))
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want core.Kind
	}{
		{&pgconn.PgError{Code: "40001"}, core.Overload},
		{&pgconn.PgError{Code: "53300"}, core.Overload},
		{fmt.Errorf("exec: %w", &pgconn.PgError{Code: "40P01"}), core.Overload},
		{&pgconn.PgError{Code: "23505"}, core.Other},
		{errors.New("boom"), core.Other},
	}

	for _, tt := range tests {
		if got := core.KindOf(classify("op", tt.err)); got != tt.want {
			t.Errorf("classify(%v) kind = %v, want %v", tt.err, got, tt.want)
		}
	}
	if classify("op", nil) != nil {
		t.Error("classify(nil) should be nil")
	}
}

func TestIncrQuery(t *testing.T) {
	got := incrQuery("records")
	for _, want := range []string{
		"INSERT INTO records (id, data)",
		"ON CONFLICT (id) DO UPDATE SET data = jsonb_set(records.data, ARRAY[$3::text]",
		"COALESCE((records.data->>$3::text)::bigint, 0) + $4::bigint",
		"RETURNING (data->>$3::text)::bigint",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("incrQuery() missing %q:\n%s", want, got)
		}
	}
}

func TestInvalidTable(t *testing.T) {
	if _, err := New(nil, "records; DROP TABLE x", 0); err == nil {
		t.Error("expected invalid table name to be rejected")
	}
}

// TestStore runs against a real database when MIRROR_TEST_DATABASE_URL is set.
func TestStore(t *testing.T) {
	dsn := os.Getenv("MIRROR_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("MIRROR_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	s, err := Open(ctx, dsn, "mirror_test_records", 2)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() {
		_, _ = s.db.ExecContext(ctx, `DROP TABLE IF EXISTS mirror_test_records`)
		_ = s.Close()
	}()

	for i := range 5 {
		rec := store.Record{"id": fmt.Sprintf("r%d", i), "name": "acme/widget", "n": i, "tags": []any{"x"}}
		if err := s.Put(ctx, rec); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	rec, err := s.Get(ctx, "r1")
	if err != nil || rec == nil {
		t.Fatalf("Get = %v, %v", rec, err)
	}
	if rec["name"] != "acme/widget" {
		t.Errorf("name = %v", rec["name"])
	}

	var seen int
	cursor := ""
	for {
		page, err := s.Find(ctx, store.And{store.Eq{Field: "name", Value: "acme/widget"}, store.Contains{Field: "tags", Value: "x"}}, cursor)
		if err != nil {
			t.Fatalf("Find failed: %v", err)
		}
		if page.Total != 5 {
			t.Errorf("Total = %d, want 5", page.Total)
		}
		seen += page.Count
		if page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}
	if seen != 5 {
		t.Errorf("paged through %d records, want 5", seen)
	}

	for i := range 3 {
		n, err := s.Incr(ctx, store.Record{"id": "counter", "package": "acme/widget"}, "count", 2)
		if err != nil {
			t.Fatalf("Incr failed: %v", err)
		}
		if n != int64(2*(i+1)) {
			t.Errorf("Incr() = %d, want %d", n, 2*(i+1))
		}
	}

	if err := s.Deletes(ctx, []string{"r0", "r1"}); err != nil {
		t.Fatalf("Deletes failed: %v", err)
	}
	if ok, _ := s.Has(ctx, "r0"); ok {
		t.Error("r0 still present")
	}
}
