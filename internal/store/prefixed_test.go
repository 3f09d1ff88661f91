package store_test

import (
	"context"
	"testing"

	"github.com/git-pkgs/mirror/internal/store"
	"github.com/git-pkgs/mirror/internal/store/memory"
)

func TestPrefixedIsolation(t *testing.T) {
	ctx := context.Background()
	shared := memory.New(0)
	repos := store.NewPrefixed(shared, "repository")
	pkgs := store.NewPrefixed(shared, "package")

	if err := repos.Put(ctx, store.Record{"id": "x", "name": "acme/widget"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := pkgs.Put(ctx, store.Record{"id": "x", "name": "acme/widget"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if shared.Len() != 2 {
		t.Fatalf("shared store holds %d records, want 2", shared.Len())
	}

	rec, err := repos.Get(ctx, "x")
	if err != nil || rec == nil {
		t.Fatalf("Get = %v, %v", rec, err)
	}
	if rec.ID() != "x" {
		t.Errorf("id = %q, want unprefixed", rec.ID())
	}
	if _, ok := rec[store.KindField]; ok {
		t.Error("kind field leaked to caller")
	}

	page, err := repos.Find(ctx, store.Eq{Field: "name", Value: "acme/widget"}, "")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if page.Total != 1 || page.Rows[0].ID() != "x" {
		t.Errorf("unexpected page: %+v", page)
	}

	if err := repos.Deletes(ctx, []string{"x"}); err != nil {
		t.Fatalf("Deletes failed: %v", err)
	}
	if ok, _ := pkgs.Has(ctx, "x"); !ok {
		t.Error("deleting from one kind removed the other")
	}
}

func TestPrefixedIncr(t *testing.T) {
	ctx := context.Background()
	shared := memory.New(0)
	pkgs := store.NewPrefixed(shared, "package")

	for range 2 {
		if _, err := pkgs.Incr(ctx, store.Record{"id": "downloads:x", "package": "acme/widget"}, "count", 1); err != nil {
			t.Fatalf("Incr failed: %v", err)
		}
	}
	page, err := pkgs.Find(ctx, store.Eq{Field: "package", Value: "acme/widget"}, "")
	if err != nil || page.Total != 1 {
		t.Fatalf("Find = %+v, %v", page, err)
	}
	if page.Rows[0].ID() != "downloads:x" || store.Int(page.Rows[0]["count"]) != 2 {
		t.Errorf("counter = %v", page.Rows[0])
	}

	others := store.NewPrefixed(shared, "repository")
	if ok, _ := others.Has(ctx, "downloads:x"); ok {
		t.Error("counter visible under another kind")
	}
}
