package store

import "testing"

func TestCriteriaMatch(t *testing.T) {
	rec := Record{
		"id":          "acme/widget:1.0.0.0",
		"name":        "acme/widget",
		"downloads":   float64(3),
		"initialized": true,
		"tags":        []any{"stable", "lts"},
		"manifest":    map[string]any{"type": "library", "license": []any{"MIT"}},
		"hash":        nil,
	}

	tests := []struct {
		name string
		c    Criteria
		want bool
	}{
		{"eq string", Eq{"name", "acme/widget"}, true},
		{"eq int vs float", Eq{"downloads", 3}, true},
		{"eq bool", Eq{"initialized", true}, true},
		{"eq missing", Eq{"missing", "x"}, false},
		{"eq nested", Eq{"manifest.type", "library"}, true},
		{"eq typed slice", Eq{"manifest.license", []string{"MIT"}}, true},
		{"ne differs", Ne{"name", "other"}, true},
		{"ne same", Ne{"name", "acme/widget"}, false},
		{"ne missing", Ne{"missing", "x"}, true},
		{"in hit", In{"name", []any{"a", "acme/widget"}}, true},
		{"in miss", In{"name", []any{"a", "b"}}, false},
		{"exists", Exists{"manifest"}, true},
		{"exists null", Exists{"hash"}, false},
		{"exists missing", Exists{"nope"}, false},
		{"contains array", Contains{"tags", "lts"}, true},
		{"contains array miss", Contains{"tags", "beta"}, false},
		{"contains string", Contains{"name", "widg"}, true},
		{"and", And{Eq{"name", "acme/widget"}, Exists{"tags"}}, true},
		{"and fails", And{Eq{"name", "acme/widget"}, Exists{"nope"}}, false},
		{"or", Or{Eq{"name", "nope"}, Eq{"initialized", true}}, true},
		{"empty and", And{}, true},
		{"empty or", Or{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.c.Match(rec); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchText(t *testing.T) {
	rec := Record{"name": "Acme/Widget", "description": "A widget"}
	if !MatchText(rec, []string{"name"}, "widget") {
		t.Error("expected case-insensitive match")
	}
	if MatchText(rec, []string{"description"}, "gadget") {
		t.Error("unexpected match")
	}
	if !MatchText(rec, nil, "") {
		t.Error("empty text should match everything")
	}
}

func TestEncodeDecode(t *testing.T) {
	type item struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	rec, err := Encode("x", item{Name: "acme/widget", Count: 2})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if rec.ID() != "x" || rec["name"] != "acme/widget" {
		t.Errorf("unexpected record: %v", rec)
	}

	var out item
	if err := Decode(rec, &out); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if out.Count != 2 {
		t.Errorf("Count = %d", out.Count)
	}
}
