// Package store defines the persistent record store used by the registry
// and the catalog, and the criteria algebra both of them query with.
package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// DefaultPageSize bounds Find and Search results when a backend is not
// configured otherwise.
const DefaultPageSize = 100

// Record is a JSON object with a required string "id".
type Record map[string]any

// ID returns the record id, or "" if it has none.
func (r Record) ID() string {
	id, _ := r["id"].(string)
	return id
}

// Page is one page of query results. Cursor is empty on the last page.
type Page struct {
	Rows   []Record
	Count  int
	Total  int
	Cursor string
}

// Store persists records. Get returns nil, nil for a missing id. Backends
// report transient overload as a core.Overload error.
type Store interface {
	Has(ctx context.Context, id string) (bool, error)
	Get(ctx context.Context, id string) (Record, error)
	Put(ctx context.Context, rec Record) error
	Delete(ctx context.Context, id string) error
	Deletes(ctx context.Context, ids []string) error

	// Incr atomically adds delta to the integer field of the record with
	// rec's id and returns the new value. A missing record is created from
	// rec. Other fields of an existing record are left alone.
	Incr(ctx context.Context, rec Record, field string, delta int64) (int64, error)

	// Find returns the page of records matching c that follows cursor,
	// ordered by id.
	Find(ctx context.Context, c Criteria, cursor string) (*Page, error)

	// Search is Find restricted to records where text occurs, case
	// insensitively, in one of fields.
	Search(ctx context.Context, c Criteria, fields []string, text, cursor string) (*Page, error)
}

// Int reads a numeric record field. JSON round trips turn integers into
// float64, so both forms are accepted.
func Int(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	}
	return 0
}

// Encode converts v into a record through its JSON form.
func Encode(id string, v any) (Record, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding record %s: %w", id, err)
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("encoding record %s: %w", id, err)
	}
	rec["id"] = id
	return rec, nil
}

// Decode fills v from rec.
func Decode(rec Record, v any) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("decoding record %s: %w", rec.ID(), err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decoding record %s: %w", rec.ID(), err)
	}
	return nil
}

// Clone deep-copies rec through JSON, so stored records never share maps
// with callers.
func Clone(rec Record) (Record, error) {
	if rec == nil {
		return nil, nil
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var out Record
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
