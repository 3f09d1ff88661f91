package store

import (
	"encoding/json"
	"reflect"
	"strings"
)

// Criteria is a predicate over records. Field names may be dotted paths
// into nested objects ("manifest.type").
type Criteria interface {
	Match(rec Record) bool
}

// Eq matches records whose field equals Value.
type Eq struct {
	Field string
	Value any
}

// Ne matches records whose field is missing or differs from Value.
type Ne struct {
	Field string
	Value any
}

// In matches records whose field equals one of Values.
type In struct {
	Field  string
	Values []any
}

// Exists matches records where the field is present and not null.
type Exists struct {
	Field string
}

// Contains matches array fields holding Value and string fields containing
// Value as a substring.
type Contains struct {
	Field string
	Value any
}

// And matches when every criterion matches. An empty And matches all.
type And []Criteria

// Or matches when at least one criterion matches.
type Or []Criteria

// All matches every record.
var All Criteria = And{}

func (c Eq) Match(rec Record) bool {
	v, ok := Lookup(rec, c.Field)
	return ok && equal(v, c.Value)
}

func (c Ne) Match(rec Record) bool {
	v, ok := Lookup(rec, c.Field)
	return !ok || !equal(v, c.Value)
}

func (c In) Match(rec Record) bool {
	v, ok := Lookup(rec, c.Field)
	if !ok {
		return false
	}
	for _, want := range c.Values {
		if equal(v, want) {
			return true
		}
	}
	return false
}

func (c Exists) Match(rec Record) bool {
	v, ok := Lookup(rec, c.Field)
	return ok && v != nil
}

func (c Contains) Match(rec Record) bool {
	v, ok := Lookup(rec, c.Field)
	if !ok {
		return false
	}
	switch v := v.(type) {
	case []any:
		for _, item := range v {
			if equal(item, c.Value) {
				return true
			}
		}
	case string:
		s, ok := c.Value.(string)
		return ok && strings.Contains(v, s)
	}
	return false
}

func (c And) Match(rec Record) bool {
	for _, sub := range c {
		if !sub.Match(rec) {
			return false
		}
	}
	return true
}

func (c Or) Match(rec Record) bool {
	for _, sub := range c {
		if sub.Match(rec) {
			return true
		}
	}
	return false
}

// Lookup resolves a dotted field path.
func Lookup(rec Record, field string) (any, bool) {
	var cur any = map[string]any(rec)
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			if r, isRec := cur.(Record); isRec {
				m = r
			} else {
				return nil, false
			}
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// equal compares two values in their JSON form, so 1 and 1.0 are equal
// and typed slices compare like decoded arrays.
func equal(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	ja, err := json.Marshal(a)
	if err != nil {
		return false
	}
	jb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	var na, nb any
	if json.Unmarshal(ja, &na) != nil || json.Unmarshal(jb, &nb) != nil {
		return false
	}
	return reflect.DeepEqual(na, nb)
}

// MatchText reports whether text occurs, case insensitively, in one of the
// string fields of rec.
func MatchText(rec Record, fields []string, text string) bool {
	if text == "" {
		return true
	}
	text = strings.ToLower(text)
	for _, f := range fields {
		v, ok := Lookup(rec, f)
		if !ok {
			continue
		}
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), text) {
			return true
		}
	}
	return false
}
