package postgres

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/git-pkgs/mirror/internal/store"
)

// query accumulates positional arguments while criteria are translated
// into a WHERE clause over the data column.
type query struct {
	args []any
}

func (q *query) arg(v any) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

func (q *query) path(field string) string {
	return q.arg(strings.Split(field, ".")) + "::text[]"
}

func (q *query) json(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return q.arg(string(b)) + "::text::jsonb", nil
}

func (q *query) where(c store.Criteria) (string, error) {
	switch c := c.(type) {
	case nil:
		return "TRUE", nil
	case store.Eq:
		p := q.path(c.Field)
		v, err := q.json(c.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(data #> %s) = %s", p, v), nil
	case store.Ne:
		p := q.path(c.Field)
		v, err := q.json(c.Value)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("((data #> %[1]s) IS NULL OR (data #> %[1]s) <> %[2]s)", p, v), nil
	case store.In:
		if len(c.Values) == 0 {
			return "FALSE", nil
		}
		parts := make([]string, 0, len(c.Values))
		for _, val := range c.Values {
			part, err := q.where(store.Eq{Field: c.Field, Value: val})
			if err != nil {
				return "", err
			}
			parts = append(parts, part)
		}
		return "(" + strings.Join(parts, " OR ") + ")", nil
	case store.Exists:
		p := q.path(c.Field)
		return fmt.Sprintf("((data #> %[1]s) IS NOT NULL AND jsonb_typeof(data #> %[1]s) <> 'null')", p), nil
	case store.Contains:
		p := q.path(c.Field)
		v, err := q.json(c.Value)
		if err != nil {
			return "", err
		}
		s, _ := c.Value.(string)
		return fmt.Sprintf("((jsonb_typeof(data #> %[1]s) = 'array' AND (data #> %[1]s) @> jsonb_build_array(%[2]s)) OR (jsonb_typeof(data #> %[1]s) = 'string' AND %[3]s <> '' AND strpos(data #>> %[1]s, %[3]s) > 0))",
			p, v, q.arg(s)), nil
	case store.And:
		return q.join(c, " AND ", "TRUE")
	case store.Or:
		return q.join(c, " OR ", "FALSE")
	}
	return "", fmt.Errorf("unsupported criteria %T", c)
}

func (q *query) join(cs []store.Criteria, op, empty string) (string, error) {
	if len(cs) == 0 {
		return empty, nil
	}
	parts := make([]string, 0, len(cs))
	for _, sub := range cs {
		part, err := q.where(sub)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return "(" + strings.Join(parts, op) + ")", nil
}

func (q *query) text(fields []string, text string) string {
	t := q.arg(strings.ToLower(text))
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("strpos(lower(data #>> %s), %s) > 0", q.path(f), t))
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}
