package store

import (
	"context"
	"strings"
)

// KindField holds the record kind of namespaced records.
const KindField = "_kind"

// Prefixed namespaces one record kind inside a shared store: ids are
// stored as kind + "/" + id and queries only see records of that kind.
type Prefixed struct {
	inner Store
	kind  string
}

// NewPrefixed wraps inner for records of kind.
func NewPrefixed(inner Store, kind string) *Prefixed {
	return &Prefixed{inner: inner, kind: kind}
}

func (p *Prefixed) key(id string) string {
	return p.kind + "/" + id
}

func (p *Prefixed) Has(ctx context.Context, id string) (bool, error) {
	return p.inner.Has(ctx, p.key(id))
}

func (p *Prefixed) Get(ctx context.Context, id string) (Record, error) {
	rec, err := p.inner.Get(ctx, p.key(id))
	if err != nil || rec == nil {
		return nil, err
	}
	return p.strip(rec), nil
}

func (p *Prefixed) Put(ctx context.Context, rec Record) error {
	return p.inner.Put(ctx, p.wrap(rec))
}

func (p *Prefixed) wrap(rec Record) Record {
	out := make(Record, len(rec)+1)
	for k, v := range rec {
		out[k] = v
	}
	out["id"] = p.key(rec.ID())
	out[KindField] = p.kind
	return out
}

func (p *Prefixed) Incr(ctx context.Context, rec Record, field string, delta int64) (int64, error) {
	return p.inner.Incr(ctx, p.wrap(rec), field, delta)
}

func (p *Prefixed) Delete(ctx context.Context, id string) error {
	return p.inner.Delete(ctx, p.key(id))
}

func (p *Prefixed) Deletes(ctx context.Context, ids []string) error {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = p.key(id)
	}
	return p.inner.Deletes(ctx, keys)
}

func (p *Prefixed) Find(ctx context.Context, c Criteria, cursor string) (*Page, error) {
	page, err := p.inner.Find(ctx, p.scope(c), cursor)
	return p.stripPage(page, err)
}

func (p *Prefixed) Search(ctx context.Context, c Criteria, fields []string, text, cursor string) (*Page, error) {
	page, err := p.inner.Search(ctx, p.scope(c), fields, text, cursor)
	return p.stripPage(page, err)
}

func (p *Prefixed) scope(c Criteria) Criteria {
	if c == nil {
		return Eq{Field: KindField, Value: p.kind}
	}
	return And{Eq{Field: KindField, Value: p.kind}, c}
}

func (p *Prefixed) strip(rec Record) Record {
	rec["id"] = strings.TrimPrefix(rec.ID(), p.kind+"/")
	delete(rec, KindField)
	return rec
}

func (p *Prefixed) stripPage(page *Page, err error) (*Page, error) {
	if err != nil {
		return nil, err
	}
	for _, rec := range page.Rows {
		p.strip(rec)
	}
	return page, nil
}
