// Package memory is an in-process store.Store for tests and single-node
// development setups.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/git-pkgs/mirror/internal/core"
	"github.com/git-pkgs/mirror/internal/store"
)

type Store struct {
	mu       sync.RWMutex
	records  map[string]store.Record
	pageSize int
}

// New creates an empty store. pageSize below 1 means store.DefaultPageSize.
func New(pageSize int) *Store {
	if pageSize < 1 {
		pageSize = store.DefaultPageSize
	}
	return &Store{records: make(map[string]store.Record), pageSize: pageSize}
}

func (s *Store) Has(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[id]
	return ok, nil
}

func (s *Store) Get(_ context.Context, id string) (store.Record, error) {
	s.mu.RLock()
	rec, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return store.Clone(rec)
}

func (s *Store) Put(_ context.Context, rec store.Record) error {
	if rec.ID() == "" {
		return core.E("memory.put", core.Other, errors.New("record has no id"))
	}
	cp, err := store.Clone(rec)
	if err != nil {
		return core.E("memory.put", core.Other, err)
	}
	s.mu.Lock()
	s.records[cp.ID()] = cp
	s.mu.Unlock()
	return nil
}

func (s *Store) Incr(_ context.Context, rec store.Record, field string, delta int64) (int64, error) {
	if rec.ID() == "" {
		return 0, core.E("memory.incr", core.Other, errors.New("record has no id"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[rec.ID()]
	if !ok {
		cp, err := store.Clone(rec)
		if err != nil {
			return 0, core.E("memory.incr", core.Other, err)
		}
		cp[field] = int64(0)
		cur = cp
	}
	n := store.Int(cur[field]) + delta
	cur[field] = n
	s.records[rec.ID()] = cur
	return n, nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.records, id)
	s.mu.Unlock()
	return nil
}

func (s *Store) Deletes(_ context.Context, ids []string) error {
	s.mu.Lock()
	for _, id := range ids {
		delete(s.records, id)
	}
	s.mu.Unlock()
	return nil
}

func (s *Store) Find(ctx context.Context, c store.Criteria, cursor string) (*store.Page, error) {
	return s.Search(ctx, c, nil, "", cursor)
}

func (s *Store) Search(_ context.Context, c store.Criteria, fields []string, text, cursor string) (*store.Page, error) {
	if c == nil {
		c = store.All
	}

	s.mu.RLock()
	var matched []store.Record
	for _, rec := range s.records {
		if c.Match(rec) && store.MatchText(rec, fields, text) {
			matched = append(matched, rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID() < matched[j].ID() })

	page := &store.Page{Total: len(matched)}
	for _, rec := range matched {
		if cursor != "" && rec.ID() <= cursor {
			continue
		}
		if len(page.Rows) == s.pageSize {
			page.Cursor = page.Rows[len(page.Rows)-1].ID()
			break
		}
		cp, err := store.Clone(rec)
		if err != nil {
			return nil, core.E("memory.find", core.Other, err)
		}
		page.Rows = append(page.Rows, cp)
	}
	page.Count = len(page.Rows)
	return page, nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
