package cache

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRU keeps recently read content-addressed documents in memory in front
// of another store. Only keys containing "$" are cached: their content can
// never change, so entries never go stale. Mutable keys such as the root
// index always go to the backing store.
type LRU struct {
	next  Store
	cache *lru.Cache[string, []byte]
}

func NewLRU(next Store, size int) (*LRU, error) {
	if size < 1 {
		size = 1024
	}
	c, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, fmt.Errorf("creating lru: %w", err)
	}
	return &LRU{next: next, cache: c}, nil
}

func immutable(key string) bool {
	return strings.Contains(key, "$")
}

func (l *LRU) Get(ctx context.Context, key string) ([]byte, error) {
	if immutable(key) {
		if data, ok := l.cache.Get(key); ok {
			return data, nil
		}
	}
	data, err := l.next.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if immutable(key) {
		l.cache.Add(key, data)
	}
	return data, nil
}

func (l *LRU) Put(ctx context.Context, key string, data []byte) error {
	if err := l.next.Put(ctx, key, data); err != nil {
		return err
	}
	if immutable(key) {
		l.cache.Add(key, data)
	}
	return nil
}

func (l *LRU) Delete(ctx context.Context, key string) error {
	l.cache.Remove(key)
	return l.next.Delete(ctx, key)
}
