// Package publish renders the static index: one content-addressed version
// document per package and the root packages.json that lists them.
package publish

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"

	"golang.org/x/sync/singleflight"

	"github.com/git-pkgs/mirror/internal/cache"
	"github.com/git-pkgs/mirror/internal/catalog"
	"github.com/git-pkgs/mirror/internal/core"
	"github.com/git-pkgs/mirror/internal/registry"
)

const (
	// RootKey is the cache key of the root index.
	RootKey = "packages.json"

	// NotifyBatch is where clients report downloads.
	NotifyBatch = "/downloads"
)

// Document is a published version document.
type Document struct {
	Name    string
	Hash    string
	Content []byte
}

// Key returns the cache key and URL path of the document.
func (d *Document) Key() string {
	return VersionsKey(d.Name, d.Hash)
}

// VersionsKey returns p/{name}${hash}.json.
func VersionsKey(name, hash string) string {
	return fmt.Sprintf("p/%s$%s.json", name, hash)
}

// Hash returns the hex SHA-1 of content.
func Hash(content []byte) string {
	sum := sha1.Sum(content)
	return hex.EncodeToString(sum[:])
}

type versionsDocument struct {
	Packages map[string]map[string]core.Manifest `json:"packages"`
}

type include struct {
	SHA1 string `json:"sha1"`
}

type rootDocument struct {
	NotifyBatch string             `json:"notify-batch"`
	Packages    struct{}           `json:"packages"`
	Includes    map[string]include `json:"includes"`
}

type Publisher struct {
	catalog  *catalog.Catalog
	registry *registry.Registry
	cache    cache.Store
	logger   *slog.Logger
	group    singleflight.Group
}

func New(cat *catalog.Catalog, reg *registry.Registry, store cache.Store, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Publisher{catalog: cat, registry: reg, cache: store, logger: logger}
}

// BuildVersions republishes the version document of name. It returns nil
// when the package has no versions left; the repository hash is cleared
// in that case. The root index is invalidated whenever the hash changes.
func (p *Publisher) BuildVersions(ctx context.Context, name string) (*Document, error) {
	versions, err := p.catalog.FindVersions(ctx, name)
	if err != nil {
		return nil, err
	}
	repo, err := p.registry.FindByPackage(ctx, name)
	if err != nil {
		return nil, err
	}

	if len(versions) == 0 {
		if repo != nil && repo.Hash != "" {
			if err := p.registry.SetHash(ctx, repo.URL, ""); err != nil {
				return nil, err
			}
		}
		p.logger.Info("package has no versions", "package", name)
		return nil, p.Invalidate(ctx)
	}

	doc := versionsDocument{Packages: map[string]map[string]core.Manifest{name: {}}}
	for _, pv := range versions {
		doc.Packages[name][pv.Version] = pv.Manifest
	}
	content, err := json.Marshal(doc)
	if err != nil {
		return nil, core.E("publish.versions", core.Other, err)
	}

	out := &Document{Name: name, Hash: Hash(content), Content: content}
	if err := p.cache.Put(ctx, out.Key(), content); err != nil {
		return nil, fmt.Errorf("storing %s: %w", out.Key(), err)
	}

	if repo == nil {
		p.logger.Warn("published package without repository", "package", name, "hash", out.Hash)
		return out, nil
	}
	if repo.Hash != out.Hash {
		if err := p.registry.SetHash(ctx, repo.URL, out.Hash); err != nil {
			return nil, err
		}
		if err := p.Invalidate(ctx); err != nil {
			return nil, err
		}
		p.logger.Info("published versions", "package", name, "hash", out.Hash, "versions", len(versions))
	}
	return out, nil
}

// BuildRoot renders and stores the root index from every repository with
// a published hash. A hash published while the index was rendered drops
// the stored copy again, so the next read sees the new hash.
func (p *Publisher) BuildRoot(ctx context.Context) ([]byte, error) {
	includes, err := p.includes(ctx)
	if err != nil {
		return nil, err
	}
	content, err := json.Marshal(rootDocument{NotifyBatch: NotifyBatch, Includes: includes})
	if err != nil {
		return nil, core.E("publish.root", core.Other, err)
	}
	if err := p.cache.Put(ctx, RootKey, content); err != nil {
		return nil, fmt.Errorf("storing %s: %w", RootKey, err)
	}

	current, err := p.includes(ctx)
	if err != nil {
		return nil, err
	}
	if !maps.Equal(includes, current) {
		p.logger.Info("root index changed while rendering", "packages", len(current))
		if err := p.Invalidate(ctx); err != nil {
			return nil, err
		}
		return content, nil
	}
	p.logger.Info("published root index", "packages", len(includes))
	return content, nil
}

func (p *Publisher) includes(ctx context.Context) (map[string]include, error) {
	includes := map[string]include{}
	cursor := ""
	for {
		repos, next, err := p.registry.Published(ctx, cursor)
		if err != nil {
			return nil, err
		}
		for _, repo := range repos {
			includes[VersionsKey(repo.PackageName, repo.Hash)] = include{SHA1: repo.Hash}
		}
		if next == "" {
			return includes, nil
		}
		cursor = next
	}
}

// Invalidate drops the cached root index so the next read rebuilds it.
func (p *Publisher) Invalidate(ctx context.Context) error {
	if err := p.cache.Delete(ctx, RootKey); err != nil && !errors.Is(err, cache.ErrNotFound) {
		return fmt.Errorf("invalidating %s: %w", RootKey, err)
	}
	return nil
}

// Root returns the root index, rebuilding it on a cache miss. Concurrent
// misses share one rebuild. Cancelling ctx abandons the wait but not the
// shared rebuild.
func (p *Publisher) Root(ctx context.Context) ([]byte, error) {
	content, err := p.cache.Get(ctx, RootKey)
	if err == nil {
		return content, nil
	}
	if !errors.Is(err, cache.ErrNotFound) {
		return nil, fmt.Errorf("reading %s: %w", RootKey, err)
	}

	ch := p.group.DoChan(RootKey, func() (any, error) {
		return p.BuildRoot(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

// Versions returns the stored version document, or nil on a miss.
func (p *Publisher) Versions(ctx context.Context, name, hash string) ([]byte, error) {
	content, err := p.cache.Get(ctx, VersionsKey(name, hash))
	if errors.Is(err, cache.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", VersionsKey(name, hash), err)
	}
	return content, nil
}
