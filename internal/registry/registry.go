// Package registry tracks registered source repositories and binds them to
// their drivers.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/git-pkgs/mirror/internal/core"
	"github.com/git-pkgs/mirror/internal/store"
)

// Kind is the record kind repositories are stored under.
const Kind = "repository"

// Bound is a registered repository with an initialized driver.
type Bound struct {
	*core.Repository
	Driver core.Driver
}

type Registry struct {
	records  store.Store
	selector *core.Selector
	logger   *slog.Logger
}

// New creates a registry. records should be namespaced to repositories,
// see store.NewPrefixed.
func New(records store.Store, selector *core.Selector, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{records: records, selector: selector, logger: logger}
}

// Selector returns the driver selector.
func (r *Registry) Selector() *core.Selector {
	return r.selector
}

// Register records url under the host type of the matching driver. An
// empty hostType selects the first driver that supports url. Registering
// a known url returns the stored repository unchanged.
func (r *Registry) Register(ctx context.Context, url, hostType string) (*core.Repository, error) {
	existing, err := r.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	def, err := r.selector.Resolve(url, hostType)
	if err != nil {
		return nil, core.E("registry.register", core.DriverUnsupported, err)
	}

	repo := &core.Repository{URL: url, HostType: def.HostType, Key: r.selector.Canonical(url)}
	if err := r.put(ctx, repo); err != nil {
		return nil, err
	}
	r.logger.Info("repository registered", "repository", url, "host_type", def.HostType)
	return repo, nil
}

// Unregister removes the repository record. Its package versions are left
// for a delete-packages job.
func (r *Registry) Unregister(ctx context.Context, url string) (string, error) {
	if err := r.records.Delete(ctx, url); err != nil {
		return "", fmt.Errorf("unregistering %s: %w", url, err)
	}
	r.logger.Info("repository unregistered", "repository", url)
	return url, nil
}

// Get returns the repository registered for url, or nil.
func (r *Registry) Get(ctx context.Context, url string) (*core.Repository, error) {
	rec, err := r.records.Get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("loading repository %s: %w", url, err)
	}
	if rec == nil {
		return nil, nil
	}
	return decode(rec)
}

// Lookup returns the repository registered for url under any spelling of
// it, e.g. the https form of a repository registered by its ssh URL.
func (r *Registry) Lookup(ctx context.Context, url string) (*core.Repository, error) {
	repo, err := r.Get(ctx, url)
	if err != nil || repo != nil {
		return repo, err
	}
	key := r.selector.Canonical(url)
	if key == "" {
		return nil, nil
	}
	page, err := r.records.Find(ctx, store.Eq{Field: "key", Value: key}, "")
	if err != nil {
		return nil, fmt.Errorf("finding repository %s: %w", key, err)
	}
	if len(page.Rows) == 0 {
		return nil, nil
	}
	return decode(page.Rows[0])
}

// GetAndInit binds the repository to an initialized driver. It returns
// nil if url is not registered. The package name is read from the root
// identifier's manifest when it is not known yet or force is set.
func (r *Registry) GetAndInit(ctx context.Context, url string, force bool) (*Bound, error) {
	repo, err := r.Get(ctx, url)
	if err != nil || repo == nil {
		return nil, err
	}

	drv, err := r.selector.Driver(url, repo.HostType)
	if err != nil {
		return nil, core.E("registry.init", core.DriverUnsupported, err)
	}
	if err := drv.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initializing %s: %w", url, err)
	}

	if repo.PackageName == "" || force {
		name, err := rootPackageName(ctx, drv)
		switch {
		case err != nil && repo.PackageName == "":
			return nil, err
		case err != nil:
			r.logger.Warn("keeping package name", "repository", url, "package", repo.PackageName, "error", err)
		case name != repo.PackageName:
			if err := r.SetPackageName(ctx, url, name); err != nil {
				return nil, err
			}
			repo.PackageName = name
		}
	}

	return &Bound{Repository: repo, Driver: drv}, nil
}

func rootPackageName(ctx context.Context, drv core.Driver) (string, error) {
	root := drv.RootIdentifier()
	m, err := drv.ComposerInformation(ctx, root)
	if err != nil {
		return "", fmt.Errorf("reading root manifest of %s: %w", drv.URL(), err)
	}
	if m == nil {
		return "", core.E("registry.init", core.ManifestNotFound, fmt.Errorf("no composer.json at %s of %s", root, drv.URL()))
	}
	if m.Name() == "" {
		return "", core.E("registry.init", core.Other, fmt.Errorf("composer.json at %s of %s has no name", root, drv.URL()))
	}
	return m.Name(), nil
}

// FindByPackage returns the first repository publishing name, or nil.
func (r *Registry) FindByPackage(ctx context.Context, name string) (*core.Repository, error) {
	page, err := r.records.Find(ctx, store.Eq{Field: "package_name", Value: name}, "")
	if err != nil {
		return nil, fmt.Errorf("finding repository of %s: %w", name, err)
	}
	if len(page.Rows) == 0 {
		return nil, nil
	}
	return decode(page.Rows[0])
}

// SetPackageName records the package name of a repository.
func (r *Registry) SetPackageName(ctx context.Context, url, name string) error {
	return r.update(ctx, url, func(repo *core.Repository) bool {
		if repo.PackageName == name {
			return false
		}
		repo.PackageName = name
		return true
	})
}

// SetHash records the hash of the last published version document. An
// empty hash means nothing is published.
func (r *Registry) SetHash(ctx context.Context, url, hash string) error {
	return r.update(ctx, url, func(repo *core.Repository) bool {
		if repo.Hash == hash {
			return false
		}
		repo.Hash = hash
		return true
	})
}

// MarkInitialized sets the initialized flag. It only writes on the first
// transition; the flag is never cleared.
func (r *Registry) MarkInitialized(ctx context.Context, url string) error {
	return r.update(ctx, url, func(repo *core.Repository) bool {
		if repo.Initialized {
			return false
		}
		repo.Initialized = true
		return true
	})
}

// Published returns one page of repositories that have a published hash.
func (r *Registry) Published(ctx context.Context, cursor string) ([]*core.Repository, string, error) {
	page, err := r.records.Find(ctx, store.Exists{Field: "hash"}, cursor)
	if err != nil {
		return nil, "", fmt.Errorf("listing published repositories: %w", err)
	}
	repos := make([]*core.Repository, 0, len(page.Rows))
	for _, rec := range page.Rows {
		repo, err := decode(rec)
		if err != nil {
			return nil, "", err
		}
		if repo.Hash != "" && repo.PackageName != "" {
			repos = append(repos, repo)
		}
	}
	return repos, page.Cursor, nil
}

var errNotRegistered = errors.New("repository not registered")

// update applies fn to the stored repository and writes it back when fn
// reports a change.
func (r *Registry) update(ctx context.Context, url string, fn func(*core.Repository) bool) error {
	repo, err := r.Get(ctx, url)
	if err != nil {
		return err
	}
	if repo == nil {
		return core.E("registry.update", core.NotFound, fmt.Errorf("%s: %w", url, errNotRegistered))
	}
	if !fn(repo) {
		return nil
	}
	return r.put(ctx, repo)
}

func (r *Registry) put(ctx context.Context, repo *core.Repository) error {
	rec, err := store.Encode(repo.URL, repo)
	if err != nil {
		return core.E("registry.put", core.Other, err)
	}
	if err := r.records.Put(ctx, rec); err != nil {
		return fmt.Errorf("saving repository %s: %w", repo.URL, err)
	}
	return nil
}

func decode(rec store.Record) (*core.Repository, error) {
	var repo core.Repository
	if err := store.Decode(rec, &repo); err != nil {
		return nil, core.E("registry.decode", core.Other, err)
	}
	return &repo, nil
}
