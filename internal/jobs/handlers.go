package jobs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/git-pkgs/mirror/internal/catalog"
	"github.com/git-pkgs/mirror/internal/core"
	"github.com/git-pkgs/mirror/internal/publish"
	"github.com/git-pkgs/mirror/internal/queue"
	"github.com/git-pkgs/mirror/internal/registry"
	"github.com/git-pkgs/mirror/internal/version"
)

// Deps are the collaborators the handlers share.
type Deps struct {
	Registry  *registry.Registry
	Catalog   *catalog.Catalog
	Publisher *publish.Publisher
	Transport queue.Transport
	Logger    *slog.Logger
	Config    Config
}

// Handlers returns every job handler wrapped in a Receiver.
func Handlers(d Deps) []queue.Handler {
	if d.Logger == nil {
		d.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	d.Config = d.Config.withDefaults()

	handlers := []queue.Handler{
		&refreshPackages{base{d, queue.RefreshPackages}},
		&refreshPackage{base: base{d, queue.RefreshPackage}, pending: make(map[string]struct{})},
		&deletePackage{base{d, queue.DeletePackage}},
		&deletePackages{base{d, queue.DeletePackages}},
		&buildCache{base{d, queue.BuildPackageVersionsCache}},
	}
	out := make([]queue.Handler, len(handlers))
	for i, h := range handlers {
		out[i] = NewReceiver(h, d.Transport, d.Config, d.Logger)
	}
	return out
}

type base struct {
	Deps
	kind queue.Type
}

func (b base) Supports(job *queue.Job) bool {
	return job.Type == b.kind
}

func (b base) Finish(context.Context) error {
	return nil
}

func (b base) build(ctx context.Context, name string) error {
	return b.Transport.Send(ctx, queue.NewBuildPackageVersionsCache(name), b.Config.BuildDelay)
}

// refreshPackages scans a repository and fans out one refresh-package job
// per branch and tag.
type refreshPackages struct{ base }

func (h *refreshPackages) Handle(ctx context.Context, job *queue.Job) error {
	bound, err := h.Registry.GetAndInit(ctx, job.RepositoryURL, job.Force)
	if err != nil {
		return err
	}
	if bound == nil {
		h.Logger.Info("repository not registered", "repository", job.RepositoryURL)
		return nil
	}

	branches, err := bound.Driver.Branches(ctx)
	if err != nil {
		return err
	}
	tags, err := bound.Driver.Tags(ctx)
	if err != nil {
		return err
	}

	var out []*queue.Job
	for _, branch := range sortedKeys(branches) {
		name := "dev-" + branch
		if _, err := version.Normalize(name); err != nil {
			h.Logger.Info("skipping branch", "repository", bound.URL, "branch", branch, "error", err)
			continue
		}
		out = append(out, queue.NewRefreshPackage(bound.URL, branches[branch], name, job.Force))
	}
	for _, tag := range sortedKeys(tags) {
		if _, err := version.Normalize(tag); err != nil {
			h.Logger.Info("skipping invalid tag", "repository", bound.URL, "tag", tag, "error", err)
			continue
		}
		out = append(out, queue.NewRefreshPackage(bound.URL, tags[tag], tag, job.Force))
	}

	h.Logger.Info("repository scanned",
		"repository", bound.URL,
		"package", bound.PackageName,
		"branches", len(branches),
		"tags", len(tags),
		"jobs", len(out),
	)
	return h.Transport.SendBatch(ctx, out, 0)
}

// refreshPackage reads one manifest and stores it as a package version.
// Builds for the touched packages are sent once per batch from Finish.
type refreshPackage struct {
	base
	mu      sync.Mutex
	pending map[string]struct{}
}

func (h *refreshPackage) Handle(ctx context.Context, job *queue.Job) error {
	bound, err := h.Registry.GetAndInit(ctx, job.RepositoryURL, false)
	if err != nil {
		return err
	}
	if bound == nil {
		h.Logger.Info("repository not registered", "repository", job.RepositoryURL)
		return nil
	}
	name := bound.PackageName

	normalized, err := version.Normalize(job.Version)
	if err != nil {
		return err
	}
	if !job.Force {
		existing, err := h.Catalog.Find(ctx, name, normalized)
		if err != nil {
			return err
		}
		if existing != nil {
			h.Logger.Debug("version known", "package", name, "version", job.Version)
			return nil
		}
	}

	manifest, err := bound.Driver.ComposerInformation(ctx, job.Identifier)
	if err != nil {
		return err
	}
	if manifest == nil {
		h.Logger.Info("skipping version without composer.json", "repository", bound.URL, "version", job.Version)
		return nil
	}
	if declared := manifest.Name(); declared != "" && declared != name {
		h.Logger.Warn("skipping version of another package",
			"repository", bound.URL, "version", job.Version, "package", name, "declared", declared)
		return nil
	}
	fillManifest(manifest, name, bound.Driver, job.Identifier, h.Logger)

	pv := &core.PackageVersion{
		Name:              name,
		Version:           job.Version,
		VersionNormalized: normalized,
		Manifest:          manifest,
	}
	if err := h.Catalog.Update(ctx, pv); err != nil {
		return err
	}
	if err := h.Registry.MarkInitialized(ctx, bound.URL); err != nil {
		return err
	}
	h.Logger.Info("version refreshed", "package", name, "version", job.Version, "purl", pv.PURL())

	h.mu.Lock()
	h.pending[name] = struct{}{}
	h.mu.Unlock()
	return nil
}

func (h *refreshPackage) Finish(ctx context.Context) error {
	h.mu.Lock()
	names := sortedKeys(h.pending)
	h.pending = make(map[string]struct{})
	h.mu.Unlock()

	if len(names) == 0 {
		return nil
	}
	out := make([]*queue.Job, len(names))
	for i, name := range names {
		out[i] = queue.NewBuildPackageVersionsCache(name)
	}

	err := h.Transport.SendBatch(ctx, out, h.Config.BuildDelay)
	if err != nil && core.IsTransient(err) {
		err = h.retryBuilds(ctx, out, err)
	}
	if err != nil {
		// Redelivered refreshes of stored versions add nothing to pending,
		// so the owed builds stay here for the next batch.
		h.mu.Lock()
		for _, name := range names {
			h.pending[name] = struct{}{}
		}
		h.mu.Unlock()
		return err
	}
	return nil
}

func (h *refreshPackage) retryBuilds(ctx context.Context, builds []*queue.Job, cause error) error {
	retries := make([]*queue.Job, len(builds))
	var delay time.Duration
	for i, job := range builds {
		retries[i], delay = h.Config.retry(job)
	}
	if err := h.Transport.SendBatch(ctx, retries, delay); err != nil {
		return fmt.Errorf("re-enqueueing builds after %v: %w", cause, err)
	}
	h.Logger.Warn("build jobs retried", "packages", len(builds), "delay", delay, "error", cause)
	return nil
}

// deletePackage removes one version if present.
type deletePackage struct{ base }

func (h *deletePackage) Handle(ctx context.Context, job *queue.Job) error {
	normalized, err := version.Normalize(job.Version)
	if err != nil {
		normalized = job.Version
	}
	pv, err := h.Catalog.Find(ctx, job.Name, normalized)
	if err != nil {
		return err
	}
	if pv != nil {
		if err := h.Catalog.Delete(ctx, pv); err != nil {
			return err
		}
		h.Logger.Info("version deleted", "package", job.Name, "version", job.Version)
	}
	return h.build(ctx, job.Name)
}

// deletePackages removes one page of versions and re-enqueues itself while
// more remain.
type deletePackages struct{ base }

func (h *deletePackages) Handle(ctx context.Context, job *queue.Job) error {
	more, err := h.Catalog.DeleteAllFor(ctx, job.Name)
	if err != nil {
		return err
	}
	if more {
		return h.Transport.Send(ctx, job, 0)
	}
	return h.build(ctx, job.Name)
}

// buildCache republishes the version document of a package.
type buildCache struct{ base }

func (h *buildCache) Handle(ctx context.Context, job *queue.Job) error {
	_, err := h.Publisher.BuildVersions(ctx, job.Name)
	return err
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
