// Package service holds the entry points that turn user and webhook
// requests into jobs.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/git-pkgs/mirror/internal/catalog"
	"github.com/git-pkgs/mirror/internal/core"
	"github.com/git-pkgs/mirror/internal/queue"
	"github.com/git-pkgs/mirror/internal/registry"
	"github.com/git-pkgs/mirror/internal/version"
)

var ErrNotRegistered = errors.New("repository not registered")

// Outcome describes what an operation did.
type Outcome struct {
	Message     string   `json:"message"`
	Identifiers []string `json:"identifiers,omitempty"`
}

type Service struct {
	registry  *registry.Registry
	catalog   *catalog.Catalog
	transport queue.Transport
	logger    *slog.Logger
}

func New(reg *registry.Registry, cat *catalog.Catalog, transport queue.Transport, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{registry: reg, catalog: cat, transport: transport, logger: logger}
}

// Register records a repository and schedules its first scan.
func (s *Service) Register(ctx context.Context, url, hostType string) (*Outcome, error) {
	repo, err := s.registry.Register(ctx, url, hostType)
	if err != nil {
		return nil, err
	}
	if err := s.transport.Send(ctx, queue.NewRefreshPackages(repo.URL, false), 0); err != nil {
		return nil, err
	}
	return &Outcome{
		Message:     fmt.Sprintf("repository %s registered as %s", repo.URL, repo.HostType),
		Identifiers: []string{repo.URL},
	}, nil
}

// Unregister removes a repository and schedules the removal of its
// package versions.
func (s *Service) Unregister(ctx context.Context, url string) (*Outcome, error) {
	repo, err := s.repository(ctx, url)
	if err != nil {
		return nil, err
	}
	if _, err := s.registry.Unregister(ctx, url); err != nil {
		return nil, err
	}
	out := &Outcome{Message: fmt.Sprintf("repository %s unregistered", url), Identifiers: []string{url}}
	if repo.PackageName != "" {
		if err := s.transport.Send(ctx, queue.NewDeletePackages(repo.PackageName), 0); err != nil {
			return nil, err
		}
		out.Identifiers = append(out.Identifiers, repo.PackageName)
	}
	return out, nil
}

// Refresh schedules a scan of a registered repository.
func (s *Service) Refresh(ctx context.Context, url string, force bool) (*Outcome, error) {
	if _, err := s.repository(ctx, url); err != nil {
		return nil, err
	}
	if err := s.transport.Send(ctx, queue.NewRefreshPackages(url, force), 0); err != nil {
		return nil, err
	}
	return &Outcome{Message: fmt.Sprintf("refresh of %s scheduled", url), Identifiers: []string{url}}, nil
}

// Delete schedules the removal of one version, or of every version when
// ver is empty.
func (s *Service) Delete(ctx context.Context, name, ver string) (*Outcome, error) {
	if ver == "" {
		if err := s.transport.Send(ctx, queue.NewDeletePackages(name), 0); err != nil {
			return nil, err
		}
		return &Outcome{Message: fmt.Sprintf("deletion of %s scheduled", name), Identifiers: []string{name}}, nil
	}
	normalized, err := version.Normalize(ver)
	if err != nil {
		return nil, err
	}
	if err := s.transport.Send(ctx, queue.NewDeletePackage(name, ver), 0); err != nil {
		return nil, err
	}
	return &Outcome{
		Message:     fmt.Sprintf("deletion of %s %s scheduled", name, ver),
		Identifiers: []string{core.Identity(name, normalized)},
	}, nil
}

// Push is a ref change reported by a source control host.
type Push struct {
	RepositoryURL string
	Ref           string // refs/heads/<branch> or refs/tags/<tag>
	After         string // commit the ref points at now
	Deleted       bool
}

// RefVersion maps a git ref to the version it publishes.
func RefVersion(ref string) (string, bool) {
	switch {
	case strings.HasPrefix(ref, "refs/heads/"):
		return "dev-" + strings.TrimPrefix(ref, "refs/heads/"), true
	case strings.HasPrefix(ref, "refs/tags/"):
		return strings.TrimPrefix(ref, "refs/tags/"), true
	}
	return "", false
}

// HandlePush refreshes a created or updated ref and deletes the version of
// a removed ref. Deletions are skipped for repositories that never
// published a version.
func (s *Service) HandlePush(ctx context.Context, p Push) (*Outcome, error) {
	repo, err := s.registry.Lookup(ctx, p.RepositoryURL)
	if err != nil {
		return nil, err
	}
	if repo == nil {
		return nil, core.E("service", core.NotFound, fmt.Errorf("%s: %w", p.RepositoryURL, ErrNotRegistered))
	}
	ver, ok := RefVersion(p.Ref)
	if !ok {
		return &Outcome{Message: fmt.Sprintf("ignored ref %s", p.Ref)}, nil
	}
	normalized, err := version.Normalize(ver)
	if err != nil {
		return nil, err
	}

	if p.Deleted {
		if !repo.Initialized || repo.PackageName == "" {
			s.logger.Info("skipping deletion for uninitialized repository", "repository", repo.URL, "ref", p.Ref)
			return &Outcome{Message: fmt.Sprintf("repository %s not initialized, nothing to delete", repo.URL)}, nil
		}
		if err := s.transport.Send(ctx, queue.NewDeletePackage(repo.PackageName, ver), 0); err != nil {
			return nil, err
		}
		return &Outcome{
			Message:     fmt.Sprintf("deletion of %s %s scheduled", repo.PackageName, ver),
			Identifiers: []string{core.Identity(repo.PackageName, normalized)},
		}, nil
	}

	if err := s.transport.Send(ctx, queue.NewRefreshPackage(repo.URL, p.After, ver, true), 0); err != nil {
		return nil, err
	}
	return &Outcome{
		Message:     fmt.Sprintf("refresh of %s %s scheduled", repo.URL, ver),
		Identifiers: []string{p.After},
	}, nil
}

// Download is one entry of a notify-batch request.
type Download struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// TrackDownloads counts downloads of known versions. Unknown versions are
// ignored.
func (s *Service) TrackDownloads(ctx context.Context, downloads []Download) (*Outcome, error) {
	out := &Outcome{}
	for _, d := range downloads {
		counted, err := s.catalog.TrackDownload(ctx, d.Name, d.Version)
		if err != nil {
			return nil, err
		}
		if counted {
			out.Identifiers = append(out.Identifiers, core.ComposerPURL(d.Name, d.Version))
		}
	}
	out.Message = fmt.Sprintf("%d of %d downloads counted", len(out.Identifiers), len(downloads))
	return out, nil
}

func (s *Service) repository(ctx context.Context, url string) (*core.Repository, error) {
	repo, err := s.registry.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	if repo == nil {
		return nil, core.E("service", core.NotFound, fmt.Errorf("%s: %w", url, ErrNotRegistered))
	}
	return repo, nil
}
