// Package drivertest provides an in-memory source control host for tests.
package drivertest

import (
	"context"
	"maps"
	"sync"

	"github.com/git-pkgs/mirror/internal/core"
)

const HostType = "fake"

// Repo is the content of one fake repository.
type Repo struct {
	Root      string
	Branches  map[string]string
	Tags      map[string]string
	Manifests map[string]core.Manifest // by identifier
}

// Host serves fake repositories under https://fake.test/{owner}/{repo}.
type Host struct {
	mu    sync.Mutex
	repos map[string]*Repo
	errs  map[string]error // by operation: initialize, branches, tags, composer
	calls map[string]int
}

func NewHost() *Host {
	return &Host{
		repos: make(map[string]*Repo),
		errs:  make(map[string]error),
		calls: make(map[string]int),
	}
}

// Add registers repository content for url.
func (h *Host) Add(url string, repo *Repo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if repo.Branches == nil {
		repo.Branches = map[string]string{}
	}
	if repo.Tags == nil {
		repo.Tags = map[string]string{}
	}
	if repo.Manifests == nil {
		repo.Manifests = map[string]core.Manifest{}
	}
	h.repos[url] = repo
}

// Fail makes every call of op return err until cleared with a nil err.
func (h *Host) Fail(op string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err == nil {
		delete(h.errs, op)
		return
	}
	h.errs[op] = err
}

// Calls returns how often op was invoked.
func (h *Host) Calls(op string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[op]
}

func (h *Host) call(url, op string) (*Repo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls[op]++
	if err := h.errs[op]; err != nil {
		return nil, err
	}
	repo, ok := h.repos[url]
	if !ok {
		return nil, core.E("fake."+op, core.NotFound, nil)
	}
	return repo, nil
}

// Definition returns a driver definition for fake.test backed by h.
func (h *Host) Definition() core.Definition {
	return core.Definition{
		HostType: HostType,
		Hosts:    []string{"fake.test"},
		Patterns: core.StandardPatterns,
		New: func(url string, _ *core.HostConfig, _ *core.Client) (core.Driver, error) {
			return &Driver{host: h, url: url}, nil
		},
	}
}

// Selector returns a selector that only knows the fake host.
func (h *Host) Selector() *core.Selector {
	return core.NewSelector(nil, nil, h.Definition())
}

type Driver struct {
	host *Host
	url  string
	root string
}

func (d *Driver) URL() string {
	return d.url
}

func (d *Driver) Initialize(context.Context) error {
	repo, err := d.host.call(d.url, "initialize")
	if err != nil {
		return err
	}
	d.root = repo.Root
	return nil
}

func (d *Driver) RootIdentifier() string {
	return d.root
}

func (d *Driver) Branches(context.Context) (map[string]string, error) {
	repo, err := d.host.call(d.url, "branches")
	if err != nil {
		return nil, err
	}
	return maps.Clone(repo.Branches), nil
}

func (d *Driver) Tags(context.Context) (map[string]string, error) {
	repo, err := d.host.call(d.url, "tags")
	if err != nil {
		return nil, err
	}
	return maps.Clone(repo.Tags), nil
}

func (d *Driver) ComposerInformation(_ context.Context, identifier string) (core.Manifest, error) {
	repo, err := d.host.call(d.url, "composer")
	if err != nil {
		return nil, err
	}
	m, ok := repo.Manifests[identifier]
	if !ok {
		return nil, nil
	}
	return maps.Clone(m), nil
}

func (d *Driver) Source(identifier string) core.Source {
	return core.Source{Type: "git", URL: d.url + ".git", Reference: identifier}
}

func (d *Driver) Dist(identifier string) *core.Dist {
	return &core.Dist{Type: "zip", URL: d.url + "/archive/" + identifier + ".zip", Reference: identifier}
}
