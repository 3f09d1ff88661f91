// Package github provides the source control driver for GitHub and GitHub
// Enterprise repositories.
package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/git-pkgs/mirror/internal/core"
)

const (
	DefaultAPIURL = "https://api.github.com"
	hostType      = "github"
)

// Definition returns the driver definition for github.com and configured
// enterprise domains.
func Definition() core.Definition {
	return core.Definition{
		HostType: hostType,
		Hosts:    []string{"github.com"},
		Patterns: core.StandardPatterns,
		New:      New,
	}
}

type Driver struct {
	url     string
	repo    core.RepoURL
	apiURL  string
	client  *core.Client
	urls    *URLs
	rootRef string
}

// New creates a driver for a GitHub repository URL.
func New(rawURL string, hosts *core.HostConfig, client *core.Client) (core.Driver, error) {
	repo, ok := Definition().Parse(hosts, rawURL)
	if !ok {
		return nil, &core.UnsupportedError{URL: rawURL, Tried: []string{hostType}}
	}
	if client == nil {
		client = core.DefaultClient()
	}

	apiURL := hosts.API(repo.Host)
	if apiURL == "" {
		apiURL = DefaultAPIURL
		if strings.TrimPrefix(repo.Host, "www.") != "github.com" {
			apiURL = "https://" + repo.Host + "/api/v3"
		}
	}

	client = client.WithHeader("Accept", "application/vnd.github+json")
	if cred, ok := hosts.Credential(repo.Host); ok && cred.Token != "" {
		client = client.WithHeader("Authorization", "token "+cred.Token)
	}
	return NewDriver(rawURL, repo, apiURL, client), nil
}

// NewDriver creates a driver talking to apiURL.
func NewDriver(rawURL string, repo core.RepoURL, apiURL string, client *core.Client) *Driver {
	return &Driver{
		url:    rawURL,
		repo:   repo,
		apiURL: strings.TrimSuffix(apiURL, "/"),
		client: client,
		urls:   &URLs{host: strings.TrimPrefix(repo.Host, "www."), repo: repo, apiURL: strings.TrimSuffix(apiURL, "/")},
	}
}

func (d *Driver) URL() string {
	return d.url
}

// URLs returns the public URLs of the repository.
func (d *Driver) URLs() core.URLBuilder {
	return d.urls
}

type repoResponse struct {
	DefaultBranch string `json:"default_branch"`
	CloneURL      string `json:"clone_url"`
}

type refResponse struct {
	Name   string `json:"name"`
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

type contentsResponse struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

func (d *Driver) repoAPI() string {
	return fmt.Sprintf("%s/repos/%s/%s", d.apiURL, d.repo.Owner, d.repo.Repo)
}

func (d *Driver) Initialize(ctx context.Context) error {
	var resp repoResponse
	if err := d.client.GetJSON(ctx, d.repoAPI(), &resp); err != nil {
		return core.Classify("github.initialize", err)
	}
	d.rootRef = resp.DefaultBranch
	if d.rootRef == "" {
		d.rootRef = "master"
	}
	return nil
}

func (d *Driver) RootIdentifier() string {
	return d.rootRef
}

func (d *Driver) Branches(ctx context.Context) (map[string]string, error) {
	return d.refs(ctx, "github.branches", d.repoAPI()+"/branches?per_page=100")
}

func (d *Driver) Tags(ctx context.Context) (map[string]string, error) {
	return d.refs(ctx, "github.tags", d.repoAPI()+"/tags?per_page=100")
}

func (d *Driver) refs(ctx context.Context, op, next string) (map[string]string, error) {
	refs := make(map[string]string)
	for next != "" {
		resp, err := d.client.Get(ctx, next)
		if err != nil {
			return nil, core.Classify(op, err)
		}
		var page []refResponse
		if err := resp.DecodeJSON(&page); err != nil {
			return nil, core.Classify(op, err)
		}
		for _, r := range page {
			refs[r.Name] = r.Commit.SHA
		}
		next = core.NextLink(resp.Header.Get("Link"))
	}
	return refs, nil
}

func (d *Driver) ComposerInformation(ctx context.Context, identifier string) (core.Manifest, error) {
	u := fmt.Sprintf("%s/contents/composer.json?ref=%s", d.repoAPI(), url.QueryEscape(identifier))

	var resp contentsResponse
	if err := d.client.GetJSON(ctx, u, &resp); err != nil {
		err = core.Classify("github.composer", err)
		if core.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if resp.Encoding != "base64" {
		return nil, core.E("github.composer", core.Other, fmt.Errorf("unexpected content encoding %q", resp.Encoding))
	}
	body, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(resp.Content, "\n", ""))
	if err != nil {
		return nil, core.E("github.composer", core.Other, fmt.Errorf("decoding composer.json at %s: %w", identifier, err))
	}
	return core.DecodeManifest("github.composer", identifier, body)
}

func (d *Driver) Source(identifier string) core.Source {
	return core.Source{Type: "git", URL: d.urls.Clone(), Reference: identifier}
}

func (d *Driver) Dist(identifier string) *core.Dist {
	return &core.Dist{Type: "zip", URL: d.urls.Archive(identifier), Reference: identifier}
}

type URLs struct {
	host   string
	repo   core.RepoURL
	apiURL string
}

func (u *URLs) Home() string {
	return fmt.Sprintf("https://%s/%s", u.host, u.repo.Path())
}

func (u *URLs) Clone() string {
	return fmt.Sprintf("https://%s/%s.git", u.host, u.repo.Path())
}

func (u *URLs) Archive(ref string) string {
	return fmt.Sprintf("%s/repos/%s/zipball/%s", u.apiURL, u.repo.Path(), ref)
}
