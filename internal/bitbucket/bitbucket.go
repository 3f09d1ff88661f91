// Package bitbucket provides the source control driver for Bitbucket Cloud.
package bitbucket

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/git-pkgs/mirror/internal/core"
)

const (
	DefaultAPIURL = "https://api.bitbucket.org/2.0"
	hostType      = "bitbucket"
)

// Definition returns the driver definition for bitbucket.org.
func Definition() core.Definition {
	return core.Definition{
		HostType: hostType,
		Hosts:    []string{"bitbucket.org"},
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

// New creates a driver for a Bitbucket repository URL. App passwords are
// sent as basic auth, access tokens as bearer tokens.
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
	}
	if cred, ok := hosts.Credential(repo.Host); ok {
		switch {
		case cred.Username != "":
			client = client.WithBasicAuth(cred.Username, cred.Password)
		case cred.Token != "":
			client = client.WithHeader("Authorization", "Bearer "+cred.Token)
		}
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
		urls:   &URLs{host: strings.TrimPrefix(repo.Host, "www."), repo: repo},
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
	MainBranch struct {
		Name string `json:"name"`
	} `json:"mainbranch"`
}

type refsResponse struct {
	Values []struct {
		Name   string `json:"name"`
		Target struct {
			Hash string `json:"hash"`
		} `json:"target"`
	} `json:"values"`
	Next string `json:"next"`
}

func (d *Driver) repoAPI() string {
	return fmt.Sprintf("%s/repositories/%s/%s", d.apiURL, d.repo.Owner, d.repo.Repo)
}

func (d *Driver) Initialize(ctx context.Context) error {
	var resp repoResponse
	if err := d.client.GetJSON(ctx, d.repoAPI(), &resp); err != nil {
		return core.Classify("bitbucket.initialize", err)
	}
	d.rootRef = resp.MainBranch.Name
	if d.rootRef == "" {
		d.rootRef = "master"
	}
	return nil
}

func (d *Driver) RootIdentifier() string {
	return d.rootRef
}

func (d *Driver) Branches(ctx context.Context) (map[string]string, error) {
	return d.refs(ctx, "bitbucket.branches", d.repoAPI()+"/refs/branches?pagelen=100")
}

func (d *Driver) Tags(ctx context.Context) (map[string]string, error) {
	return d.refs(ctx, "bitbucket.tags", d.repoAPI()+"/refs/tags?pagelen=100")
}

// refs follows the "next" links Bitbucket embeds in each page.
func (d *Driver) refs(ctx context.Context, op, next string) (map[string]string, error) {
	refs := make(map[string]string)
	for next != "" {
		var page refsResponse
		if err := d.client.GetJSON(ctx, next, &page); err != nil {
			return nil, core.Classify(op, err)
		}
		for _, v := range page.Values {
			refs[v.Name] = v.Target.Hash
		}
		next = page.Next
	}
	return refs, nil
}

func (d *Driver) ComposerInformation(ctx context.Context, identifier string) (core.Manifest, error) {
	u := fmt.Sprintf("%s/src/%s/composer.json", d.repoAPI(), url.PathEscape(identifier))

	body, err := d.client.GetBody(ctx, u)
	if err != nil {
		err = core.Classify("bitbucket.composer", err)
		if core.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return core.DecodeManifest("bitbucket.composer", identifier, body)
}

func (d *Driver) Source(identifier string) core.Source {
	return core.Source{Type: "git", URL: d.urls.Clone(), Reference: identifier}
}

func (d *Driver) Dist(identifier string) *core.Dist {
	return &core.Dist{Type: "zip", URL: d.urls.Archive(identifier), Reference: identifier}
}

type URLs struct {
	host string
	repo core.RepoURL
}

func (u *URLs) Home() string {
	return fmt.Sprintf("https://%s/%s", u.host, u.repo.Path())
}

func (u *URLs) Clone() string {
	return fmt.Sprintf("https://%s/%s.git", u.host, u.repo.Path())
}

func (u *URLs) Archive(ref string) string {
	return fmt.Sprintf("https://%s/%s/get/%s.zip", u.host, u.repo.Path(), url.PathEscape(ref))
}
