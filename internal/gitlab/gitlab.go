// Package gitlab provides the source control driver for GitLab, including
// self-hosted instances and nested group namespaces.
package gitlab

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/git-pkgs/mirror/internal/core"
)

const hostType = "gitlab"

// Patterns allow the owner to span several path segments (group/subgroup).
var Patterns = []*regexp.Regexp{
	regexp.MustCompile(`^(?:https?|git)://(?:[^@/]+@)?(?P<host>[^/:]+)(?::\d+)?/(?P<owner>[^/]+(?:/[^/]+)*?)/(?P<repo>[^/]+?)(?:\.git|/)?$`),
	regexp.MustCompile(`^ssh://(?:[^@/]+@)?(?P<host>[^/:]+)(?::\d+)?/(?P<owner>[^/]+(?:/[^/]+)*?)/(?P<repo>[^/]+?)(?:\.git)?$`),
	regexp.MustCompile(`^[^@/:]+@(?P<host>[^:/]+):/?(?P<owner>[^/]+(?:/[^/]+)*?)/(?P<repo>[^/]+?)(?:\.git)?$`),
}

// Definition returns the driver definition for gitlab.com and configured
// self-hosted domains.
func Definition() core.Definition {
	return core.Definition{
		HostType: hostType,
		Hosts:    []string{"gitlab.com"},
		Patterns: Patterns,
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

// New creates a driver for a GitLab repository URL.
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
		apiURL = "https://" + strings.TrimPrefix(repo.Host, "www.") + "/api/v4"
	}
	if cred, ok := hosts.Credential(repo.Host); ok && cred.Token != "" {
		client = client.WithHeader("PRIVATE-TOKEN", cred.Token)
	}
	return NewDriver(rawURL, repo, apiURL, client), nil
}

// NewDriver creates a driver talking to apiURL.
func NewDriver(rawURL string, repo core.RepoURL, apiURL string, client *core.Client) *Driver {
	apiURL = strings.TrimSuffix(apiURL, "/")
	return &Driver{
		url:    rawURL,
		repo:   repo,
		apiURL: apiURL,
		client: client,
		urls:   &URLs{host: strings.TrimPrefix(repo.Host, "www."), repo: repo, apiURL: apiURL},
	}
}

func (d *Driver) URL() string {
	return d.url
}

// URLs returns the public URLs of the repository.
func (d *Driver) URLs() core.URLBuilder {
	return d.urls
}

type projectResponse struct {
	DefaultBranch string `json:"default_branch"`
	HTTPURL       string `json:"http_url_to_repo"`
}

type refResponse struct {
	Name   string `json:"name"`
	Commit struct {
		ID string `json:"id"`
	} `json:"commit"`
}

// projectAPI addresses the project by its URL-encoded full path.
func (d *Driver) projectAPI() string {
	return d.urls.project()
}

func (d *Driver) Initialize(ctx context.Context) error {
	var resp projectResponse
	if err := d.client.GetJSON(ctx, d.projectAPI(), &resp); err != nil {
		return core.Classify("gitlab.initialize", err)
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
	return d.refs(ctx, "gitlab.branches", d.projectAPI()+"/repository/branches?per_page=100")
}

func (d *Driver) Tags(ctx context.Context) (map[string]string, error) {
	return d.refs(ctx, "gitlab.tags", d.projectAPI()+"/repository/tags?per_page=100")
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
			refs[r.Name] = r.Commit.ID
		}
		next = core.NextLink(resp.Header.Get("Link"))
	}
	return refs, nil
}

func (d *Driver) ComposerInformation(ctx context.Context, identifier string) (core.Manifest, error) {
	u := fmt.Sprintf("%s/repository/files/composer.json/raw?ref=%s", d.projectAPI(), url.QueryEscape(identifier))

	body, err := d.client.GetBody(ctx, u)
	if err != nil {
		err = core.Classify("gitlab.composer", err)
		if core.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return core.DecodeManifest("gitlab.composer", identifier, body)
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

func (u *URLs) project() string {
	return fmt.Sprintf("%s/projects/%s", u.apiURL, url.PathEscape(u.repo.Path()))
}

func (u *URLs) Home() string {
	return fmt.Sprintf("https://%s/%s", u.host, u.repo.Path())
}

func (u *URLs) Clone() string {
	return fmt.Sprintf("https://%s/%s.git", u.host, u.repo.Path())
}

func (u *URLs) Archive(ref string) string {
	return fmt.Sprintf("%s/repository/archive.zip?sha=%s", u.project(), url.QueryEscape(ref))
}
