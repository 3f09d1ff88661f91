package core

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Driver reads branches, tags and manifests from one hosted repository.
type Driver interface {
	// URL returns the repository URL the driver was created for.
	URL() string

	// Initialize fetches repository metadata such as the default branch.
	// It must be called before RootIdentifier.
	Initialize(ctx context.Context) error

	// RootIdentifier returns the default branch of the repository.
	RootIdentifier() string

	// Branches maps branch names to commit identifiers.
	Branches(ctx context.Context) (map[string]string, error)

	// Tags maps tag names to commit identifiers.
	Tags(ctx context.Context) (map[string]string, error)

	// ComposerInformation returns the composer.json found at identifier.
	// A missing composer.json yields a nil manifest and a nil error.
	ComposerInformation(ctx context.Context, identifier string) (Manifest, error)

	// Source returns the VCS checkout pointer for identifier.
	Source(identifier string) Source

	// Dist returns the archive pointer for identifier, or nil if the host
	// offers none.
	Dist(identifier string) *Dist
}

// Credential authenticates requests against one host.
type Credential struct {
	Token    string `yaml:"token" json:"token,omitempty"`
	Username string `yaml:"username" json:"username,omitempty"`
	Password string `yaml:"password" json:"password,omitempty"`
}

// HostConfig holds per-host settings shared by all drivers.
type HostConfig struct {
	// Domains lists extra hostnames per host type, e.g. GitHub Enterprise
	// installations under "github".
	Domains map[string][]string

	// Credentials is keyed by hostname.
	Credentials map[string]Credential

	// APIs overrides the API base URL per hostname.
	APIs map[string]string
}

// API returns the configured API base URL for host, or "".
func (h *HostConfig) API(host string) string {
	if h == nil {
		return ""
	}
	return strings.TrimSuffix(h.APIs[strings.TrimPrefix(host, "www.")], "/")
}

// Credential returns the credential configured for host.
func (h *HostConfig) Credential(host string) (Credential, bool) {
	if h == nil {
		return Credential{}, false
	}
	c, ok := h.Credentials[strings.TrimPrefix(host, "www.")]
	return c, ok
}

// RepoURL is a repository URL split into its parts.
type RepoURL struct {
	Host  string
	Owner string
	Repo  string
}

// Path returns owner/repo.
func (u RepoURL) Path() string {
	return u.Owner + "/" + u.Repo
}

// Factory creates a driver for a repository URL.
type Factory func(url string, hosts *HostConfig, client *Client) (Driver, error)

// Definition describes one hosting convention. Patterns must capture the
// named groups host, owner and repo.
type Definition struct {
	HostType string
	Hosts    []string
	Patterns []*regexp.Regexp
	New      Factory
}

// StandardPatterns recognize https, git and ssh style URLs with an optional
// .git suffix.
var StandardPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(?:https?|git)://(?:[^@/]+@)?(?P<host>[^/:]+)(?::\d+)?/(?P<owner>[^/]+)/(?P<repo>[^/]+?)(?:\.git|/)?$`),
	regexp.MustCompile(`^ssh://(?:[^@/]+@)?(?P<host>[^/:]+)(?::\d+)?/(?P<owner>[^/]+)/(?P<repo>[^/]+?)(?:\.git)?$`),
	regexp.MustCompile(`^[^@/:]+@(?P<host>[^:/]+):/?(?P<owner>[^/]+)/(?P<repo>[^/]+?)(?:\.git)?$`),
}

// Parse splits url when it matches one of the definition's patterns and
// its host belongs to the definition.
func (d Definition) Parse(hosts *HostConfig, url string) (RepoURL, bool) {
	url = strings.TrimSpace(url)
	for _, re := range d.Patterns {
		m := re.FindStringSubmatch(url)
		if m == nil {
			continue
		}
		u := RepoURL{
			Host:  strings.ToLower(m[re.SubexpIndex("host")]),
			Owner: m[re.SubexpIndex("owner")],
			Repo:  m[re.SubexpIndex("repo")],
		}
		if d.knows(hosts, u.Host) {
			return u, true
		}
	}
	return RepoURL{}, false
}

// Supports reports whether the definition recognizes url. It never touches
// the network.
func (d Definition) Supports(hosts *HostConfig, url string) bool {
	_, ok := d.Parse(hosts, url)
	return ok
}

func (d Definition) knows(hosts *HostConfig, host string) bool {
	host = strings.TrimPrefix(host, "www.")
	for _, h := range d.Hosts {
		if h == host {
			return true
		}
	}
	if hosts != nil {
		for _, h := range hosts.Domains[d.HostType] {
			if strings.TrimPrefix(strings.ToLower(h), "www.") == host {
				return true
			}
		}
	}
	return false
}

// Selector picks drivers from a closed, ordered list of definitions. The
// first definition that supports a URL wins.
type Selector struct {
	defs   []Definition
	hosts  *HostConfig
	client *Client
}

// NewSelector creates a selector. If client is nil, DefaultClient() is used.
func NewSelector(hosts *HostConfig, client *Client, defs ...Definition) *Selector {
	if client == nil {
		client = DefaultClient()
	}
	return &Selector{defs: defs, hosts: hosts, client: client}
}

// HostTypes returns the host types in selection order.
func (s *Selector) HostTypes() []string {
	types := make([]string, 0, len(s.defs))
	for _, d := range s.defs {
		types = append(types, d.HostType)
	}
	return types
}

// Match returns the first definition supporting url.
func (s *Selector) Match(url string) (Definition, error) {
	for _, d := range s.defs {
		if d.Supports(s.hosts, url) {
			return d, nil
		}
	}
	return Definition{}, &UnsupportedError{URL: url, Tried: s.HostTypes()}
}

// Canonical returns url as lower case host/owner/repo, the same for its
// https, git and ssh spellings. It returns "" when no definition matches.
func (s *Selector) Canonical(url string) string {
	for _, d := range s.defs {
		if u, ok := d.Parse(s.hosts, url); ok {
			return strings.ToLower(strings.TrimPrefix(u.Host, "www.") + "/" + u.Path())
		}
	}
	return ""
}

// Lookup returns the definition registered for hostType.
func (s *Selector) Lookup(hostType string) (Definition, bool) {
	for _, d := range s.defs {
		if d.HostType == hostType {
			return d, true
		}
	}
	return Definition{}, false
}

// Resolve validates url against hostType, or detects the host type when
// hostType is empty.
func (s *Selector) Resolve(url, hostType string) (Definition, error) {
	if hostType == "" {
		return s.Match(url)
	}
	d, ok := s.Lookup(hostType)
	if !ok {
		return Definition{}, fmt.Errorf("unknown host type %q: %w", hostType, &UnsupportedError{URL: url, Tried: s.HostTypes()})
	}
	if !d.Supports(s.hosts, url) {
		return Definition{}, &UnsupportedError{URL: url, Tried: []string{hostType}}
	}
	return d, nil
}

// Driver creates the driver for a repository.
func (s *Selector) Driver(url, hostType string) (Driver, error) {
	d, err := s.Resolve(url, hostType)
	if err != nil {
		return nil, err
	}
	return d.New(url, s.hosts, s.client)
}
