// Package mirror reads Composer packages from hosted git repositories and
// republishes them as a static Packagist-style catalog.
//
// The package re-exports the source control drivers so callers can inspect a
// repository without running the whole mirror:
//
//	import (
//		"context"
//		"github.com/git-pkgs/mirror"
//	)
//
//	sel := mirror.NewSelector(nil, mirror.DefaultClient())
//	drv, err := sel.Driver("https://github.com/monolog/monolog", "")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := drv.Initialize(context.Background()); err != nil {
//		log.Fatal(err)
//	}
//	m, err := drv.ComposerInformation(context.Background(), drv.RootIdentifier())
//	fmt.Println(m.Name())
//
// The mirror itself is assembled by internal/app and driven by cmd/mirror.
package mirror

import (
	"github.com/git-pkgs/mirror/all"
	"github.com/git-pkgs/mirror/client"
	"github.com/git-pkgs/mirror/internal/core"
	"github.com/git-pkgs/mirror/internal/version"
)

// Re-export core types
type (
	Repository     = core.Repository
	PackageVersion = core.PackageVersion
	Manifest       = core.Manifest
	Source         = core.Source
	Dist           = core.Dist
	Driver         = core.Driver
	Definition     = core.Definition
	Selector       = core.Selector
	HostConfig     = core.HostConfig
	Credential     = core.Credential
	Error          = core.Error
	Kind           = core.Kind
)

// Re-export error kinds
const (
	KindOther             = core.Other
	KindInvalidVersion    = core.InvalidVersion
	KindDriverUnsupported = core.DriverUnsupported
	KindManifestNotFound  = core.ManifestNotFound
	KindTransport         = core.Transport
	KindNotFound          = core.NotFound
	KindOverload          = core.Overload
	KindIdentityConflict  = core.IdentityConflict
)

// Re-export error types
type (
	UnsupportedError    = core.UnsupportedError
	InvalidVersionError = version.InvalidError
	HTTPError           = client.HTTPError
	RateLimitError      = client.RateLimitError
)

var (
	ErrNotFound       = client.ErrNotFound
	ErrInvalidVersion = version.ErrInvalidVersion
)

// Re-export client types and options
type (
	Client     = client.Client
	Option     = client.Option
	URLBuilder = client.URLBuilder
)

var (
	DefaultClient  = client.DefaultClient
	NewClient      = client.NewClient
	WithTimeout    = client.WithTimeout
	WithMaxRetries = client.WithMaxRetries
	WithBaseDelay  = client.WithBaseDelay
	WithTransport  = client.WithTransport
	BuildURLs      = client.BuildURLs
)

var (
	KindOf      = core.KindOf
	IsTransient = core.IsTransient
	IsNotFound  = core.IsNotFound
)

// Normalize converts a tag name into its canonical four-component form,
// e.g. "v1.2" becomes "1.2.0.0".
func Normalize(v string) (string, error) {
	return version.Normalize(v)
}

// NormalizeBranch converts a branch name into a dev version, e.g. "main"
// becomes "dev-main" and "1.x" becomes "1.9999999.9999999.9999999-dev".
func NormalizeBranch(branch string) (string, error) {
	return version.NormalizeBranch(branch)
}

// NewSelector returns a selector over every supported host type.
// If client is nil, DefaultClient() is used.
func NewSelector(hosts *HostConfig, c *Client) *Selector {
	return core.NewSelector(hosts, c, all.Definitions()...)
}

// SupportedHostTypes returns the host types in selection order.
func SupportedHostTypes() []string {
	return NewSelector(nil, nil).HostTypes()
}

// ComposerPURL builds a composer package URL such as
// pkg:composer/monolog/monolog@3.5.0. version may be empty.
func ComposerPURL(name, version string) string {
	return core.ComposerPURL(name, version)
}

// ParsePURL splits a composer package URL into package name and version.
func ParsePURL(purl string) (name, version string, err error) {
	return core.ParsePURL(purl)
}
