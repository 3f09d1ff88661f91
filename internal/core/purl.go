package core

import (
	"strings"

	packageurl "github.com/package-url/packageurl-go"
)

// PURL returns the package URL of a version, e.g.
// pkg:composer/monolog/monolog@3.5.0.
func (p *PackageVersion) PURL() string {
	return ComposerPURL(p.Name, p.Version)
}

// ComposerPURL builds a composer package URL. version may be empty.
func ComposerPURL(name, version string) string {
	namespace, short := "", name
	if idx := strings.Index(name, "/"); idx >= 0 {
		namespace, short = name[:idx], name[idx+1:]
	}
	return packageurl.NewPackageURL("composer", namespace, short, version, nil, "").ToString()
}

// ParsePURL splits a composer package URL into package name and version.
func ParsePURL(purl string) (name, version string, err error) {
	p, err := packageurl.FromString(purl)
	if err != nil {
		return "", "", err
	}
	name = p.Name
	if p.Namespace != "" {
		name = p.Namespace + "/" + p.Name
	}
	return name, p.Version, nil
}
