// Package core provides the shared data model, error taxonomy and the
// source control driver abstraction.
package core

// Manifest is a composer.json document for one version of a package.
type Manifest map[string]any

// Name returns the package name declared in the manifest, if any.
func (m Manifest) Name() string {
	name, _ := m["name"].(string)
	return name
}

// Repository is a registered source repository.
type Repository struct {
	URL         string `json:"url"`
	HostType    string `json:"host_type"`
	PackageName string `json:"package_name,omitempty"` // set after the first manifest was read
	Hash        string `json:"hash,omitempty"`         // last published version document hash
	Initialized bool   `json:"initialized"`
	Key         string `json:"key,omitempty"` // host/owner/repo, shared by every spelling of URL
}

// PackageVersion is one published version of a package.
type PackageVersion struct {
	Name              string   `json:"name"`
	Version           string   `json:"version"`
	VersionNormalized string   `json:"version_normalized"`
	Manifest          Manifest `json:"manifest"`
	Downloads         int64    `json:"downloads"`
}

// Identity returns the catalog key of the version.
func (p *PackageVersion) Identity() string {
	return Identity(p.Name, p.VersionNormalized)
}

// Identity builds a catalog key from a package name and normalized version.
func Identity(name, normalized string) string {
	return name + ":" + normalized
}

// Source points at the VCS checkout of a version.
type Source struct {
	Type      string `json:"type"`
	URL       string `json:"url"`
	Reference string `json:"reference"`
}

// Map returns the source in manifest form.
func (s Source) Map() map[string]any {
	return map[string]any{
		"type":      s.Type,
		"url":       s.URL,
		"reference": s.Reference,
	}
}

// Dist points at a downloadable archive of a version.
type Dist struct {
	Type      string `json:"type"`
	URL       string `json:"url"`
	Reference string `json:"reference"`
	Shasum    string `json:"shasum"`
}

// Map returns the dist in manifest form.
func (d Dist) Map() map[string]any {
	return map[string]any{
		"type":      d.Type,
		"url":       d.URL,
		"reference": d.Reference,
		"shasum":    d.Shasum,
	}
}
