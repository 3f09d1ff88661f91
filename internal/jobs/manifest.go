package jobs

import (
	"log/slog"

	"github.com/github/go-spdx/v2/spdxexp"

	"github.com/git-pkgs/mirror/internal/core"
)

// fillManifest adds the fields a published version carries besides what
// the repository's composer.json declares.
func fillManifest(m core.Manifest, name string, drv core.Driver, identifier string, logger *slog.Logger) {
	m["name"] = name
	if t, _ := m["type"].(string); t == "" {
		m["type"] = "library"
	}

	if licenses := licenseList(m["license"]); licenses != nil {
		m["license"] = licenses
		if ok, invalid := spdxexp.ValidateLicenses(licenses); !ok {
			logger.Warn("unknown license identifiers", "package", name, "licenses", invalid)
		}
	} else {
		delete(m, "license")
	}

	m["source"] = drv.Source(identifier).Map()
	if dist := drv.Dist(identifier); dist != nil {
		m["dist"] = dist.Map()
	}
}

// licenseList accepts a single license or a list of them.
func licenseList(v any) []string {
	switch l := v.(type) {
	case string:
		if l == "" {
			return nil
		}
		return []string{l}
	case []string:
		if len(l) == 0 {
			return nil
		}
		return l
	case []any:
		var out []string
		for _, item := range l {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
