// Package version normalizes composer version and branch strings into their
// canonical comparable form.
//
// Normalized versions have a four component numeric core followed by an
// optional stability suffix, e.g. "1.0.0.0", "10.4.13.0-beta5" or
// "1.0.0.0-RC1-dev". Branches normalize to either a numeric "-dev" form
// ("1.9999999.9999999.9999999-dev") or "dev-<name>".
package version

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidVersion is the error every malformed version or branch string
// unwraps to.
var ErrInvalidVersion = errors.New("invalid version")

// InvalidError describes a version string that could not be normalized.
type InvalidError struct {
	Version string // the offending string
	Full    string // the complete input, differs from Version for aliases

	// Alias is set when the right-hand side of "<version> as <alias>" is
	// not an exact version.
	Alias bool

	// AliasSource is set when the left-hand side of an alias could not be
	// normalized.
	AliasSource bool
}

func (e *InvalidError) Error() string {
	switch {
	case e.Alias:
		return fmt.Sprintf("invalid version string %q in %q, the alias must be an exact version", e.Version, e.Full)
	case e.AliasSource:
		return fmt.Sprintf("invalid version string %q in %q, the alias source must be an exact version, if it is a branch name you should prefix it with dev-", e.Version, e.Full)
	default:
		return fmt.Sprintf("invalid version string %q", e.Version)
	}
}

func (e *InvalidError) Unwrap() error {
	return ErrInvalidVersion
}

// MasterVersion is the normalized form of master-like branches.
const MasterVersion = "9999999-dev"

const wildcard = "9999999"

const modifier = `[._-]?(?:(stable|beta|b|rc|alpha|a|patch|pl|p)((?:[.-]?\d+)*)?)?([.-]?dev)?`

var (
	aliasRe     = regexp.MustCompile(`^([^,\s]+) +as +([^,\s]+)$`)
	masterRe    = regexp.MustCompile(`(?i)^(?:dev-)?(?:master|trunk|default)$`)
	metadataRe  = regexp.MustCompile(`^([^,\s+]+)\+\S+$`)
	classicalRe = regexp.MustCompile(`(?i)^v?(\d{1,5})(\.\d+)?(\.\d+)?(\.\d+)?` + modifier + `$`)
	dateRe      = regexp.MustCompile(`(?i)^v?(\d{4}(?:[.:-]?\d{2}){1,6}(?:[.:-]?\d{1,3})?)` + modifier + `$`)
	devSuffixRe = regexp.MustCompile(`(?i)^(.*?)[.-]?dev$`)
	branchRe    = regexp.MustCompile(`(?i)^v?(\d+)(\.(?:\d+|[x*]))?(\.(?:\d+|[x*]))?(\.(?:\d+|[x*]))?$`)
	nonDigitRe  = regexp.MustCompile(`\D`)
)

// disallowed holds characters that never appear in an exact version.
const disallowed = " \t\r\n<>=^~|,"

// Normalize returns the canonical form of a version string.
//
// Aliases ("dev-master as 1.0.0") normalize to their left-hand side. Every
// failure is an *InvalidError.
func Normalize(version string) (string, error) {
	full := strings.TrimSpace(version)

	if m := aliasRe.FindStringSubmatch(full); m != nil {
		normalized, err := normalize(m[1])
		if err != nil {
			return "", &InvalidError{Version: m[1], Full: full, AliasSource: true}
		}
		if _, err := normalize(m[2]); err != nil {
			return "", &InvalidError{Version: m[2], Full: full, Alias: true}
		}
		return normalized, nil
	}

	return normalize(full)
}

func normalize(version string) (string, error) {
	invalid := &InvalidError{Version: version, Full: version}
	if version == "" || strings.ContainsAny(version, disallowed) {
		return "", invalid
	}

	if masterRe.MatchString(version) {
		return MasterVersion, nil
	}

	if strings.HasPrefix(strings.ToLower(version), "dev-") {
		if len(version) == len("dev-") {
			return "", invalid
		}
		return "dev-" + version[len("dev-"):], nil
	}

	if m := metadataRe.FindStringSubmatch(version); m != nil {
		version = m[1]
	}

	if m := classicalRe.FindStringSubmatch(version); m != nil {
		core := m[1]
		for _, part := range m[2:5] {
			if part == "" {
				part = ".0"
			}
			core += part
		}
		return withModifiers(core, m[5], m[6], m[7]), nil
	}

	if m := dateRe.FindStringSubmatch(version); m != nil {
		core := nonDigitRe.ReplaceAllString(m[1], ".")
		return withModifiers(core, m[2], m[3], m[4]), nil
	}

	if m := devSuffixRe.FindStringSubmatch(version); m != nil {
		if branch, err := NormalizeBranch(m[1]); err == nil {
			return branch, nil
		}
	}

	return "", invalid
}

func withModifiers(core, stability, qualifier, dev string) string {
	if stability != "" {
		if strings.EqualFold(stability, "stable") {
			return core
		}
		core += "-" + expandStability(stability) + strings.TrimLeft(qualifier, ".-")
	}
	if dev != "" {
		core += "-dev"
	}
	return core
}

func expandStability(stability string) string {
	switch s := strings.ToLower(stability); s {
	case "a":
		return "alpha"
	case "b":
		return "beta"
	case "p", "pl":
		return "patch"
	case "rc":
		return "RC"
	default:
		return s
	}
}

// NormalizeBranch returns the canonical form of a branch name.
//
// master, trunk and default map to "9999999-dev". Numeric branches with
// wildcards expand every wildcard or missing segment to 9999999 ("1.x"
// becomes "1.9999999.9999999.9999999-dev"). Anything else becomes
// "dev-<name>".
func NormalizeBranch(branch string) (string, error) {
	name := strings.TrimSpace(branch)
	if name == "" || strings.ContainsAny(name, " \t\r\n") {
		return "", &InvalidError{Version: branch, Full: branch}
	}

	switch name {
	case "master", "trunk", "default":
		return MasterVersion, nil
	}

	if m := branchRe.FindStringSubmatch(name); m != nil {
		var b strings.Builder
		b.WriteString(m[1])
		for _, part := range m[2:5] {
			if part == "" {
				part = ".x"
			}
			b.WriteString(strings.NewReplacer("*", "x", "X", "x").Replace(part))
		}
		return strings.ReplaceAll(b.String(), "x", wildcard) + "-dev", nil
	}

	return "dev-" + name, nil
}

// IsDev reports whether a normalized version refers to a branch.
func IsDev(normalized string) bool {
	return strings.HasPrefix(normalized, "dev-") || strings.HasSuffix(normalized, "-dev")
}
