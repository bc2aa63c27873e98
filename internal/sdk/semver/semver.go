// Package semver parses and compares version strings using the ordering
// this evaluation engine's wire contract requires, which is deliberately
// not SemVer 2.0 precedence: prerelease identifiers are compared as a
// single opaque string, not split into dot-separated numeric/alphanumeric
// identifiers. Masterminds/semver (already used elsewhere in this module
// for its own version_gt/version_lt operators) implements the real SemVer
// 2.0 rule and would silently reorder prereleases differently from the
// control plane, so this package is hand-written instead.
package semver

import (
	"regexp"
	"strconv"
)

var pattern = regexp.MustCompile(`^(\d+)\.(\d+)(\.(\d+)(-(([-\w]+\.?)*))?)?$`)

// Version is a parsed major.minor.patch[-prerelease] version.
type Version struct {
	Major, Minor, Patch int
	PreRelease          string
	hasPreRelease       bool
}

// Parse parses s into a Version. It returns ok=false if s does not match
// major.minor(.patch(-prerelease)?)? — s is never a fatal error for
// callers, who fall back to string comparison on a failed parse.
func Parse(s string) (Version, bool) {
	if s == "" {
		return Version{}, false
	}
	m := pattern.FindStringSubmatch(s)
	if m == nil {
		return Version{}, false
	}

	major, err := strconv.Atoi(m[1])
	if err != nil {
		return Version{}, false
	}
	minor, err := strconv.Atoi(m[2])
	if err != nil {
		return Version{}, false
	}
	patch := 0
	if m[4] != "" {
		patch, err = strconv.Atoi(m[4])
		if err != nil {
			return Version{}, false
		}
	}

	v := Version{Major: major, Minor: minor, Patch: patch}
	if m[5] != "" {
		// m[5] is "-<rest>"; drop the leading hyphen.
		v.PreRelease = m[5][1:]
		v.hasPreRelease = true
	}
	return v, true
}

// Compare returns 1 if v > other, -1 if v < other, 0 if equal.
//
// A version with a prerelease always sorts below the same version without
// one. When both carry a prerelease, the prerelease strings are compared
// lexicographically as opaque strings — not per SemVer 2.0's dot-separated
// numeric/alphanumeric identifier rule.
func (v Version) Compare(other Version) int {
	if v.Major != other.Major {
		return cmpInt(v.Major, other.Major)
	}
	if v.Minor != other.Minor {
		return cmpInt(v.Minor, other.Minor)
	}
	if v.Patch != other.Patch {
		return cmpInt(v.Patch, other.Patch)
	}

	if v.hasPreRelease && !other.hasPreRelease {
		return -1
	}
	if !v.hasPreRelease && other.hasPreRelease {
		return 1
	}
	if v.hasPreRelease && other.hasPreRelease {
		if v.PreRelease > other.PreRelease {
			return 1
		}
		if v.PreRelease < other.PreRelease {
			return -1
		}
		return 0
	}
	return 0
}

func cmpInt(a, b int) int {
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	default:
		return 0
	}
}
