// Package version holds the framework release number and semantic version
// helpers used for update decisions.
package version

import (
	"fmt"
	"strings"

	mm "github.com/Masterminds/semver/v3"
)

// Framework is the release of the artifacts this installer ships.
const Framework = "4.0.8"

// Version is a parsed semantic version.
type Version struct {
	v *mm.Version
}

// Parse parses a version such as "4.0.8" or "v4.1.0-beta.1".
func Parse(raw string) (Version, error) {
	v, err := mm.NewVersion(strings.TrimSpace(raw))
	if err != nil {
		return Version{}, fmt.Errorf("version: parse %q: %w", raw, err)
	}
	return Version{v: v}, nil
}

// MustParse is Parse for constants.
func MustParse(raw string) Version {
	v, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) String() string {
	if v.v == nil {
		return ""
	}
	return v.v.String()
}

// Compare returns -1, 0 or 1. An unparsable version sorts before any valid
// one and equal to another unparsable version.
func Compare(a, b string) int {
	va, errA := Parse(a)
	vb, errB := Parse(b)
	switch {
	case errA != nil && errB != nil:
		return 0
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return va.v.Compare(vb.v)
}

// IsNewer reports whether candidate is a strictly greater valid version
// than current.
func IsNewer(candidate, current string) bool {
	c, err := Parse(candidate)
	if err != nil {
		return false
	}
	cur, err := Parse(current)
	if err != nil {
		return true
	}
	return c.v.GreaterThan(cur.v)
}

// Satisfies reports whether v meets a constraint such as ">=18.0.0".
func Satisfies(v, constraint string) (bool, error) {
	parsed, err := Parse(v)
	if err != nil {
		return false, err
	}
	c, err := mm.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("version: parse constraint %q: %w", constraint, err)
	}
	return c.Check(parsed.v), nil
}
