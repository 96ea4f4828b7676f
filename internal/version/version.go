// Package version parses client engine versions and enforces the minimum
// version a submission must have been produced by.
package version

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// Engine is the version of the simulation core built into this binary.
const Engine = "2.4.0"

// versionRegex matches: {major}.{minor}[.{patch}][-{suffix}]
// Example: 2.4.1, 2.4, 3.0.0-rc1
var versionRegex = regexp.MustCompile(`^v?(\d+)\.(\d+)(?:\.(\d+))?(?:-([0-9A-Za-z.]+))?$`)

var (
	ErrInvalidVersion = errors.New("version: invalid engine version")
	ErrUnsupported    = errors.New("version: engine version below minimum supported")
)

// Version is a parsed engine version. Only Major and Minor take part in the
// compatibility gate.
type Version struct {
	Major  int    `json:"major"`
	Minor  int    `json:"minor"`
	Patch  int    `json:"patch"`
	Suffix string `json:"suffix,omitempty"`
}

// Parse parses and validates a version string.
func Parse(s string) (Version, error) {
	m := versionRegex.FindStringSubmatch(s)
	if m == nil {
		return Version{}, fmt.Errorf("%w: %q (expected major.minor[.patch])", ErrInvalidVersion, s)
	}
	major, err := strconv.Atoi(m[1])
	if err != nil {
		return Version{}, fmt.Errorf("%w: major %s", ErrInvalidVersion, m[1])
	}
	minor, err := strconv.Atoi(m[2])
	if err != nil {
		return Version{}, fmt.Errorf("%w: minor %s", ErrInvalidVersion, m[2])
	}
	var patch int
	if m[3] != "" {
		if patch, err = strconv.Atoi(m[3]); err != nil {
			return Version{}, fmt.Errorf("%w: patch %s", ErrInvalidVersion, m[3])
		}
	}
	return Version{Major: major, Minor: minor, Patch: patch, Suffix: m[4]}, nil
}

// MustParse is Parse for constants.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Suffix != "" {
		s += "-" + v.Suffix
	}
	return s
}

// AtLeast reports whether v satisfies min: a higher major, or the same major
// with a minor no lower than min's.
func (v Version) AtLeast(min Version) bool {
	if v.Major != min.Major {
		return v.Major > min.Major
	}
	return v.Minor >= min.Minor
}

// Check parses s and gates it against min.
func Check(s string, min Version) (Version, error) {
	v, err := Parse(s)
	if err != nil {
		return Version{}, err
	}
	if !v.AtLeast(min) {
		return v, fmt.Errorf("%w: %s < %d.%d", ErrUnsupported, s, min.Major, min.Minor)
	}
	return v, nil
}
