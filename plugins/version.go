package plugins

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a parsed semantic version.
type Version struct {
	Major      int
	Minor      int
	Patch      int
	PreRelease string
	Build      string
	Original   string
}

// ParseVersion parses a semantic version string. A leading "v" is tolerated
// and pre-release / build metadata is preserved but ignored for ordering of
// equal cores except that a pre-release sorts before its release.
func ParseVersion(version string) (*Version, error) {
	if version == "" {
		return nil, fmt.Errorf("version string cannot be empty")
	}

	v := &Version{Original: version}
	s := strings.TrimPrefix(version, "v")

	if i := strings.IndexByte(s, '+'); i >= 0 {
		v.Build = s[i+1:]
		s = s[:i]
	}
	if i := strings.IndexByte(s, '-'); i >= 0 {
		v.PreRelease = s[i+1:]
		s = s[:i]
	}

	parts := strings.Split(s, ".")
	if len(parts) > 3 {
		return nil, fmt.Errorf("invalid version %q: too many components", version)
	}
	nums := [3]int{}
	for i, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("invalid version %q: empty component", version)
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid version %q: component %q is not a non-negative integer", version, p)
		}
		nums[i] = n
	}
	v.Major, v.Minor, v.Patch = nums[0], nums[1], nums[2]
	return v, nil
}

// Compare returns -1, 0 or 1 depending on whether v sorts before, equal to
// or after other. Pre-release versions sort before the matching release.
func (v *Version) Compare(other *Version) int {
	switch {
	case v.Major != other.Major:
		return sign(v.Major - other.Major)
	case v.Minor != other.Minor:
		return sign(v.Minor - other.Minor)
	case v.Patch != other.Patch:
		return sign(v.Patch - other.Patch)
	}
	switch {
	case v.PreRelease == other.PreRelease:
		return 0
	case v.PreRelease == "":
		return 1
	case other.PreRelease == "":
		return -1
	}
	return strings.Compare(v.PreRelease, other.PreRelease)
}

// String renders the canonical form of the version core.
func (v *Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.PreRelease != "" {
		s += "-" + v.PreRelease
	}
	return s
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

// VersionRequirement constrains an acceptable dependency version. Exactly one
// interpretation applies: caret, tilde, exact string, or the Min/Max/Exact
// range when constructed directly.
type VersionRequirement struct {
	// Raw is the original requirement expression, kept for diagnostics.
	Raw string
	// Caret accepts versions whose major component matches ("^1.2.3").
	Caret bool
	// Tilde accepts versions whose major and minor components match ("~1.2.3").
	Tilde bool
	// Exact requires the version to match exactly.
	Exact string
	// Min and Max bound an inclusive range, compared component-wise.
	Min string
	Max string

	base string
}

// ParseRequirement parses a requirement expression. "^1.2.3" matches on the
// major component, "~1.2.3" on major and minor, any other string exactly.
func ParseRequirement(expr string) *VersionRequirement {
	r := &VersionRequirement{Raw: expr}
	switch {
	case strings.HasPrefix(expr, "^"):
		r.Caret = true
		r.base = expr[1:]
	case strings.HasPrefix(expr, "~"):
		r.Tilde = true
		r.base = expr[1:]
	default:
		r.Exact = expr
		r.base = expr
	}
	return r
}

// Range builds a structured requirement from optional min/max/exact bounds.
func Range(min, max, exact string) *VersionRequirement {
	raw := make([]string, 0, 3)
	if exact != "" {
		raw = append(raw, "="+exact)
	}
	if min != "" {
		raw = append(raw, ">="+min)
	}
	if max != "" {
		raw = append(raw, "<="+max)
	}
	return &VersionRequirement{
		Raw:   strings.Join(raw, " "),
		Exact: exact,
		Min:   min,
		Max:   max,
	}
}

// Satisfies checks a dependency's declared version against the requirement.
// The returned reason is empty on success and human-readable on mismatch,
// e.g. "Required ^1.0.0, got 2.0.0".
func (r *VersionRequirement) Satisfies(version string) (bool, string) {
	if r == nil {
		return true, ""
	}
	if version == "" {
		return false, fmt.Sprintf("Required %s, but dependency declares no version", r.Raw)
	}
	have, err := ParseVersion(version)
	if err != nil {
		return false, fmt.Sprintf("Required %s, got unparseable version %q", r.Raw, version)
	}

	mismatch := func() (bool, string) {
		return false, fmt.Sprintf("Required %s, got %s", r.Raw, have.String())
	}

	switch {
	case r.Caret:
		want, err := ParseVersion(r.base)
		if err != nil || have.Major != want.Major {
			return mismatch()
		}
	case r.Tilde:
		want, err := ParseVersion(r.base)
		if err != nil || have.Major != want.Major || have.Minor != want.Minor {
			return mismatch()
		}
	case r.Exact != "":
		want, err := ParseVersion(r.Exact)
		if err != nil || have.Compare(want) != 0 {
			return mismatch()
		}
	default:
		if r.Min != "" {
			min, err := ParseVersion(r.Min)
			if err != nil || have.Compare(min) < 0 {
				return mismatch()
			}
		}
		if r.Max != "" {
			max, err := ParseVersion(r.Max)
			if err != nil || have.Compare(max) > 0 {
				return mismatch()
			}
		}
	}
	return true, ""
}
