// ABOUTME: Index format version model
// ABOUTME: Ordered major.minor.patch triple with parsing and formatting

package version

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
)

// Version identifies the on-disk format an index was written with
type Version struct {
	Major uint32
	Minor uint32
	Patch uint32
}

var (
	// Current is the format written by this build
	Current = Version{1, 14, 0}

	// Oldest is the earliest format that can still be upgraded
	Oldest = Version{1, 12, 0}
)

// New builds a version from its parts
func New(major, minor, patch uint32) Version {
	return Version{Major: major, Minor: minor, Patch: patch}
}

// Compare returns -1, 0 or 1 ordering v against other
func (v Version) Compare(other Version) int {
	if c := cmp.Compare(v.Major, other.Major); c != 0 {
		return c
	}
	if c := cmp.Compare(v.Minor, other.Minor); c != 0 {
		return c
	}
	return cmp.Compare(v.Patch, other.Patch)
}

func (v Version) Less(other Version) bool {
	return v.Compare(other) < 0
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Parse reads "major.minor.patch"; a leading "v" is accepted
func Parse(s string) (Version, error) {
	parts := strings.Split(strings.TrimPrefix(s, "v"), ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("invalid version %q: expected major.minor.patch", s)
	}

	var nums [3]uint32
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return Version{}, fmt.Errorf("invalid version %q: %w", s, err)
		}
		nums[i] = uint32(n)
	}
	return Version{nums[0], nums[1], nums[2]}, nil
}

// MustParse is Parse for constants; it panics on error
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// MarshalText writes the dotted form
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText reads the dotted form
func (v *Version) UnmarshalText(data []byte) error {
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
