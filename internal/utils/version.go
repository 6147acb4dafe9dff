package utils

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ErrInvalidVersion is returned when a version string can not be compared.
var ErrInvalidVersion = errors.New("invalid version")

// CompareVersions returns -1, 0 or 1 when a is older than, equal to or newer
// than b. Dotted numeric versions are compared segment by segment with missing
// segments counting as zero, so "1.0" equals "1". Anything else is compared as
// a semantic version.
func CompareVersions(a, b string) (int, error) {
	if isDottedNumeric(a) && isDottedNumeric(b) {
		return compareDotted(a, b), nil
	}

	va, err := semver.NewVersion(a)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidVersion, a, err)
	}
	vb, err := semver.NewVersion(b)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidVersion, b, err)
	}
	return va.Compare(vb), nil
}

func isDottedNumeric(v string) bool {
	if v == "" {
		return false
	}
	for _, r := range v {
		if r != '.' && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func compareDotted(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := max(len(as), len(bs))

	for i := 0; i < n; i++ {
		var sa, sb string
		if i < len(as) {
			sa = as[i]
		}
		if i < len(bs) {
			sb = bs[i]
		}
		if c := compareSegment(sa, sb); c != 0 {
			return c
		}
	}
	return 0
}

// compareSegment compares two unsigned decimal strings of any length.
func compareSegment(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}
