package sdkpath

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// quad is a 4-part windows package version, eg `1.4.230913002.0`. These
// are not semver -- semver parsers reject the fourth component -- so we
// carry our own comparable representation.
type quad [4]uint64

var zeroQuad = quad{}

// parseQuad parses a strict N.N.N.N version string.
func parseQuad(raw string) (quad, error) {
	var q quad

	parts := strings.Split(raw, ".")
	if len(parts) != 4 {
		return zeroQuad, errors.Errorf("version %s does not have 4 parts", raw)
	}

	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return zeroQuad, errors.Wrapf(err, "parsing version component %s", part)
		}
		q[i] = n
	}

	return q, nil
}

// compare returns -1, 0, or 1 as a sorts before, equal to, or after b.
func (a quad) compare(b quad) int {
	for i := range a {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	return 0
}

// quadSuffix extracts the trailing 4-part version from a package root
// directory name like `Microsoft.WindowsAppSDK.1.4.231008000`. Directory
// names that don't end in a well formed version sort as 0.0.0.0 -- they
// should lose to any real version, never crash the comparison.
func quadSuffix(dirName string) quad {
	parts := strings.Split(dirName, ".")
	if len(parts) < 4 {
		return zeroQuad
	}

	q, err := parseQuad(strings.Join(parts[len(parts)-4:], "."))
	if err != nil {
		return zeroQuad
	}
	return q
}
