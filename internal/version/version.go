// Package version carries the worker's build identity.
package version

import (
	"strconv"
	"strings"
)

// Version is the worker version (overridden by ldflags at build time).
var Version = "1.0.0"

// AtLeast reports whether Version satisfies the given minimum
// major.minor.patch requirement.
func AtLeast(min string) bool { return Compare(Version, min) >= 0 }

// Compare orders two major.minor.patch strings: -1 when a < b, 0 when equal,
// 1 when a > b. A leading "v" is tolerated; missing or malformed fields
// compare as zero.
func Compare(a, b string) int {
	av := parse(a)
	bv := parse(b)
	for i := 0; i < 3; i++ {
		if av[i] < bv[i] {
			return -1
		}
		if av[i] > bv[i] {
			return 1
		}
	}
	return 0
}

func parse(s string) [3]int {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	// Ignore pre-release/build suffixes.
	if i := strings.IndexAny(s, "-+"); i >= 0 {
		s = s[:i]
	}
	var out [3]int
	for i, part := range strings.SplitN(s, ".", 3) {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			continue
		}
		out[i] = n
	}
	return out
}
