// Package coverage holds the binary coverage model (per-module offset->count maps and their merge operations),
// the coverage site selector that decides which offsets get breakpoints, the symbol cache that resolves offsets
// to source locations, and the projection from binary to source coverage.
package coverage

import "math"

// Count is a saturating hit counter: it never wraps past math.MaxUint32.
type Count uint32

// Reached reports whether this site was ever hit.
func (c Count) Reached() bool { return c > 0 }

func (c Count) increment() Count {
	if c == math.MaxUint32 {
		return c
	}
	return c + 1
}

func satAdd(a, b Count) Count {
	sum := uint64(a) + uint64(b)
	if sum > math.MaxUint32 {
		return Count(math.MaxUint32)
	}
	return Count(sum)
}

func satMax(a, b Count) Count {
	if b > a {
		return b
	}
	return a
}
