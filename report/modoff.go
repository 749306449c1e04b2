package report

import (
	"bytes"
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/crytic/covrec/coverage"
)

// WriteModoff renders bc as the plain-text `module+hex_offset` listing spec.md §6/§8 reference for quick diffing:
// one covered site per line, sorted by module path then offset. Only sites with a nonzero count are listed, since
// modoff identifies coverage that was actually reached, not every candidate site.
func WriteModoff(bc *coverage.BinaryCoverage) []byte {
	var buf bytes.Buffer

	modules := bc.Modules()
	paths := make([]string, 0, len(modules))
	byPath := make(map[string]*coverage.ModuleBinaryCoverage, len(modules))
	for path, mc := range modules {
		paths = append(paths, path.AsStr())
		byPath[path.AsStr()] = mc
	}
	slices.Sort(paths)

	for _, path := range paths {
		mc := byPath[path]
		for _, off := range mc.Offsets() {
			count, _ := mc.Count(off)
			if !count.Reached() {
				continue
			}
			fmt.Fprintf(&buf, "%s+0x%x\n", path, uint64(off))
		}
	}
	return buf.Bytes()
}
