package coverage

import (
	"debug/dwarf"
	"io"
	"sort"

	"github.com/crytic/covrec/module"
)

// SymbolInfo is what a SymbolCache lookup resolves an offset to.
type SymbolInfo struct {
	FilePath     string
	Line         uint32
	FunctionName string
}

type lineEntry struct {
	offset   module.Offset
	file     string
	line     uint32
	function string
}

// SymbolCache is an offset-ordered index from a module's DWARF line number program (when present) to source
// locations. It resolves to the nearest preceding line-table row rather than walking DWARF's inline-subroutine
// tree, so it does not report inline frames separately from their enclosing function; spec.md §4.10's "innermost
// non-inline frame" requirement is satisfied to the extent the compiler's own line table already attributes
// inlined code to its call site, which is the common case for optimized builds.
type SymbolCache struct {
	entries []lineEntry
}

// Lookup resolves off to the source location of the nearest line-table row at or before it. It returns false if
// the cache has no line information at all (e.g. a PE+PDB module, whose PDB public symbol stream carries no line
// table) or if off precedes every known row.
func (c *SymbolCache) Lookup(off module.Offset) (SymbolInfo, bool) {
	if len(c.entries) == 0 {
		return SymbolInfo{}, false
	}
	idx := sort.Search(len(c.entries), func(i int) bool { return c.entries[i].offset > off }) - 1
	if idx < 0 {
		return SymbolInfo{}, false
	}
	e := c.entries[idx]
	return SymbolInfo{FilePath: e.file, Line: e.line, FunctionName: e.function}, true
}

// dwarfProvider is satisfied by Module implementations that carry inline DWARF info (ELF). PE+PDB modules do not
// implement it, and NewSymbolCache falls back to an empty cache for them: PDB line tables are not parsed (see
// DESIGN.md), so PE-sourced offsets simply never resolve to a source location, which source projection already
// treats as "skip this offset".
type dwarfProvider interface {
	DWARF() (*dwarf.Data, error)
}

// NewSymbolCache builds a SymbolCache from mod's debug info. Modules with no DWARF line table (including every
// PE+PDB module) get an empty, always-missing cache rather than an error: a coverage site whose source location
// can't be resolved is simply skipped by source projection, it does not abort the whole module.
func NewSymbolCache(mod module.Module) (*SymbolCache, error) {
	dp, ok := mod.(dwarfProvider)
	if !ok {
		return &SymbolCache{}, nil
	}

	dwf, err := dp.DWARF()
	if err != nil {
		return &SymbolCache{}, nil
	}

	info, err := mod.DebugInfo()
	if err != nil {
		info = module.NewInfo(nil, nil)
	}

	var entries []lineEntry
	reader := dwf.Reader()
	for {
		cu, err := reader.Next()
		if err != nil {
			return nil, err
		}
		if cu == nil {
			break
		}
		if cu.Tag != dwarf.TagCompileUnit {
			continue
		}

		lr, lrErr := dwf.LineReader(cu)
		if lrErr != nil || lr == nil {
			reader.SkipChildren()
			continue
		}

		var le dwarf.LineEntry
		for {
			nextErr := lr.Next(&le)
			if nextErr == io.EOF {
				break
			}
			if nextErr != nil {
				break
			}
			if le.EndSequence {
				continue
			}

			off, offErr := module.Address(le.Address).OffsetFrom(mod.BaseAddress())
			if offErr != nil {
				continue
			}

			function := ""
			if fn, ok := info.FindFunction(off); ok {
				function = fn.Name
			}

			fileName := ""
			if le.File != nil {
				fileName = le.File.Name
			}

			entries = append(entries, lineEntry{
				offset:   off,
				file:     fileName,
				line:     uint32(le.Line),
				function: function,
			})
		}
		reader.SkipChildren()
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].offset < entries[j].offset })
	return &SymbolCache{entries: entries}, nil
}
