package coverage

import (
	"runtime"
	"sort"
	"strings"

	"golang.org/x/exp/maps"

	"github.com/crytic/covrec/allowlist"
	"github.com/crytic/covrec/module"
	"github.com/crytic/covrec/pathutil"
)

// Line is a 1-indexed source line number.
type Line uint32

// FileCoverage is one source file's line->count map.
type FileCoverage struct {
	Lines map[Line]Count
}

// SortedLines returns the covered line numbers in ascending order.
func (fc *FileCoverage) SortedLines() []Line {
	lines := make([]Line, 0, len(fc.Lines))
	for l := range fc.Lines {
		lines = append(lines, l)
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i] < lines[j] })
	return lines
}

// SourceCoverage is binary coverage projected onto source files and lines.
type SourceCoverage struct {
	Files map[string]*FileCoverage
}

// NewSourceCoverage returns an empty SourceCoverage.
func NewSourceCoverage() *SourceCoverage {
	return &SourceCoverage{Files: make(map[string]*FileCoverage)}
}

// SortedFiles returns the covered file paths in lexical order.
func (sc *SourceCoverage) SortedFiles() []string {
	files := maps.Keys(sc.Files)
	sort.Strings(files)
	return files
}

func (sc *SourceCoverage) accumulate(path string, line Line, count Count) {
	fc, ok := sc.Files[path]
	if !ok {
		fc = &FileCoverage{Lines: make(map[Line]Count)}
		sc.Files[path] = fc
	}
	fc.Lines[line] = satAdd(fc.Lines[line], count)
}

// normalizePath applies spec.md §3's platform rule: source file paths are case-folded to lowercase on Windows and
// preserved verbatim everywhere else.
func normalizePath(path string) string {
	if runtime.GOOS == "windows" {
		return strings.ToLower(path)
	}
	return path
}

// ProjectSource implements spec.md §4.10: turn binary coverage into source coverage by resolving every covered
// offset through each module's symbol cache. Modules present in bc but not in loaded (e.g. a module that was
// unloaded and whose Module value is no longer retained) are silently skipped, consistent with "modules are
// retained for the session" being a best-effort guarantee, not an invariant source projection can assume holds
// forever.
func ProjectSource(bc *BinaryCoverage, loaded map[pathutil.Path]module.Module, cache *DebugInfoCache, sourceFiles allowlist.Predicate) (*SourceCoverage, error) {
	if sourceFiles == nil {
		sourceFiles = allowlist.AllowAll
	}

	out := NewSourceCoverage()
	for path, mc := range bc.Modules() {
		mod, ok := loaded[path]
		if !ok {
			continue
		}

		symbols, err := cache.Get(mod)
		if err != nil {
			return nil, err
		}

		for _, off := range mc.Offsets() {
			count, _ := mc.Count(off)
			sym, ok := symbols.Lookup(off)
			if !ok || sym.FilePath == "" || sym.Line == 0 {
				continue
			}

			normalized := normalizePath(sym.FilePath)
			if !sourceFiles.IsAllowed(normalized) {
				continue
			}

			out.accumulate(normalized, Line(sym.Line), count)
		}
	}

	return out, nil
}
