package coverage

import (
	"github.com/pkg/errors"

	"github.com/crytic/covrec/allowlist"
	"github.com/crytic/covrec/block"
	"github.com/crytic/covrec/module"
)

// SelectSites implements spec.md §4.6: decide which module-relative offsets get one-shot breakpoints for mod,
// given the three-way allowlist and a DebugInfoCache shared across the session. The returned ModuleBinaryCoverage
// has every selected offset initialized to Count(0); it is empty (not nil) if the module itself is disallowed.
func SelectSites(mod module.Module, al allowlist.AllowList, cache *DebugInfoCache) (*ModuleBinaryCoverage, error) {
	mc := NewModuleBinaryCoverage()

	if !al.Modules.IsAllowed(mod.ExecutablePath().AsStr()) {
		return mc, nil
	}

	symbols, err := cache.Get(mod)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to build symbol cache for %q", mod.ExecutablePath())
	}

	info, err := mod.DebugInfo()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to extract debug info for %q", mod.ExecutablePath())
	}

	for _, fn := range info.Functions() {
		if !al.Functions.IsAllowed(fn.Name) {
			continue
		}
		if sym, ok := symbols.Lookup(fn.Offset); ok && sym.FilePath != "" {
			if !al.SourceFiles.IsAllowed(sym.FilePath) {
				continue
			}
		}

		blocks, err := block.SweepRegion(mod, info, fn.Offset, fn.Size)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to sweep function %q", fn.Name)
		}
		for _, b := range blocks.All() {
			mc.Init(b.Offset)
		}
	}

	return mc, nil
}
