// Package record wires the loader, module, coverage, and debugger packages together into the one recorder
// callback spec.md §4.9 describes: react to a module load by selecting and arming its coverage sites, react to a
// breakpoint by incrementing the hit count at that site.
package record

import (
	"github.com/pkg/errors"

	"github.com/crytic/covrec/allowlist"
	"github.com/crytic/covrec/coverage"
	"github.com/crytic/covrec/debugger"
	"github.com/crytic/covrec/loader"
	"github.com/crytic/covrec/logging"
	"github.com/crytic/covrec/module"
	"github.com/crytic/covrec/pathutil"
)

var recordLogger = logging.GlobalLogger.NewSubLogger("module", logging.RECORD_SERVICE)

// ErrUnknownAddress is returned by OnBreakpoint when the faulting address does not fall inside any module image
// the recorder has seen a load event for, or that module has no initialized coverage map. Per spec.md §4.9 this
// is recoverable: the loop drops this offset and continues.
var ErrUnknownAddress = errors.New("breakpoint address does not resolve to a tracked module or coverage site")

// Recorder implements debugger.Recorder, accumulating a BinaryCoverage over the lifetime of one session.
type Recorder struct {
	loader    *loader.Loader
	allowList allowlist.AllowList
	cache     *coverage.DebugInfoCache
	loop      *debugger.Loop

	coverage *coverage.BinaryCoverage
	images   []debugger.ModuleImage
	modules  map[pathutil.Path]module.Module
}

// New returns a Recorder that will select coverage sites according to al, sharing symbol caches via cache (pass a
// freshly constructed coverage.NewDebugInfoCache() for a single session). loop is used to arm breakpoints from
// OnModuleLoad; it must be the same Loop this Recorder is later passed to via debugger.NewLoop.
func New(ld *loader.Loader, al allowlist.AllowList, cache *coverage.DebugInfoCache, loop *debugger.Loop) *Recorder {
	return &Recorder{
		loader:    ld,
		allowList: al,
		cache:     cache,
		loop:      loop,
		coverage:  coverage.NewBinaryCoverage(),
		modules:   make(map[pathutil.Path]module.Module),
	}
}

// Coverage returns the BinaryCoverage accumulated so far. Safe to call after the session ends; per spec.md §5 it
// must not be read concurrently with an in-progress session.
func (r *Recorder) Coverage() *coverage.BinaryCoverage {
	return r.coverage
}

// LoadedModules returns every module this recorder successfully opened, keyed by executable path. Used by source
// projection, which needs the Module values themselves (not just their coverage) to rebuild symbol caches.
func (r *Recorder) LoadedModules() map[pathutil.Path]module.Module {
	return r.modules
}

// OnModuleLoad implements debugger.Recorder. Disallowed modules, and modules that fail to open, are silently
// skipped per spec.md §4.9 ("return without action" / "return silently on unload-debuggable failure").
func (r *Recorder) OnModuleLoad(img debugger.ModuleImage) error {
	if !r.allowList.Modules.IsAllowed(img.Path.AsStr()) {
		return nil
	}

	mod, err := module.Open(r.loader, img.Path)
	if err != nil {
		recordLogger.Warn("skipping module that failed to open", err)
		return nil
	}

	mc, err := coverage.SelectSites(mod, r.allowList, r.cache)
	if err != nil {
		recordLogger.Warn("skipping module that failed coverage site selection", err)
		return nil
	}

	r.coverage.Insert(img.Path, mc)
	r.modules[img.Path] = mod
	r.images = append(r.images, img)

	for _, offset := range mc.Offsets() {
		addr, err := img.Base.OffsetBy(offset)
		if err != nil {
			recordLogger.Warn("skipping coverage site with an out-of-range address", err)
			continue
		}
		if err := r.loop.Arm(addr); err != nil {
			recordLogger.Warn("failed to arm coverage site", err)
		}
	}

	return nil
}

// OnBreakpoint implements debugger.Recorder: locate the image containing addr, compute its module-relative
// offset, and increment that site's count.
func (r *Recorder) OnBreakpoint(addr module.Address) error {
	for _, img := range r.images {
		if !img.Contains(addr) {
			continue
		}

		offset, err := addr.OffsetFrom(img.Base)
		if err != nil {
			return errors.Wrapf(ErrUnknownAddress, "address 0x%x below image base for %q", uint64(addr), img.Path)
		}

		mc, ok := r.coverage.Get(img.Path)
		if !ok {
			return errors.Wrapf(ErrUnknownAddress, "module %q has no coverage map", img.Path)
		}
		if err := mc.Increment(offset); err != nil {
			return errors.Wrapf(ErrUnknownAddress, "offset 0x%x in %q: %v", uint64(offset), img.Path, err)
		}
		return nil
	}
	return errors.Wrapf(ErrUnknownAddress, "address 0x%x matches no loaded module image", uint64(addr))
}
