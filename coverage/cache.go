package coverage

import (
	"sync"

	"go.etcd.io/bbolt"

	"github.com/crytic/covrec/module"
	"github.com/crytic/covrec/pathutil"
)

// DebugInfoCache memoizes one SymbolCache per module path, per spec.md §4.10: site selection and source
// projection both need a symbol cache for the same module, and building one means walking an entire DWARF line
// table, so the second caller should reuse the first's work. Grounded on the teacher's one-entry memoization idiom
// for coverage address lookups (CoverageMaps.cachedCodeAddress), generalized here to a full per-path map since
// the spec requires memoizing every module seen in a session, not just the most recent one.
//
// db is nil for a plain in-process cache (NewDebugInfoCache) and set for one opened via
// NewPersistentDebugInfoCache, in which case a miss against the in-memory map falls through to the
// on-disk store before paying for a full DWARF walk.
type DebugInfoCache struct {
	mu     sync.Mutex
	caches map[pathutil.Path]*SymbolCache
	db     *bbolt.DB
}

// NewDebugInfoCache returns an empty DebugInfoCache.
func NewDebugInfoCache() *DebugInfoCache {
	return &DebugInfoCache{caches: make(map[pathutil.Path]*SymbolCache)}
}

// Get returns the SymbolCache for mod, building and memoizing it on first use.
func (c *DebugInfoCache) Get(mod module.Module) (*SymbolCache, error) {
	path := mod.ExecutablePath()

	c.mu.Lock()
	if cached, ok := c.caches[path]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	sc, err := c.loadPersisted(mod)
	if err != nil {
		return nil, err
	}

	if sc == nil {
		sc, err = NewSymbolCache(mod)
		if err != nil {
			return nil, err
		}
		if err := c.storePersisted(mod, sc); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	c.caches[path] = sc
	c.mu.Unlock()
	return sc, nil
}
