package coverage

import (
	"crypto/sha256"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"

	"github.com/crytic/covrec/module"
)

var symbolCacheBucket = []byte("symbolcache")

// persistedEntry is lineEntry's on-disk encoding: lineEntry's fields are unexported since nothing
// outside this package needs them in memory, but json.Marshal can't see unexported fields, so the
// persisted form gets its own exported mirror.
type persistedEntry struct {
	Offset   module.Offset
	File     string
	Line     uint32
	Function string
}

// NewPersistentDebugInfoCache opens (creating if necessary) a bbolt database at path and returns a
// DebugInfoCache backed by it: a module's SymbolCache, once built, is written to the database keyed
// by its executable path and a content hash of its debug-info bytes, so a later `covrec record` run
// against the same unchanged binary reads it back instead of re-walking the DWARF line table. The
// in-memory per-session map in DebugInfoCache still serves repeat lookups within a single run; this
// only changes what happens on a cache miss there. The caller must call Close when finished.
func NewPersistentDebugInfoCache(path string) (*DebugInfoCache, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "failed to create directory for debug info cache %q", path)
		}
	}

	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open debug info cache %q", path)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(symbolCacheBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "failed to initialize debug info cache %q", path)
	}

	c := NewDebugInfoCache()
	c.db = db
	return c, nil
}

// Close releases the underlying bbolt database, if this cache was opened via
// NewPersistentDebugInfoCache. It is a no-op otherwise.
func (c *DebugInfoCache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// cacheKey identifies a module's SymbolCache entry across process invocations: the executable path
// alone is not enough, since the binary at that path may have been rebuilt between runs, so a SHA-256
// of its debug-info bytes is folded in to invalidate stale entries automatically.
func cacheKey(mod module.Module) []byte {
	sum := sha256.Sum256(mod.DebuginfoData())
	key := make([]byte, 0, len(mod.ExecutablePath().AsStr())+1+len(sum))
	key = append(key, mod.ExecutablePath().AsStr()...)
	key = append(key, 0)
	key = append(key, sum[:]...)
	return key
}

// loadPersisted reads a previously-persisted SymbolCache for mod, returning (nil, nil) on a miss.
func (c *DebugInfoCache) loadPersisted(mod module.Module) (*SymbolCache, error) {
	if c.db == nil {
		return nil, nil
	}

	var sc *SymbolCache
	err := c.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(symbolCacheBucket).Get(cacheKey(mod))
		if data == nil {
			return nil
		}

		var persisted []persistedEntry
		if err := json.Unmarshal(data, &persisted); err != nil {
			return err
		}

		entries := make([]lineEntry, len(persisted))
		for i, p := range persisted {
			entries[i] = lineEntry{offset: p.Offset, file: p.File, line: p.Line, function: p.Function}
		}
		sc = &SymbolCache{entries: entries}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to read debug info cache entry")
	}
	return sc, nil
}

// storePersisted writes sc to the database keyed to mod, if this cache is persistent.
func (c *DebugInfoCache) storePersisted(mod module.Module, sc *SymbolCache) error {
	if c.db == nil {
		return nil
	}

	persisted := make([]persistedEntry, len(sc.entries))
	for i, e := range sc.entries {
		persisted[i] = persistedEntry{Offset: e.offset, File: e.file, Line: e.line, Function: e.function}
	}
	data, err := json.Marshal(persisted)
	if err != nil {
		return errors.Wrap(err, "failed to encode debug info cache entry")
	}

	key := cacheKey(mod)
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(symbolCacheBucket).Put(key, data)
	})
}
