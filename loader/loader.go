// Package loader provides a process-wide, content-addressed byte cache for executables and debug-info files. Each
// path is read from disk at most once; concurrent callers for the same path are serialized through a single mutex
// rather than each issuing a duplicate read.
package loader

import (
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/crytic/covrec/logging"
	"github.com/crytic/covrec/pathutil"
)

var loaderLogger = logging.GlobalLogger.NewSubLogger("module", logging.MODULE_SERVICE)

// entry holds the memoized bytes for a single path, plus the machinery to load them exactly once.
type entry struct {
	once sync.Once
	data []byte
	err  error
}

// Loader is a mutex-guarded, memoizing byte-slice cache keyed by path. Its buffers are immutable and are never
// evicted for the lifetime of the Loader, so slices returned by Load remain valid for as long as the Loader does.
type Loader struct {
	mu      sync.Mutex
	entries map[string]*entry

	loads int
	hits  int
}

// New creates an empty Loader.
func New() *Loader {
	return &Loader{entries: make(map[string]*entry)}
}

// Load returns the bytes of the file at path, reading it from disk only on the first call for that path. Every
// subsequent call for the same path returns the identical slice without touching the file system again.
func (l *Loader) Load(path pathutil.Path) ([]byte, error) {
	l.mu.Lock()
	e, ok := l.entries[path.AsStr()]
	if !ok {
		e = &entry{}
		l.entries[path.AsStr()] = e
	} else {
		l.hits++
	}
	l.loads++
	l.mu.Unlock()

	e.once.Do(func() {
		data, err := os.ReadFile(path.AsStr())
		if err != nil {
			e.err = errors.Wrapf(err, "failed to load %q", path.AsStr())
			loaderLogger.Warn("failed to load module bytes", e.err)
			return
		}
		e.data = data
	})

	if e.err != nil {
		return nil, e.err
	}
	return e.data, nil
}

// Stats returns the total number of Load calls observed and how many of those were served from an
// already-populated entry (cache hits on the entry map, not necessarily a completed read).
func (l *Loader) Stats() (loads int, hits int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads, l.hits
}
