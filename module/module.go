// Package module models a loaded executable plus its debug info: the "debuggable module" layer. Two concrete
// variants satisfy the Module interface, ELF (debug info inline) and PE+PDB (debug info in a companion file).
package module

import (
	"github.com/pkg/errors"

	"github.com/crytic/covrec/pathutil"
)

// Module is the capability set spec.md §3 requires of a loaded executable: read raw bytes, report the preferred
// load address, expose the executable/debug-info byte slices, and produce the parsed DebugInfo.
type Module interface {
	// ExecutablePath returns the path to the on-disk executable image.
	ExecutablePath() pathutil.Path
	// DebuginfoPath returns the path to the file debug info was extracted from. For ELF this equals
	// ExecutablePath; for PE it is the companion PDB.
	DebuginfoPath() pathutil.Path
	// BaseAddress returns the module's nominal preferred load address. The actual runtime base, which may differ
	// due to ASLR, is supplied separately by the debugger loop and is never stored on the Module.
	BaseAddress() Address
	// ExecutableData returns the raw bytes of the executable image.
	ExecutableData() []byte
	// DebuginfoData returns the raw bytes backing debug info (== ExecutableData for ELF).
	DebuginfoData() []byte
	// Read returns size bytes from the module's file image starting at offset, or an error if that range falls
	// outside the image.
	Read(offset Offset, size uint64) ([]byte, error)
	// DebugInfo returns this module's parsed debug info.
	DebugInfo() (*Info, error)
	// Architecture returns the instruction set this module's code was compiled for.
	Architecture() Architecture
}

// ErrOutOfBounds is returned by Read when the requested range falls outside the module's image.
var ErrOutOfBounds = errors.New("requested range is out of bounds for the module image")

func readSlice(data []byte, offset Offset, size uint64) ([]byte, error) {
	start := uint64(offset)
	if start > uint64(len(data)) {
		return nil, errors.Wrapf(ErrOutOfBounds, "offset 0x%x exceeds image size 0x%x", start, len(data))
	}
	end := start + size
	if end > uint64(len(data)) || end < start {
		return nil, errors.Wrapf(ErrOutOfBounds, "range [0x%x, 0x%x) exceeds image size 0x%x", start, end, len(data))
	}
	return data[start:end], nil
}
