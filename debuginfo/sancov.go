// Package debuginfo holds alternate debug-info readers that sit outside the DWARF/PDB path module
// package already covers: readers here are optional inputs a caller may inspect, never something
// SelectSites or the debugger loop depends on.
package debuginfo

import (
	"bytes"
	"debug/elf"

	"github.com/pkg/errors"
)

// SancovTables is the decoded form of the section pair a binary built with
// -fsanitize-coverage=inline-8bit-counters,pc-table carries: one counter byte and one (PC, flags)
// entry per instrumented edge, index-aligned between the two sections.
type SancovTables struct {
	PCs      []uint64
	IsEntry  []bool
	Counters []byte
}

// sancovPCFlagEntry is bit 0 of a PC-table entry's flags word, set when that edge is a function
// entry rather than an interior edge.
const sancovPCFlagEntry = 1

// ReadSancovTables decodes the "__sancov_pcs"/"__sancov_cntrs" section pair from an ELF image. This
// is the legacy SanitizerCoverage table layout spec.md calls out as an alternative, non-core debug
// info source: a build using inline instrumentation rather than the trap-based `call
// __sanitizer_cov_trace_pc_guard` form records its edges here instead of as debuggable call sites,
// so a caller that wants coverage for such a binary needs this reader instead of (or alongside) the
// DWARF-driven sweep in the module package. It is read-only and never wired into SelectSites or the
// breakpoint path.
func ReadSancovTables(data []byte) (*SancovTables, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse ELF file")
	}

	pcsSec := f.Section("__sancov_pcs")
	if pcsSec == nil {
		return nil, errors.New("no __sancov_pcs section present")
	}
	cntrsSec := f.Section("__sancov_cntrs")
	if cntrsSec == nil {
		return nil, errors.New("no __sancov_cntrs section present")
	}

	pcsData, err := pcsSec.Data()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read __sancov_pcs")
	}
	cntrsData, err := cntrsSec.Data()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read __sancov_cntrs")
	}

	wordSize := 8
	if f.Class == elf.ELFCLASS32 {
		wordSize = 4
	}
	pairSize := wordSize * 2
	if pairSize == 0 || len(pcsData)%pairSize != 0 {
		return nil, errors.Errorf("__sancov_pcs size %d is not a multiple of pair size %d", len(pcsData), pairSize)
	}

	count := len(pcsData) / pairSize
	if len(cntrsData) < count {
		return nil, errors.Errorf("__sancov_cntrs has %d bytes, want at least %d", len(cntrsData), count)
	}

	order := f.ByteOrder
	tables := &SancovTables{
		PCs:      make([]uint64, count),
		IsEntry:  make([]bool, count),
		Counters: make([]byte, count),
	}
	for i := 0; i < count; i++ {
		off := i * pairSize
		var pc, flags uint64
		if wordSize == 8 {
			pc = order.Uint64(pcsData[off : off+8])
			flags = order.Uint64(pcsData[off+8 : off+16])
		} else {
			pc = uint64(order.Uint32(pcsData[off : off+4]))
			flags = uint64(order.Uint32(pcsData[off+4 : off+8]))
		}
		tables.PCs[i] = pc
		tables.IsEntry[i] = flags&sancovPCFlagEntry != 0
		tables.Counters[i] = cntrsData[i]
	}

	return tables, nil
}
