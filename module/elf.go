package module

import (
	"bytes"
	"debug/dwarf"
	"debug/elf"

	"github.com/pkg/errors"

	"github.com/crytic/covrec/logging"
	"github.com/crytic/covrec/pathutil"
)

var elfLogger = logging.GlobalLogger.NewSubLogger("module", logging.MODULE_SERVICE)

// ELFModule is the Module variant for ELF shared objects and executables. Debug info is read inline from the same
// bytes as the executable (there is no companion debug-info file).
type ELFModule struct {
	path pathutil.Path
	data []byte
	file *elf.File
	base Address
	arch Architecture
}

// NewELFModule parses bytes as an ELF file. It fails if bytes is not a valid ELF executable or shared object.
func NewELFModule(path pathutil.Path, data []byte) (*ELFModule, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse ELF file %q", path)
	}
	if f.Type != elf.ET_EXEC && f.Type != elf.ET_DYN {
		return nil, errors.Errorf("%q is not an ELF executable or shared object (type %v)", path, f.Type)
	}

	base := Address(0)
	for _, prog := range f.Progs {
		if prog.Type == elf.PT_LOAD {
			base = Address(prog.Vaddr - prog.Vaddr%prog.Align)
			break
		}
	}

	arch := ArchUnknown
	switch f.Machine {
	case elf.EM_X86_64:
		arch = ArchX86_64
	case elf.EM_AARCH64:
		arch = ArchARM64
	}

	return &ELFModule{path: path, data: data, file: f, base: base, arch: arch}, nil
}

func (m *ELFModule) ExecutablePath() pathutil.Path { return m.path }
func (m *ELFModule) DebuginfoPath() pathutil.Path  { return m.path }
func (m *ELFModule) BaseAddress() Address          { return m.base }
func (m *ELFModule) ExecutableData() []byte        { return m.data }
func (m *ELFModule) DebuginfoData() []byte         { return m.data }
func (m *ELFModule) Architecture() Architecture    { return m.arch }

// DWARF exposes the parsed DWARF data directly, for callers (the symbol cache) that need the line number program
// in addition to the subprogram DIEs DebugInfo already extracts.
func (m *ELFModule) DWARF() (*dwarf.Data, error) {
	return m.file.DWARF()
}

// Read maps a module-relative (i.e. virtual, base-relative) offset to a file offset via the PT_LOAD segment that
// contains it, then slices the underlying file image.
func (m *ELFModule) Read(offset Offset, size uint64) ([]byte, error) {
	vaddr := uint64(m.base) + uint64(offset)
	for _, prog := range m.file.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if vaddr >= prog.Vaddr && vaddr < prog.Vaddr+prog.Filesz {
			fileOff := prog.Off + (vaddr - prog.Vaddr)
			return readSlice(m.data, Offset(fileOff), size)
		}
	}
	return nil, errors.Wrapf(ErrOutOfBounds, "offset 0x%x is not within any loaded segment of %q", offset, m.path)
}

// DebugInfo extracts function symbols from DWARF subprogram DIEs, falling back to .symtab STT_FUNC entries for
// functions DWARF didn't cover (e.g. a binary built with partial debug info).
func (m *ELFModule) DebugInfo() (*Info, error) {
	functions := make([]Function, 0, 64)
	seen := make(map[Offset]struct{})

	if dwf, err := m.file.DWARF(); err == nil {
		fns, err := functionsFromDWARF(dwf, m.base)
		if err != nil {
			elfLogger.Warn("failed to fully walk DWARF info for", m.path, ":", err)
		}
		for _, fn := range fns {
			functions = append(functions, fn)
			seen[fn.Offset] = struct{}{}
		}
	} else {
		elfLogger.Warn("no DWARF info found in", m.path, ":", err)
	}

	if syms, err := m.file.Symbols(); err == nil {
		for _, sym := range syms {
			if elf.ST_TYPE(sym.Info) != elf.STT_FUNC || sym.Size == 0 {
				continue
			}
			off, err := Address(sym.Value).OffsetFrom(m.base)
			if err != nil {
				continue
			}
			if _, ok := seen[off]; ok {
				continue
			}
			functions = append(functions, Function{
				Name:     sym.Name,
				Offset:   off,
				Size:     sym.Size,
				NoReturn: isWellKnownNoReturn(sym.Name),
			})
			seen[off] = struct{}{}
		}
	}

	return NewInfo(functions, nil), nil
}

func functionsFromDWARF(dwf *dwarf.Data, base Address) ([]Function, error) {
	var functions []Function
	reader := dwf.Reader()
	for {
		entry, err := reader.Next()
		if err != nil {
			return functions, err
		}
		if entry == nil {
			break
		}
		if entry.Tag != dwarf.TagSubprogram {
			continue
		}

		name, _ := entry.Val(dwarf.AttrName).(string)
		lowpc, lowOK := entry.Val(dwarf.AttrLowpc).(uint64)
		if !lowOK {
			continue
		}

		var size uint64
		switch hv := entry.Val(dwarf.AttrHighpc).(type) {
		case uint64:
			// DWARF4+ commonly encodes high_pc as an offset from low_pc when its class is "constant" rather than
			// "address"; since debug/dwarf does not expose the class here, treat values smaller than lowpc as
			// offsets and others as absolute addresses.
			if hv > lowpc {
				size = hv - lowpc
			} else {
				size = hv
			}
		case int64:
			size = uint64(hv)
		}
		if size == 0 {
			continue
		}

		off, err := Address(lowpc).OffsetFrom(base)
		if err != nil {
			continue
		}

		noReturn := false
		if nr, ok := entry.Val(dwarf.AttrNoreturn).(bool); ok {
			noReturn = nr
		}
		if !noReturn {
			noReturn = isWellKnownNoReturn(name)
		}

		functions = append(functions, Function{
			Name:     name,
			Offset:   off,
			Size:     size,
			NoReturn: noReturn,
		})
	}
	return functions, nil
}

// isWellKnownNoReturn recognizes a small table of libc/runtime symbols that never return, used when the debug info
// doesn't carry an explicit noreturn attribute.
func isWellKnownNoReturn(name string) bool {
	switch name {
	case "abort", "exit", "_exit", "_Exit", "__assert_fail", "__stack_chk_fail",
		"runtime.fatalthrow", "runtime.fatalpanic", "runtime.throw":
		return true
	default:
		return false
	}
}
