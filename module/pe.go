package module

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	saferwallpe "github.com/saferwall/pe"

	"github.com/crytic/covrec/logging"
	"github.com/crytic/covrec/pathutil"
)

var peLogger = logging.GlobalLogger.NewSubLogger("module", logging.MODULE_SERVICE)

// ErrPdbNotFound is returned when a PDB cannot be located alongside a PE, nor at the path embedded in its CodeView
// record.
var ErrPdbNotFound = errors.New("could not locate a matching PDB for this PE image")

// ErrPdbMismatch is returned when a candidate PDB's GUID/age does not exactly match the PE's CodeView record.
var ErrPdbMismatch = errors.New("PDB GUID/age does not match the PE's CodeView record")

// PEModule is the Module variant for Windows PE executables with a companion PDB. Debug info lives entirely in the
// PDB; the PE image itself only carries the CodeView record used to validate that the PDB actually matches.
type PEModule struct {
	pePath  pathutil.Path
	peBytes []byte
	pdbPath pathutil.Path
	pdbData []byte

	pe         *saferwallpe.File
	base       Address
	codeView   codeViewRecord
	pdbSymbols *pdbFile
	arch       Architecture
}

type codeViewRecord struct {
	guid [16]byte
	age  uint32
	path string
}

// NewPEModule constructs a PEModule from explicit PE and PDB byte slices, failing if the PE cannot be parsed or the
// PDB's GUID/age do not exactly match the PE's CodeView record.
func NewPEModule(pePath pathutil.Path, peBytes []byte, pdbPath pathutil.Path, pdbData []byte) (*PEModule, error) {
	pf, err := saferwallpe.NewBytes(peBytes, &saferwallpe.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse PE file %q", pePath)
	}
	if err := pf.Parse(); err != nil {
		return nil, errors.Wrapf(err, "failed to parse PE file %q", pePath)
	}

	cv, err := extractCodeView(pf)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to extract CodeView record from %q", pePath)
	}

	pdb, err := parsePDB(pdbData)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse PDB %q", pdbPath)
	}
	if pdb.guid != cv.guid || pdb.age != cv.age {
		return nil, errors.Wrapf(ErrPdbMismatch, "%q does not match %q", pdbPath, pePath)
	}

	base, err := imageBase(pf)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read image base from %q", pePath)
	}

	return &PEModule{
		pePath:     pePath,
		peBytes:    peBytes,
		pdbPath:    pdbPath,
		pdbData:    pdbData,
		pe:         pf,
		base:       base,
		codeView:   cv,
		pdbSymbols: pdb,
		arch:       architectureOf(pf),
	}, nil
}

// architectureOf maps the PE's machine field to the Architecture values the block sweeper understands. Anything
// else (e.g. 32-bit x86, ARM32) falls back to ArchUnknown and the sweeper declines to produce blocks for it.
func architectureOf(pf *saferwallpe.File) Architecture {
	switch pf.NtHeader.FileHeader.Machine {
	case saferwallpe.ImageFileMachineAMD64:
		return ArchX86_64
	case saferwallpe.ImageFileMachineARM64:
		return ArchARM64
	default:
		return ArchUnknown
	}
}

// DiscoverPDBPath implements the two-step PDB discovery spec.md §4.3 describes: first the same directory as the PE
// with a ".pdb" extension, then the path embedded in the PE's CodeView record if that file exists.
func DiscoverPDBPath(pePath pathutil.Path, peBytes []byte) (pathutil.Path, error) {
	sameDir := pePath.WithExtension("pdb")
	if _, err := os.Stat(sameDir.AsStr()); err == nil {
		return sameDir, nil
	}

	pf, err := saferwallpe.NewBytes(peBytes, &saferwallpe.Options{})
	if err == nil {
		if parseErr := pf.Parse(); parseErr == nil {
			if cv, cvErr := extractCodeView(pf); cvErr == nil && cv.path != "" {
				if _, statErr := os.Stat(cv.path); statErr == nil {
					if p, pathErr := pathutil.New(cv.path); pathErr == nil {
						return p, nil
					}
				}
			}
		}
	}

	peLogger.Warn("could not discover a PDB for", pePath)
	return pathutil.Path{}, errors.Wrapf(ErrPdbNotFound, "for %q", pePath)
}

func (m *PEModule) ExecutablePath() pathutil.Path { return m.pePath }
func (m *PEModule) DebuginfoPath() pathutil.Path  { return m.pdbPath }
func (m *PEModule) BaseAddress() Address          { return m.base }
func (m *PEModule) ExecutableData() []byte        { return m.peBytes }
func (m *PEModule) DebuginfoData() []byte         { return m.pdbData }
func (m *PEModule) Architecture() Architecture    { return m.arch }

// Read maps a module-relative offset to a section's raw file data via its virtual-address range.
func (m *PEModule) Read(offset Offset, size uint64) ([]byte, error) {
	for _, section := range m.pe.Sections {
		va := uint64(section.Header.VirtualAddress)
		vsize := uint64(section.Header.VirtualSize)
		if uint64(offset) >= va && uint64(offset) < va+vsize {
			fileOff := uint64(section.Header.PointerToRawData) + (uint64(offset) - va)
			return readSlice(m.peBytes, Offset(fileOff), size)
		}
	}
	return nil, errors.Wrapf(ErrOutOfBounds, "offset 0x%x is not within any section of %q", offset, m.pePath)
}

// DebugInfo returns the function list extracted from the companion PDB's public symbol stream.
func (m *PEModule) DebugInfo() (*Info, error) {
	functions := make([]Function, 0, len(m.pdbSymbols.publics))
	for _, sym := range m.pdbSymbols.publics {
		functions = append(functions, Function{
			Name:     sym.name,
			Offset:   sym.offset,
			Size:     sym.size,
			NoReturn: isWellKnownNoReturn(sym.name),
		})
	}
	return NewInfo(functions, nil), nil
}

func imageBase(pf *saferwallpe.File) (Address, error) {
	switch oh := pf.NtHeader.OptionalHeader.(type) {
	case saferwallpe.ImageOptionalHeader32:
		return Address(oh.ImageBase), nil
	case saferwallpe.ImageOptionalHeader64:
		return Address(oh.ImageBase), nil
	default:
		return 0, errors.New("unrecognized PE optional header variant")
	}
}

func extractCodeView(pf *saferwallpe.File) (codeViewRecord, error) {
	for _, dbg := range pf.Debugs {
		cv, ok := dbg.Info.(saferwallpe.CVInfoPDB70)
		if !ok {
			continue
		}
		return codeViewRecord{guid: cv.Signature, age: cv.Age, path: filepath.ToSlash(cv.PDBFileName)}, nil
	}
	return codeViewRecord{}, errors.New("no CodeView (PDB 7.0) debug directory entry found")
}
