package module

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
	saferwallpe "github.com/saferwall/pe"

	"github.com/crytic/covrec/loader"
	"github.com/crytic/covrec/pathutil"
)

// ErrUnknownImageFormat is returned by Open when execPath's bytes match neither a recognized ELF nor PE header.
var ErrUnknownImageFormat = errors.New("file is neither a recognized ELF nor PE image")

var elfMagic = []byte{0x7F, 'E', 'L', 'F'}
var peMagic = []byte{'M', 'Z'}

// Open reads execPath through ld and constructs the appropriate Module variant, sniffing the image format from
// its header bytes rather than its file extension. For a PE image it also locates and loads a companion PDB, per
// spec.md §4.3's two-step discovery: first the same directory as the PE with a ".pdb" extension, then the path
// embedded in the PE's own CodeView record; it fails with ErrPdbNotFound if neither exists.
func Open(ld *loader.Loader, execPath pathutil.Path) (Module, error) {
	data, err := ld.Load(execPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load %q", execPath)
	}

	switch {
	case bytes.HasPrefix(data, elfMagic):
		return NewELFModule(execPath, data)

	case bytes.HasPrefix(data, peMagic):
		pdbPath, err := locatePDB(execPath, data)
		if err != nil {
			return nil, err
		}
		pdbData, err := ld.Load(pdbPath)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load PDB %q", pdbPath)
		}
		return NewPEModule(execPath, data, pdbPath, pdbData)

	default:
		return nil, errors.Wrapf(ErrUnknownImageFormat, "%q", execPath)
	}
}

// locatePDB implements spec.md §4.3's two-step PDB discovery: a sibling file with a ".pdb" extension first, then
// the path recorded in the PE's own CodeView debug directory entry.
func locatePDB(execPath pathutil.Path, peData []byte) (pathutil.Path, error) {
	sibling := execPath.WithExtension("pdb")
	if _, err := os.Stat(sibling.AsStr()); err == nil {
		return sibling, nil
	}

	pf, err := saferwallpe.NewBytes(peData, &saferwallpe.Options{})
	if err != nil {
		return pathutil.Path{}, errors.Wrapf(ErrPdbNotFound, "%q: no sibling .pdb and PE could not be parsed for a CodeView path", execPath)
	}
	if err := pf.Parse(); err != nil {
		return pathutil.Path{}, errors.Wrapf(ErrPdbNotFound, "%q: no sibling .pdb and PE could not be parsed for a CodeView path", execPath)
	}
	cv, err := extractCodeView(pf)
	if err != nil || cv.path == "" {
		return pathutil.Path{}, errors.Wrapf(ErrPdbNotFound, "%q", execPath)
	}
	if _, err := os.Stat(cv.path); err != nil {
		return pathutil.Path{}, errors.Wrapf(ErrPdbNotFound, "%q: CodeView path %q does not exist", execPath, cv.path)
	}
	return pathutil.New(cv.path)
}
