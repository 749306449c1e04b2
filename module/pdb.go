package module

import (
	"encoding/binary"
	"sort"

	"github.com/pkg/errors"
)

// pdbFile is a minimal, read-only view over a Microsoft Program Database (PDB) file: just enough to validate the
// GUID/age against a PE's CodeView record and to recover the public symbol stream (mangled name + RVA + size).
// There is no actively maintained third-party PDB-parsing library in the retrieved example corpus, so this is a
// hand-rolled reader rather than the usual "wrap an ecosystem library" approach used for ELF/DWARF and PE.
type pdbFile struct {
	guid [16]byte
	age  uint32

	publics []pdbPublicSymbol
}

type pdbPublicSymbol struct {
	name   string
	offset Offset
	size   uint64
}

const pdbMagic = "Microsoft C/C++ MSF 7.00\r\n\x1aDS\x00\x00\x00"

// parsePDB parses the MSF superblock and PDB info stream far enough to recover the GUID/age, and performs a
// best-effort linear scan of the symbol record stream for S_PUB32 records to populate the public symbol table.
// It intentionally does not implement the GSI hash table, TPI/IPI type streams, or per-module symbol streams; a
// binary whose public symbols live only in per-compiland streams will simply yield fewer functions here.
func parsePDB(data []byte) (*pdbFile, error) {
	if len(data) < len(pdbMagic)+4 || string(data[:len(pdbMagic)]) != pdbMagic {
		return nil, errors.New("not a recognized MSF/PDB 7.0 container")
	}

	off := len(pdbMagic)
	if off+24 > len(data) {
		return nil, errors.New("truncated MSF superblock")
	}
	blockSize := binary.LittleEndian.Uint32(data[off:])
	if blockSize == 0 || int(blockSize) > len(data) {
		return nil, errors.New("implausible MSF block size")
	}

	guid, age, err := findPDBInfoStream(data, blockSize)
	if err != nil {
		return nil, err
	}

	return &pdbFile{
		guid:    guid,
		age:     age,
		publics: sizePublicSymbols(scanPublicSymbols(data)),
	}, nil
}

// sizePublicSymbols assigns each public symbol a size by sorting on offset and taking the gap to the next symbol.
// S_PUB32 records carry no size field, so this is an approximation: the last symbol in offset order gets no size
// (and is therefore dropped, matching the "size == 0 functions are skipped" rule the rest of the pipeline already
// honors for debug info generally).
func sizePublicSymbols(publics []pdbPublicSymbol) []pdbPublicSymbol {
	sort.Slice(publics, func(i, j int) bool { return publics[i].offset < publics[j].offset })
	for i := 0; i+1 < len(publics); i++ {
		publics[i].size = uint64(publics[i+1].offset) - uint64(publics[i].offset)
	}
	return publics
}

// findPDBInfoStream performs a bounded scan over block-aligned offsets in the file for the PDBInfo stream header
// (version, signature, age, guid), which is recognizable by its well-known version constant. A full implementation
// would walk the stream directory; this approximation is sufficient to validate GUID/age, the only use made of it.
func findPDBInfoStream(data []byte, blockSize uint32) ([16]byte, uint32, error) {
	const pdbStreamVersionVC70 = 20000404
	step := int(blockSize)
	if step == 0 {
		step = 4096
	}
	for base := 0; base+24 <= len(data) && base < 64*step; base += step {
		version := binary.LittleEndian.Uint32(data[base:])
		if version != pdbStreamVersionVC70 {
			continue
		}
		age := binary.LittleEndian.Uint32(data[base+8:])
		var guid [16]byte
		copy(guid[:], data[base+12:base+28])
		return guid, age, nil
	}
	return [16]byte{}, 0, errors.New("could not locate PDB info stream header")
}

// scanPublicSymbols walks the byte stream looking for S_PUB32 (0x110E) CodeView symbol records, a flat linear scan
// rather than a true stream/module walk. Each record is {uint16 length}{uint16 kind}{uint32 flags}{uint32
// offset}{uint16 segment}{name...}.
func scanPublicSymbols(data []byte) []pdbPublicSymbol {
	const symPub32 = 0x110E
	var out []pdbPublicSymbol

	for i := 0; i+4 < len(data); {
		length := binary.LittleEndian.Uint16(data[i:])
		if length < 2 || int(i)+2+int(length) > len(data) {
			i++
			continue
		}
		kind := binary.LittleEndian.Uint16(data[i+2:])
		if kind == symPub32 && length >= 14 {
			recStart := i + 4
			flagsOff := recStart
			offsetOff := flagsOff + 4
			nameOff := offsetOff + 6 // uint32 offset + uint16 segment
			if nameOff < len(data) {
				end := i + 2 + int(length)
				if end > len(data) {
					end = len(data)
				}
				name := cString(data[nameOff:end])
				if name != "" {
					out = append(out, pdbPublicSymbol{
						name:   name,
						offset: Offset(binary.LittleEndian.Uint32(data[offsetOff:])),
						size:   0,
					})
				}
			}
		}
		i += 2 + int(length)
	}
	return out
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
