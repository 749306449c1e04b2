package debuginfo

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"
)

// buildSancovELF assembles a minimal, otherwise-empty little-endian ELF64 executable carrying only
// the two sections ReadSancovTables looks for, so the decoder can be exercised without a real
// compiler-instrumented binary on disk.
func buildSancovELF(t *testing.T, pcs []uint64, flags []uint64, counters []byte) []byte {
	t.Helper()
	if len(pcs) != len(flags) || len(pcs) != len(counters) {
		t.Fatal("pcs, flags, and counters must be the same length")
	}

	const ehsize = 64
	const shentsize = 64

	var pcsData bytes.Buffer
	for i := range pcs {
		binary.Write(&pcsData, binary.LittleEndian, pcs[i])
		binary.Write(&pcsData, binary.LittleEndian, flags[i])
	}
	cntrsData := counters

	shstrtab := []byte("\x00.shstrtab\x00__sancov_pcs\x00__sancov_cntrs\x00")
	nameNull := uint32(0)
	nameShstrtab := uint32(1)
	nameSancovPCs := uint32(11)
	nameSancovCntrs := uint32(24)

	pcsOff := uint64(ehsize)
	cntrsOff := pcsOff + uint64(pcsData.Len())
	shstrtabOff := cntrsOff + uint64(len(cntrsData))
	shoff := (shstrtabOff + uint64(len(shstrtab)) + 7) &^ 7

	var buf bytes.Buffer

	ident := [elf.EI_NIDENT]byte{}
	ident[elf.EI_MAG0] = '\x7f'
	ident[elf.EI_MAG1] = 'E'
	ident[elf.EI_MAG2] = 'L'
	ident[elf.EI_MAG3] = 'F'
	ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	hdr := elf.Header64{
		Ident:     ident,
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_X86_64),
		Version:   uint32(elf.EV_CURRENT),
		Shoff:     shoff,
		Ehsize:    ehsize,
		Shentsize: shentsize,
		Shnum:     4,
		Shstrndx:  1,
	}
	binary.Write(&buf, binary.LittleEndian, hdr)
	buf.Write(pcsData.Bytes())
	buf.Write(cntrsData)
	buf.Write(shstrtab)
	for buf.Len() < int(shoff) {
		buf.WriteByte(0)
	}

	sections := []elf.Section64{
		{}, // SHN_UNDEF
		{Name: nameShstrtab, Type: uint32(elf.SHT_STRTAB), Off: shstrtabOff, Size: uint64(len(shstrtab)), Addralign: 1},
		{Name: nameSancovPCs, Type: uint32(elf.SHT_PROGBITS), Off: pcsOff, Size: uint64(pcsData.Len()), Addralign: 8},
		{Name: nameSancovCntrs, Type: uint32(elf.SHT_PROGBITS), Off: cntrsOff, Size: uint64(len(cntrsData)), Addralign: 1},
	}
	_ = nameNull
	for _, s := range sections {
		binary.Write(&buf, binary.LittleEndian, s)
	}

	return buf.Bytes()
}

func TestReadSancovTablesDecodesEntriesAndFlags(t *testing.T) {
	data := buildSancovELF(t,
		[]uint64{0x401000, 0x401020},
		[]uint64{1, 0},
		[]byte{5, 0},
	)

	tables, err := ReadSancovTables(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(tables.PCs) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(tables.PCs))
	}
	if tables.PCs[0] != 0x401000 || tables.PCs[1] != 0x401020 {
		t.Errorf("unexpected PCs: %+v", tables.PCs)
	}
	if !tables.IsEntry[0] || tables.IsEntry[1] {
		t.Errorf("unexpected IsEntry flags: %+v", tables.IsEntry)
	}
	if tables.Counters[0] != 5 || tables.Counters[1] != 0 {
		t.Errorf("unexpected counters: %+v", tables.Counters)
	}
}

func TestReadSancovTablesZeroEntriesDecodeAndNonELFReturnsError(t *testing.T) {
	data := buildSancovELF(t, nil, nil, nil)
	// Verify the zero-entries case decodes cleanly, and separately check that garbage input (not a valid
	// ELF at all) errors out rather than panicking.
	if _, err := ReadSancovTables(data); err != nil {
		t.Fatalf("unexpected error decoding a zero-entry table: %v", err)
	}

	if _, err := ReadSancovTables([]byte("not an elf file")); err == nil {
		t.Error("expected an error for non-ELF input")
	}
}
