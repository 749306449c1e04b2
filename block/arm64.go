package block

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/crytic/covrec/module"
)

// decodeARM64 is a hand-rolled aarch64 classifier: there is no disassembly library in the retrieved example
// corpus for this architecture, so only the fixed-width encodings that the sweeper cares about are decoded. Every
// aarch64 instruction is 4 bytes, which keeps this far simpler than the x86-64 case.
//
// Recognized branch-affecting forms:
//   - B (unconditional branch, immediate)
//   - B.cond (conditional branch, immediate)
//   - CBZ/CBNZ (compare-and-branch, immediate)
//   - TBZ/TBNZ (test-and-branch, immediate)
//
// BL (branch-with-link, i.e. a direct call) is recognized well enough to resolve its target, which SweepRegion
// uses only to check for a noreturn callee; BR/BLR/RET (register-indirect branches) are recognized only well
// enough to classify them as branchNone, matching the sweeper's rule that indirect branches never introduce
// leaders. Anything else decodes as branchNone as well.
func decodeARM64(code []byte, instrOffset module.Offset) (decodedInstr, error) {
	if len(code) < 4 {
		return decodedInstr{}, errors.New("truncated aarch64 instruction")
	}
	word := binary.LittleEndian.Uint32(code[:4])

	kind, target, hasTarget := classifyARM64(word, instrOffset)
	return decodedInstr{length: 4, kind: kind, target: target, hasTarget: hasTarget}, nil
}

func classifyARM64(word uint32, instrOffset module.Offset) (branchKind, module.Offset, bool) {
	switch {
	case word&0xFC000000 == 0x14000000: // B: op=0, bits[31:26]=000101
		rel := signExtend(word&0x03FFFFFF, 26) << 2
		target, ok := computeTarget(instrOffset, rel)
		return branchUnconditional, target, ok

	case word&0xFC000000 == 0x94000000: // BL: bits[31:26]=100101, a call
		// Only matters to the sweeper when the target resolves to a noreturn function (rule 3b); otherwise
		// treated the same as any other non-noreturn call.
		rel := signExtend(word&0x03FFFFFF, 26) << 2
		target, ok := computeTarget(instrOffset, rel)
		return branchCall, target, ok

	case word&0xFF000010 == 0x54000000: // B.cond
		imm19 := (word >> 5) & 0x7FFFF
		rel := signExtend(imm19, 19) << 2
		target, ok := computeTarget(instrOffset, rel)
		return branchConditional, target, ok

	case word&0x7E000000 == 0x34000000: // CBZ
		imm19 := (word >> 5) & 0x7FFFF
		rel := signExtend(imm19, 19) << 2
		target, ok := computeTarget(instrOffset, rel)
		return branchConditional, target, ok

	case word&0x7E000000 == 0x35000000: // CBNZ
		imm19 := (word >> 5) & 0x7FFFF
		rel := signExtend(imm19, 19) << 2
		target, ok := computeTarget(instrOffset, rel)
		return branchConditional, target, ok

	case word&0x7E000000 == 0x36000000: // TBZ
		imm14 := (word >> 5) & 0x3FFF
		rel := signExtend(imm14, 14) << 2
		target, ok := computeTarget(instrOffset, rel)
		return branchConditional, target, ok

	case word&0x7E000000 == 0x37000000: // TBNZ
		imm14 := (word >> 5) & 0x3FFF
		rel := signExtend(imm14, 14) << 2
		target, ok := computeTarget(instrOffset, rel)
		return branchConditional, target, ok

	default:
		// Includes BR, BLR, RET (register-indirect, bits[31:25]=1101011), plain data-processing/load-store
		// instructions, and anything else not explicitly recognized above.
		return branchNone, 0, false
	}
}

// signExtend treats the low `bits` bits of v as a two's-complement integer and sign-extends it to int64.
func signExtend(v uint32, bits uint) int64 {
	shift := 32 - bits
	return int64(int32(v<<shift)) >> shift
}
