package block

import (
	x86asm "golang.org/x/arch/x86/x86asm"

	"github.com/crytic/covrec/module"
)

// decodeX86 decodes one x86-64 instruction and classifies its effect on the leader set. Direct conditional and
// unconditional jumps, and direct calls, carry their displacement as a Rel operand in Args[0]; everything else
// (returns, interrupts, indirect jumps/calls through a register or memory operand, xbegin/xabort/xend) is
// branchNone, per the sweeper's rule that only direct intra-region jumps (and noreturn-resolved calls) introduce
// leaders.
func decodeX86(code []byte, instrOffset module.Offset) (decodedInstr, error) {
	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		return decodedInstr{}, err
	}

	length := uint64(inst.Len)
	kind, target, hasTarget := classifyX86(inst, instrOffset, length)

	return decodedInstr{length: length, kind: kind, target: target, hasTarget: hasTarget}, nil
}

func classifyX86(inst x86asm.Inst, instrOffset module.Offset, length uint64) (branchKind, module.Offset, bool) {
	switch inst.Op {
	case x86asm.JMP:
		target, ok := x86RelTarget(inst, instrOffset, length)
		return branchUnconditional, target, ok
	case x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JCXZ, x86asm.JE, x86asm.JECXZ,
		x86asm.JG, x86asm.JGE, x86asm.JL, x86asm.JLE, x86asm.JNE, x86asm.JNO, x86asm.JNP,
		x86asm.JNS, x86asm.JO, x86asm.JP, x86asm.JRCXZ, x86asm.JS,
		x86asm.LOOP, x86asm.LOOPE, x86asm.LOOPNE:
		target, ok := x86RelTarget(inst, instrOffset, length)
		return branchConditional, target, ok
	case x86asm.CALL:
		// A direct CALL's target only matters to the sweeper when it resolves to a noreturn function (rule 3b);
		// an indirect CALL (through a register or memory operand) has no Rel operand and hasTarget comes back
		// false, which SweepRegion treats the same as any other non-noreturn call.
		target, ok := x86RelTarget(inst, instrOffset, length)
		return branchCall, target, ok
	default:
		// RET, INT*, IRET*, HLT, UD2, XABORT, XBEGIN, XEND, and indirect JMP all fall here: none of them
		// introduce a leader, matching the sweeper's rule 4.
		return branchNone, 0, false
	}
}

// x86RelTarget resolves a direct jump's Rel operand to a module-relative offset. The displacement is relative to
// the address immediately following the instruction.
func x86RelTarget(inst x86asm.Inst, instrOffset module.Offset, length uint64) (module.Offset, bool) {
	if len(inst.Args) == 0 || inst.Args[0] == nil {
		return 0, false
	}
	rel, ok := inst.Args[0].(x86asm.Rel)
	if !ok {
		return 0, false
	}
	return computeTarget(module.Offset(uint64(instrOffset)+length), int64(rel))
}
