package block

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/crytic/covrec/module"
)

// branchKind classifies how a decoded instruction can affect the leader set of the function it belongs to.
type branchKind int

const (
	branchNone branchKind = iota
	branchConditional
	branchUnconditional
	// branchCall marks a direct call instruction whose target offset was resolved. It never contributes a leader
	// on its own; SweepRegion only uses it to check whether the call target is a function marked NoReturn, in
	// which case the instruction following the call becomes a leader (rule 3's noreturn clause).
	branchCall
)

// decodedInstr is what an architecture decoder reports about a single instruction: how many bytes it occupies, its
// branch classification, and (for direct branches) the module-relative offset it targets.
type decodedInstr struct {
	length    uint64
	kind      branchKind
	target    module.Offset
	hasTarget bool
}

type decodeFunc func(code []byte, instrOffset module.Offset) (decodedInstr, error)

func decoderFor(arch module.Architecture) (decodeFunc, error) {
	switch arch {
	case module.ArchX86_64:
		return decodeX86, nil
	case module.ArchARM64:
		return decodeARM64, nil
	default:
		return nil, errors.Errorf("no block sweeper for architecture %q", arch)
	}
}

// SweepModule sweeps every function DebugInfo knows about and returns the union of their blocks.
func SweepModule(mod module.Module, info *module.Info) (*Blocks, error) {
	blocks := NewBlocks()
	for _, fn := range info.Functions() {
		fnBlocks, err := SweepRegion(mod, info, fn.Offset, fn.Size)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to sweep function %q at offset 0x%x", fn.Name, fn.Offset)
		}
		blocks.Extend(fnBlocks)
	}
	return blocks, nil
}

// SweepRegion partitions [offset, offset+size) into basic blocks by linear disassembly, per the leader rules:
//  1. the region entry is always a leader;
//  2. a conditional branch whose near target lies inside the region contributes both the target and the
//     fall-through offset as leaders;
//  3. an unconditional intra-region branch contributes only its target as a leader (no fall-through leader);
//  3b. a direct call whose target resolves (via info) to a Function marked NoReturn contributes the instruction
//      following the call as a leader: that call can never fall through, so the bytes after it start a fresh,
//      structurally disconnected block rather than being folded into whatever block contains the call;
//  4. calls to a target that isn't known to be NoReturn, returns, interrupts, indirect branches, and other
//     non-branch instructions never contribute leaders: a block that runs through such an instruction simply
//     continues until the next leader or the end of the region;
//  5. targets outside the region are discarded;
//  6. blocks are formed by sorting the leader set and pairing consecutive offsets, with the last block ending at
//     offset+size.
//
// Disassembly stops early (without error) if it runs past the end of the region or hits bytes it cannot decode;
// whatever leaders were already found still produce valid blocks. info may be nil, in which case rule 3b never
// fires (every call is treated as rule 4, matching earlier behavior for modules with no resolvable debug info).
func SweepRegion(mod module.Module, info *module.Info, offset module.Offset, size uint64) (*Blocks, error) {
	if size == 0 {
		return NewBlocks(), nil
	}

	code, err := mod.Read(offset, size)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read region [0x%x, 0x%x)", offset, uint64(offset)+size)
	}

	decode, err := decoderFor(mod.Architecture())
	if err != nil {
		return nil, err
	}

	end := module.Offset(uint64(offset) + size)
	leaders := map[module.Offset]struct{}{offset: {}}

	var pos uint64
	for pos < size {
		instrOffset := module.Offset(uint64(offset) + pos)
		inst, err := decode(code[pos:], instrOffset)
		if err != nil || inst.length == 0 {
			break
		}

		switch inst.kind {
		case branchConditional:
			fallthroughOffset := module.Offset(uint64(instrOffset) + inst.length)
			if inst.hasTarget && withinRegion(inst.target, offset, end) {
				leaders[inst.target] = struct{}{}
			}
			if withinRegion(fallthroughOffset, offset, end) {
				leaders[fallthroughOffset] = struct{}{}
			}
		case branchUnconditional:
			if inst.hasTarget && withinRegion(inst.target, offset, end) {
				leaders[inst.target] = struct{}{}
			}
		case branchCall:
			if info != nil && inst.hasTarget && callTargetIsNoReturn(info, inst.target) {
				fallthroughOffset := module.Offset(uint64(instrOffset) + inst.length)
				if withinRegion(fallthroughOffset, offset, end) {
					leaders[fallthroughOffset] = struct{}{}
				}
			}
		}

		pos += inst.length
	}

	return blocksFromLeaders(leaders, offset, end), nil
}

// callTargetIsNoReturn reports whether target is exactly a known function's entry offset and that function is
// marked NoReturn. A call into the middle of a function (which debug info shouldn't produce, but a stripped or
// obfuscated target might) is treated as not-noreturn rather than guessed at.
func callTargetIsNoReturn(info *module.Info, target module.Offset) bool {
	fn, ok := info.FindFunction(target)
	return ok && fn.Offset == target && fn.NoReturn
}

func withinRegion(off, regionStart, regionEnd module.Offset) bool {
	return off >= regionStart && off < regionEnd
}

func blocksFromLeaders(leaderSet map[module.Offset]struct{}, regionStart, regionEnd module.Offset) *Blocks {
	leaders := make([]module.Offset, 0, len(leaderSet))
	for l := range leaderSet {
		leaders = append(leaders, l)
	}
	sort.Slice(leaders, func(i, j int) bool { return leaders[i] < leaders[j] })

	blocks := NewBlocks()
	for i, l := range leaders {
		next := regionEnd
		if i+1 < len(leaders) {
			next = leaders[i+1]
		}
		if next <= l {
			continue
		}
		blocks.Insert(Block{Offset: l, Size: uint64(next) - uint64(l)})
	}
	return blocks
}

// computeTarget resolves a PC-relative branch target to a module-relative offset, given the offset the PC-relative
// displacement is measured from (the start of the branch instruction on aarch64, the end of it on x86-64) and the
// signed displacement itself. A displacement that would underflow past offset 0 discards the target.
func computeTarget(from module.Offset, rel int64) (module.Offset, bool) {
	t := int64(from) + rel
	if t < 0 {
		return 0, false
	}
	return module.Offset(uint64(t)), true
}
