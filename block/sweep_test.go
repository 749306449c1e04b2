package block

import (
	"testing"

	"github.com/crytic/covrec/module"
	"github.com/crytic/covrec/pathutil"
)

// fakeModule is a minimal module.Module backed by an in-memory byte slice, used to exercise the sweeper without a
// real ELF/PE image.
type fakeModule struct {
	data []byte
	arch module.Architecture
}

func (f *fakeModule) ExecutablePath() pathutil.Path       { return pathutil.MustNew("/tmp/fake") }
func (f *fakeModule) DebuginfoPath() pathutil.Path        { return pathutil.MustNew("/tmp/fake") }
func (f *fakeModule) BaseAddress() module.Address         { return 0 }
func (f *fakeModule) ExecutableData() []byte              { return f.data }
func (f *fakeModule) DebuginfoData() []byte               { return f.data }
func (f *fakeModule) Architecture() module.Architecture   { return f.arch }
func (f *fakeModule) DebugInfo() (*module.Info, error)    { return module.NewInfo(nil, nil), nil }

func (f *fakeModule) Read(offset module.Offset, size uint64) ([]byte, error) {
	start := uint64(offset)
	end := start + size
	if end > uint64(len(f.data)) {
		return nil, module.ErrOutOfBounds
	}
	return f.data[start:end], nil
}

func TestSweepRegionX86ConditionalBranch(t *testing.T) {
	// JE +2 ; NOP ; NOP ; RET
	code := []byte{0x74, 0x02, 0x90, 0x90, 0xC3}
	mod := &fakeModule{data: code, arch: module.ArchX86_64}

	blocks, err := SweepRegion(mod, nil, module.Offset(0), uint64(len(code)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	all := blocks.All()
	if len(all) != 3 {
		t.Fatalf("expected 3 blocks, got %d: %+v", len(all), all)
	}
	want := []Block{{0, 2}, {2, 2}, {4, 1}}
	for i, b := range want {
		if all[i] != b {
			t.Errorf("block %d = %+v, want %+v", i, all[i], b)
		}
	}
}

func TestSweepRegionX86UnconditionalBranchNoFallthroughLeader(t *testing.T) {
	// JMP +2 ; NOP ; NOP ; RET
	code := []byte{0xEB, 0x02, 0x90, 0x90, 0xC3}
	mod := &fakeModule{data: code, arch: module.ArchX86_64}

	blocks, err := SweepRegion(mod, nil, module.Offset(0), uint64(len(code)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	all := blocks.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 blocks (no fall-through leader), got %d: %+v", len(all), all)
	}
	want := []Block{{0, 4}, {4, 1}}
	for i, b := range want {
		if all[i] != b {
			t.Errorf("block %d = %+v, want %+v", i, all[i], b)
		}
	}
}

func TestSweepRegionX86CallIntroducesNoLeader(t *testing.T) {
	// CALL rel32=0 (calls the instruction right after itself) ; RET
	code := []byte{0xE8, 0x00, 0x00, 0x00, 0x00, 0xC3}
	mod := &fakeModule{data: code, arch: module.ArchX86_64}

	blocks, err := SweepRegion(mod, nil, module.Offset(0), uint64(len(code)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if blocks.Len() != 1 {
		t.Fatalf("expected a single block spanning the whole region, got %d: %+v", blocks.Len(), blocks.All())
	}
}

func TestSweepRegionX86NoReturnCallAddsFallthroughLeader(t *testing.T) {
	// CALL rel32 -> offset 10 ("abort"); NOP; NOP; RET. Since "abort" is marked NoReturn, the NOP at offset 5
	// (right after the call) becomes its own block even though nothing jumps to it directly.
	code := []byte{
		0xE8, 0x05, 0x00, 0x00, 0x00, // CALL +5 (target = 5+5 = 10)
		0x90, 0x90, 0xC3, // NOP; NOP; RET
		0x90, 0x90, 0xC3, // abort's body, never executed here but present for decode bounds
	}
	mod := &fakeModule{data: code, arch: module.ArchX86_64}
	info := module.NewInfo([]module.Function{
		{Name: "caller", Offset: 0, Size: 8},
		{Name: "abort", Offset: 10, Size: 1, NoReturn: true},
	}, nil)

	blocks, err := SweepRegion(mod, info, module.Offset(0), 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	all := blocks.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 blocks (call site, then the unreachable fallthrough), got %d: %+v", len(all), all)
	}
	want := []Block{{0, 5}, {5, 3}}
	for i, b := range want {
		if all[i] != b {
			t.Errorf("block %d = %+v, want %+v", i, all[i], b)
		}
	}
}

func TestSweepRegionX86CallToNonNoReturnTargetAddsNoLeader(t *testing.T) {
	// Same shape as above, but the call target is not marked NoReturn: no extra leader should appear.
	code := []byte{
		0xE8, 0x05, 0x00, 0x00, 0x00, // CALL +5 (target = 10)
		0x90, 0x90, 0xC3,
		0x90, 0x90, 0xC3,
	}
	mod := &fakeModule{data: code, arch: module.ArchX86_64}
	info := module.NewInfo([]module.Function{
		{Name: "caller", Offset: 0, Size: 8},
		{Name: "helper", Offset: 10, Size: 1, NoReturn: false},
	}, nil)

	blocks, err := SweepRegion(mod, info, module.Offset(0), 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if blocks.Len() != 1 {
		t.Fatalf("expected a single block spanning the whole region, got %d: %+v", blocks.Len(), blocks.All())
	}
}

func TestSweepRegionARM64UnconditionalBranch(t *testing.T) {
	// B #4 (branches to the instruction immediately following itself) ; RET
	code := []byte{
		0x01, 0x00, 0x00, 0x14, // B +4
		0xC0, 0x03, 0x5F, 0xD6, // RET
	}
	mod := &fakeModule{data: code, arch: module.ArchARM64}

	blocks, err := SweepRegion(mod, nil, module.Offset(0), uint64(len(code)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	all := blocks.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 blocks, got %d: %+v", len(all), all)
	}
	want := []Block{{0, 4}, {4, 4}}
	for i, b := range want {
		if all[i] != b {
			t.Errorf("block %d = %+v, want %+v", i, all[i], b)
		}
	}
}

func TestSweepRegionDiscardsOutOfRangeTargets(t *testing.T) {
	// JMP to an offset past the end of the region (a tail call out of the function): should not be treated as a
	// leader, so the whole region sweeps as one block.
	code := []byte{0xE9, 0xFF, 0x0F, 0x00, 0x00} // JMP rel32 far forward, out of a tiny region
	mod := &fakeModule{data: code, arch: module.ArchX86_64}

	blocks, err := SweepRegion(mod, nil, module.Offset(0), uint64(len(code)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if blocks.Len() != 1 {
		t.Fatalf("expected 1 block (target discarded), got %d: %+v", blocks.Len(), blocks.All())
	}
}

func TestSweepRegionEmptyFunction(t *testing.T) {
	mod := &fakeModule{data: nil, arch: module.ArchX86_64}
	blocks, err := SweepRegion(mod, nil, module.Offset(0), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if blocks.Len() != 0 {
		t.Fatalf("expected no blocks for a zero-size region, got %d", blocks.Len())
	}
}

func TestSweepModuleAggregatesAcrossFunctions(t *testing.T) {
	code := []byte{
		0x90, 0xC3, // fn a: NOP; RET
		0x90, 0xC3, // fn b: NOP; RET
	}
	mod := &fakeModule{data: code, arch: module.ArchX86_64}
	info := module.NewInfo([]module.Function{
		{Name: "a", Offset: 0, Size: 2},
		{Name: "b", Offset: 2, Size: 2},
	}, nil)

	blocks, err := SweepModule(mod, info)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if blocks.Len() != 2 {
		t.Fatalf("expected 2 blocks (one per function), got %d: %+v", blocks.Len(), blocks.All())
	}
}
