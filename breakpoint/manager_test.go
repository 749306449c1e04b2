package breakpoint

import (
	"testing"

	"github.com/crytic/covrec/module"
)

// fakeMemory is an in-memory MemoryAccessor over a flat byte buffer, addressed starting at 0, used to exercise
// the manager without a real tracee.
type fakeMemory struct {
	data []byte
}

func (f *fakeMemory) PeekText(addr uintptr, out []byte) (int, error) {
	copy(out, f.data[addr:])
	return len(out), nil
}

func (f *fakeMemory) PokeText(addr uintptr, data []byte) (int, error) {
	copy(f.data[addr:], data)
	return len(data), nil
}

func TestSetSavesOriginalByteAndWritesTrap(t *testing.T) {
	mem := &fakeMemory{data: []byte{0x90, 0x90, 0x90}}
	mgr := NewManager()

	if err := mgr.Set(mem, module.Address(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mem.data[1] != TrapByteX86 {
		t.Errorf("expected trap byte at address 1, got 0x%x", mem.data[1])
	}
	if !mgr.IsArmed(module.Address(1)) {
		t.Error("expected address 1 to be armed")
	}
}

func TestSetTwiceFails(t *testing.T) {
	mem := &fakeMemory{data: []byte{0x90, 0x90}}
	mgr := NewManager()
	if err := mgr.Set(mem, module.Address(0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mgr.Set(mem, module.Address(0)); err == nil {
		t.Fatal("expected an error arming an already-armed address")
	}
}

func TestRestoreWritesBackOriginalByte(t *testing.T) {
	mem := &fakeMemory{data: []byte{0x55, 0x90}}
	mgr := NewManager()
	if err := mgr.Set(mem, module.Address(0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mgr.Restore(mem, module.Address(0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mem.data[0] != 0x55 {
		t.Errorf("expected original byte 0x55 restored, got 0x%x", mem.data[0])
	}
	if mgr.IsArmed(module.Address(0)) {
		t.Error("expected address 0 to no longer be armed after restore")
	}
}

func TestRestoreUnarmedFails(t *testing.T) {
	mem := &fakeMemory{data: []byte{0x90}}
	mgr := NewManager()
	if err := mgr.Restore(mem, module.Address(0)); err == nil {
		t.Fatal("expected an error restoring an unarmed address")
	}
}

func TestRestoreAllRestoresEverything(t *testing.T) {
	mem := &fakeMemory{data: []byte{0x11, 0x22, 0x33}}
	mgr := NewManager()
	for _, addr := range []module.Address{0, 1, 2} {
		if err := mgr.Set(mem, addr); err != nil {
			t.Fatalf("unexpected error arming 0x%x: %v", addr, err)
		}
	}

	if err := mgr.RestoreAll(mem); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mgr.Len() != 0 {
		t.Errorf("expected 0 armed breakpoints after RestoreAll, got %d", mgr.Len())
	}
	want := []byte{0x11, 0x22, 0x33}
	for i, b := range want {
		if mem.data[i] != b {
			t.Errorf("byte %d = 0x%x, want 0x%x", i, mem.data[i], b)
		}
	}
}

func TestOneShotSemanticsNoAutomaticRearm(t *testing.T) {
	mem := &fakeMemory{data: []byte{0x90}}
	mgr := NewManager()
	if err := mgr.Set(mem, module.Address(0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mgr.Restore(mem, module.Address(0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// After restoring (simulating a one-shot hit), the manager must not think the address is still armed, and
	// re-arming must succeed rather than fail as "already armed".
	if mgr.IsArmed(module.Address(0)) {
		t.Fatal("breakpoint should not be armed after restore")
	}
	if err := mgr.Set(mem, module.Address(0)); err != nil {
		t.Fatalf("expected re-arming to succeed after a restore, got: %v", err)
	}
}
