// Package breakpoint implements one-shot software breakpoints in a live tracee, per spec.md §4.7: arm a trap byte
// at an address, remember the original byte, and restore it on demand. The manager itself never re-arms a
// breakpoint after it fires — that's the debugger loop's job, and the loop deliberately chooses not to.
package breakpoint

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/crytic/covrec/module"
)

// MemoryAccessor is the tracee-memory capability the manager needs: read and write a byte range at a virtual
// address. The real implementation wraps ptrace (see ptrace_linux.go); tests use an in-memory fake.
type MemoryAccessor interface {
	PeekText(addr uintptr, out []byte) (int, error)
	PokeText(addr uintptr, data []byte) (int, error)
}

// ErrAlreadyArmed is returned by Set when a breakpoint is already installed at the given address.
var ErrAlreadyArmed = errors.New("a breakpoint is already armed at this address")

// ErrNotArmed is returned by Restore when no breakpoint is installed at the given address.
var ErrNotArmed = errors.New("no breakpoint is armed at this address")

// ErrMemoryAccess is returned when the tracee's memory could not be read or written.
var ErrMemoryAccess = errors.New("failed to access tracee memory")

// TrapByteX86 is the x86 single-byte INT3 instruction used to trap execution.
const TrapByteX86 = 0xCC

// Manager tracks every currently-armed software breakpoint for one tracee, keyed by virtual address, along with
// the original byte each one replaced.
type Manager struct {
	mu    sync.Mutex
	armed map[module.Address]byte
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{armed: make(map[module.Address]byte)}
}

// Set reads and saves the original byte at addr, then writes the trap byte over it. One-shot: Set does not
// re-arm automatically once the manager later learns the breakpoint fired; that is the caller's decision.
func (m *Manager) Set(mem MemoryAccessor, addr module.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.armed[addr]; ok {
		return errors.Wrapf(ErrAlreadyArmed, "address 0x%x", uint64(addr))
	}

	var original [1]byte
	if _, err := mem.PeekText(uintptr(addr), original[:]); err != nil {
		return errors.Wrapf(ErrMemoryAccess, "reading original byte at 0x%x: %v", uint64(addr), err)
	}

	trap := [1]byte{TrapByteX86}
	if _, err := mem.PokeText(uintptr(addr), trap[:]); err != nil {
		return errors.Wrapf(ErrMemoryAccess, "writing trap byte at 0x%x: %v", uint64(addr), err)
	}

	m.armed[addr] = original[0]
	return nil
}

// Restore writes the saved original byte back at addr and forgets it. Fails with ErrNotArmed if addr has no
// entry.
func (m *Manager) Restore(mem MemoryAccessor, addr module.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.restoreLocked(mem, addr)
}

func (m *Manager) restoreLocked(mem MemoryAccessor, addr module.Address) error {
	original, ok := m.armed[addr]
	if !ok {
		return errors.Wrapf(ErrNotArmed, "address 0x%x", uint64(addr))
	}

	saved := [1]byte{original}
	if _, err := mem.PokeText(uintptr(addr), saved[:]); err != nil {
		return errors.Wrapf(ErrMemoryAccess, "restoring byte at 0x%x: %v", uint64(addr), err)
	}

	delete(m.armed, addr)
	return nil
}

// RestoreAll restores every currently armed breakpoint, used at detach or on a fatal error. It attempts every
// address even if one fails, and returns the first error encountered (if any).
func (m *Manager) RestoreAll(mem MemoryAccessor) error {
	m.mu.Lock()
	addrs := make([]module.Address, 0, len(m.armed))
	for addr := range m.armed {
		addrs = append(addrs, addr)
	}
	m.mu.Unlock()

	var firstErr error
	for _, addr := range addrs {
		m.mu.Lock()
		err := m.restoreLocked(mem, addr)
		m.mu.Unlock()
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// IsArmed reports whether a breakpoint is currently installed at addr.
func (m *Manager) IsArmed(addr module.Address) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.armed[addr]
	return ok
}

// Len returns the number of currently armed breakpoints.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.armed)
}
