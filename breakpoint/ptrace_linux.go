//go:build linux

package breakpoint

import "golang.org/x/sys/unix"

// PtraceMemory is the real MemoryAccessor, backed by PTRACE_PEEKTEXT/PTRACE_POKETEXT against a traced pid. Page
// protection relaxation is a no-op here: Linux's ptrace text-access path can always write to a traced process's
// text pages regardless of their mapped protection, so there is no separate "make writable" step the way there
// would be on an OS that only allows manipulating memory through its normal VM protection.
type PtraceMemory struct {
	Pid int
}

// PeekText reads len(out) bytes from the tracee's memory at addr.
func (p PtraceMemory) PeekText(addr uintptr, out []byte) (int, error) {
	return unix.PtracePeekText(p.Pid, addr, out)
}

// PokeText writes data into the tracee's memory at addr.
func (p PtraceMemory) PokeText(addr uintptr, data []byte) (int, error) {
	return unix.PtracePokeText(p.Pid, addr, data)
}
