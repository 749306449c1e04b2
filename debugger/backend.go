package debugger

import "time"

// StdioMode selects how a spawned tracee's standard streams are wired.
type StdioMode int

const (
	// StdioNull discards the tracee's stdin/stdout/stderr. The CLI default per spec.md §6.
	StdioNull StdioMode = iota
	// StdioInherit connects the tracee's streams to this process's own, used by --dump-stdio.
	StdioInherit
)

// Regs is the minimal register access the loop needs to replay the instruction a one-shot breakpoint trapped.
type Regs interface {
	// IP returns the current instruction pointer.
	IP() uint64
	// SetIP rewinds the instruction pointer to addr.
	SetIP(addr uint64)
}

// Backend is one platform's debugging transport. Loop drives a tracee entirely through this interface, so every
// platform shares one control-flow implementation (loop.go); only event retrieval and register/memory access are
// platform-specific.
type Backend interface {
	// Spawn launches cmd with args and env, wires stdio per mode, and stops the tracee at its initial debugger
	// break. It returns the tracee's pid.
	Spawn(cmd string, args, env []string, mode StdioMode) (pid int, err error)

	// NextEvent blocks for the next OS debug event, or returns ErrTimeout once deadline has passed.
	NextEvent(deadline time.Time) (Event, error)

	// ReadRegs and WriteRegs access the stopped thread's registers.
	ReadRegs() (Regs, error)
	WriteRegs(regs Regs) error

	// PeekText and PokeText access tracee memory; this is also breakpoint.MemoryAccessor's contract, so a
	// Backend can arm breakpoints directly.
	PeekText(addr uintptr, out []byte) (int, error)
	PokeText(addr uintptr, data []byte) (int, error)

	// SingleStep executes exactly one instruction and stops again.
	SingleStep() error
	// Continue resumes execution until the next debug event.
	Continue() error
	// Terminate kills the tracee unconditionally, used on timeout or a fatal error.
	Terminate() error
}
