package debugger

import (
	"github.com/crytic/covrec/module"
	"github.com/crytic/covrec/pathutil"
)

// ModuleImage describes one module currently mapped into the tracee's address space: its on-disk path and its
// runtime base address, which may differ from the module's preferred base due to ASLR.
type ModuleImage struct {
	Path pathutil.Path
	Base module.Address
	Size uint64
}

// Contains reports whether addr falls within [Base, Base+Size).
func (m ModuleImage) Contains(addr module.Address) bool {
	if addr < m.Base {
		return false
	}
	return uint64(addr)-uint64(m.Base) < m.Size
}

// Kind identifies the category of a dispatched Event.
type Kind int

const (
	// KindModuleLoad announces a newly mapped module image.
	KindModuleLoad Kind = iota
	// KindBreakpointHit announces a trapped one-shot breakpoint, already adjusted to the faulting address.
	KindBreakpointHit
	// KindExit announces tracee termination.
	KindExit
)

// Event is a single OS debug event dispatched by the loop, either to the recorder or to an observer subscribed
// via Loop.Subscribe.
type Event struct {
	Kind Kind

	// Module is populated for KindModuleLoad.
	Module ModuleImage

	// Address is the faulting instruction address for KindBreakpointHit, already decremented where the
	// platform's trap instruction leaves the instruction pointer past the trap byte.
	Address module.Address

	// ExitCode and Signaled are populated for KindExit.
	ExitCode int
	Signaled bool

	// Pending reports whether another event from this same underlying OS stop is already queued and will be
	// returned by the next NextEvent call without the tracee having been resumed in between. A Backend that can
	// discover more than one logical event per stop (e.g. two new modules mapped between two traps) sets this on
	// every event but the last in the cluster; Loop must not call Backend.Continue after such an event, since the
	// tracee has not actually been allowed to run since the prior one.
	Pending bool
}
