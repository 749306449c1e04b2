package debugger

import (
	"time"

	"github.com/pkg/errors"

	"github.com/crytic/covrec/breakpoint"
	"github.com/crytic/covrec/module"
)

// ErrTimeout is returned by a Backend's NextEvent once the session deadline has passed.
var ErrTimeout = errors.New("debugger session timed out")

// ErrUnsupportedPlatform is returned by a Backend that exists only as scaffolding on this platform.
var ErrUnsupportedPlatform = errors.New("this debugger backend is not supported on this platform")

// Recorder receives events dispatched by the loop. Both methods run synchronously between events and must return
// before the loop proceeds, per the single-threaded cooperative contract: no concurrent tracee manipulation is
// permitted.
type Recorder interface {
	OnModuleLoad(img ModuleImage) error
	OnBreakpoint(addr module.Address) error
}

// Result summarizes how a session ended.
type Result struct {
	TimedOut bool
	ExitCode int
}

// Loop drives one tracee from spawn to exit or timeout, dispatching events to a Recorder and to any observers
// subscribed via Subscribe.
type Loop struct {
	backend     Backend
	breakpoints *breakpoint.Manager
	recorder    Recorder
	events      EventEmitter[Event]
}

// NewLoop constructs a Loop over backend, dispatching events to recorder. recorder may be nil and supplied later
// via SetRecorder, which a caller needs when constructing a Recorder that itself holds a reference back to this
// Loop (to arm breakpoints from OnModuleLoad).
func NewLoop(backend Backend, recorder Recorder) *Loop {
	return &Loop{backend: backend, breakpoints: breakpoint.NewManager(), recorder: recorder}
}

// SetRecorder assigns the Recorder events are dispatched to. Used to break the construction cycle between a Loop
// and a Recorder that holds a reference back to it.
func (l *Loop) SetRecorder(recorder Recorder) {
	l.recorder = recorder
}

// Subscribe registers an additional observer of every dispatched event, independent of the Recorder. Used for
// test assertions and CLI progress reporting.
func (l *Loop) Subscribe(callback EventHandler[Event]) {
	l.events.Subscribe(callback)
}

// Arm installs a one-shot breakpoint at addr. Recorder implementations call this from OnModuleLoad for every
// selected coverage site.
func (l *Loop) Arm(addr module.Address) error {
	return l.breakpoints.Set(l.backend, addr)
}

// Run spawns cmd and drives it to completion or timeout, per spec.md §4.8's protocol.
func (l *Loop) Run(cmd string, args, env []string, stdio StdioMode, timeout time.Duration) (Result, error) {
	if _, err := l.backend.Spawn(cmd, args, env, stdio); err != nil {
		return Result{}, errors.Wrap(err, "spawning tracee")
	}

	deadline := time.Now().Add(timeout)

	for {
		ev, err := l.backend.NextEvent(deadline)
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				_ = l.breakpoints.RestoreAll(l.backend)
				_ = l.backend.Terminate()
				return Result{TimedOut: true}, nil
			}
			return Result{}, errors.Wrap(err, "waiting for debug event")
		}
		l.events.Publish(ev)

		switch ev.Kind {
		case KindModuleLoad:
			if err := l.recorder.OnModuleLoad(ev.Module); err != nil {
				return Result{}, errors.Wrap(err, "dispatching module-load event")
			}

		case KindBreakpointHit:
			// Recorder errors here (e.g. an address that resolves to no tracked image) are recoverable: the
			// offset is dropped and the loop continues, per spec.md §4.9.
			_ = l.recorder.OnBreakpoint(ev.Address)

			if err := l.breakpoints.Restore(l.backend, ev.Address); err != nil {
				return Result{}, errors.Wrap(err, "restoring one-shot breakpoint")
			}
			if err := l.rewindAndStep(ev.Address); err != nil {
				return Result{}, err
			}

		case KindExit:
			return Result{ExitCode: ev.ExitCode}, nil
		}

		// ev.Pending means another event from this same underlying stop is already queued: the tracee has not
		// been resumed since the prior event, so resuming now would run it before that queued event is handled.
		if ev.Pending {
			continue
		}
		if err := l.backend.Continue(); err != nil {
			return Result{}, errors.Wrap(err, "resuming tracee")
		}
	}
}

// rewindAndStep sets the instruction pointer back to the trapped address and single-steps the original
// instruction, restoring forward progress without the trap byte in place.
func (l *Loop) rewindAndStep(addr module.Address) error {
	regs, err := l.backend.ReadRegs()
	if err != nil {
		return errors.Wrap(err, "reading registers after breakpoint hit")
	}
	regs.SetIP(uint64(addr))
	if err := l.backend.WriteRegs(regs); err != nil {
		return errors.Wrap(err, "rewinding instruction pointer")
	}
	if err := l.backend.SingleStep(); err != nil {
		return errors.Wrap(err, "single-stepping trapped instruction")
	}
	return nil
}
