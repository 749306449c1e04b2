//go:build linux

package debugger

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/crytic/covrec/module"
	"github.com/crytic/covrec/pathutil"
)

// pollInterval bounds how long NextEvent can overshoot a deadline by, since Wait4 is polled non-blocking rather
// than interrupted.
const pollInterval = 2 * time.Millisecond

// linuxRegs adapts a raw unix.PtraceRegs to the Regs interface.
type linuxRegs struct {
	raw unix.PtraceRegs
}

func (r *linuxRegs) IP() uint64        { return ipFromPtraceRegs(&r.raw) }
func (r *linuxRegs) SetIP(addr uint64) { setIPInPtraceRegs(&r.raw, addr) }

// LinuxPtrace is the Backend implementation built on golang.org/x/sys/unix's PtraceXxx wrappers and
// os/exec + syscall.SysProcAttr{Ptrace: true}, the idiomatic Go ptrace pattern: the child calls PTRACE_TRACEME
// before its execve and stops itself with SIGTRAP, at which point this process becomes its tracer.
type LinuxPtrace struct {
	pid int
	cmd *exec.Cmd

	// knownModules tracks every file-backed mapping already surfaced as a KindModuleLoad event, keyed by its
	// on-disk path, so a later scan only reports genuinely new modules (e.g. a dlopen'd shared library).
	knownModules map[string]struct{}
	// pendingEvents holds KindModuleLoad events discovered by a maps scan but not yet returned from NextEvent;
	// a single scan can discover more than one new module (the executable plus ld.so at startup, or several
	// libraries dlopen'd between two stops), but NextEvent can only hand back one Event per call.
	pendingEvents []Event
}

// NewLinuxPtrace returns an unstarted Linux ptrace backend.
func NewLinuxPtrace() *LinuxPtrace {
	return &LinuxPtrace{knownModules: make(map[string]struct{})}
}

// scanModules reads /proc/<pid>/maps and returns a ModuleImage for every file-backed mapping not already in
// knownModules, per spec.md §2's "breakpoints installed in tracee at load time": the main executable and the
// dynamic linker are already mapped by the kernel at the initial exec stop, and any later dlopen'd library shows
// up as a new mapping at the next stop this is called from. A module's runtime base is the lowest mapped address
// among its segments, which for a PIE/shared object corresponds to file vaddr 0 (its ELFModule.BaseAddress()) and
// for a non-PIE executable equals the file's own preferred base, since ASLR does not relocate it.
func (b *LinuxPtrace) scanModules() ([]ModuleImage, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/maps", b.pid))
	if err != nil {
		// The tracee may already have exited by the time this is called from an exit event; that is not a
		// reason to fail event delivery.
		return nil, nil
	}

	type span struct{ start, end uint64 }
	spans := make(map[string]*span)
	var order []string

	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 6 {
			continue
		}
		path := strings.TrimSuffix(strings.Join(fields[5:], " "), " (deleted)")
		if !strings.HasPrefix(path, "/") {
			continue
		}

		bounds := strings.SplitN(fields[0], "-", 2)
		if len(bounds) != 2 {
			continue
		}
		start, errStart := strconv.ParseUint(bounds[0], 16, 64)
		end, errEnd := strconv.ParseUint(bounds[1], 16, 64)
		if errStart != nil || errEnd != nil {
			continue
		}

		sp, ok := spans[path]
		if !ok {
			spans[path] = &span{start: start, end: end}
			order = append(order, path)
			continue
		}
		if start < sp.start {
			sp.start = start
		}
		if end > sp.end {
			sp.end = end
		}
	}

	sort.Strings(order)
	var images []ModuleImage
	for _, path := range order {
		if _, seen := b.knownModules[path]; seen {
			continue
		}
		b.knownModules[path] = struct{}{}

		p, err := pathutil.New(path)
		if err != nil {
			continue
		}
		sp := spans[path]
		images = append(images, ModuleImage{Path: p, Base: module.Address(sp.start), Size: sp.end - sp.start})
	}
	return images, nil
}

// popEvent pops the front of pendingEvents and marks it Pending if the queue is still non-empty afterward, so
// Loop knows not to resume the tracee until the last event of a cluster has been delivered.
func (b *LinuxPtrace) popEvent() Event {
	ev := b.pendingEvents[0]
	b.pendingEvents = b.pendingEvents[1:]
	ev.Pending = len(b.pendingEvents) > 0
	return ev
}

// takeEvent folds any newly discovered modules ahead of ev into the pending queue and returns the first entry,
// so a caller always sees KindModuleLoad events before the OS event that prompted the scan.
func (b *LinuxPtrace) takeEvent(ev Event) (Event, error) {
	images, err := b.scanModules()
	if err != nil {
		return Event{}, err
	}
	for _, img := range images {
		b.pendingEvents = append(b.pendingEvents, Event{Kind: KindModuleLoad, Module: img})
	}
	b.pendingEvents = append(b.pendingEvents, ev)
	return b.popEvent(), nil
}

// Spawn implements Backend.
func (b *LinuxPtrace) Spawn(cmdPath string, args, env []string, mode StdioMode) (int, error) {
	cmd := exec.Command(cmdPath, args...)
	cmd.Env = env
	if mode == StdioInherit {
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}

	// ptrace state is per-OS-thread, not per-process: the thread that becomes the tracer via the child's
	// PTRACE_TRACEME must remain the one issuing every subsequent PtraceXxx call for this pid.
	runtime.LockOSThread()

	if err := cmd.Start(); err != nil {
		runtime.UnlockOSThread()
		return 0, errors.Wrap(err, "starting tracee")
	}

	pid := cmd.Process.Pid
	var status syscall.WaitStatus
	if _, err := syscall.Wait4(pid, &status, 0, nil); err != nil {
		return 0, errors.Wrap(err, "waiting for initial exec stop")
	}
	if !status.Stopped() {
		return 0, errors.Errorf("tracee did not stop at initial exec, status=%v", status)
	}

	if err := unix.PtraceSetOptions(pid, unix.PTRACE_O_EXITKILL); err != nil {
		return 0, errors.Wrap(err, "setting ptrace options")
	}

	b.pid = pid
	b.cmd = cmd

	// The kernel has already mapped the main executable (and, for a dynamically linked one, ld.so) by the time
	// the tracee takes its initial exec stop, so this is where KindModuleLoad first fires for them.
	images, err := b.scanModules()
	if err != nil {
		return 0, err
	}
	for _, img := range images {
		b.pendingEvents = append(b.pendingEvents, Event{Kind: KindModuleLoad, Module: img})
	}

	return pid, nil
}

// NextEvent implements Backend. It polls Wait4 with WNOHANG rather than blocking indefinitely, since a blocking
// wait cannot be interrupted by a wall-clock deadline from this goroutine. Any KindModuleLoad events queued by a
// prior maps scan are drained before polling for a new OS event.
func (b *LinuxPtrace) NextEvent(deadline time.Time) (Event, error) {
	if len(b.pendingEvents) > 0 {
		return b.popEvent(), nil
	}

	for {
		if time.Now().After(deadline) {
			return Event{}, ErrTimeout
		}

		var status syscall.WaitStatus
		wpid, err := syscall.Wait4(b.pid, &status, syscall.WNOHANG, nil)
		if err != nil {
			return Event{}, errors.Wrap(err, "wait4")
		}
		if wpid == 0 {
			time.Sleep(pollInterval)
			continue
		}

		switch {
		case status.Exited():
			return b.takeEvent(Event{Kind: KindExit, ExitCode: status.ExitStatus()})

		case status.Signaled():
			return b.takeEvent(Event{Kind: KindExit, Signaled: true})

		case status.Stopped():
			sig := status.StopSignal()
			if sig != syscall.SIGTRAP {
				// First-chance signal that isn't our trap: forward it to the tracee and keep waiting.
				if err := unix.PtraceCont(b.pid, int(sig)); err != nil {
					return Event{}, errors.Wrap(err, "forwarding signal")
				}
				continue
			}

			var raw unix.PtraceRegs
			if err := unix.PtraceGetRegs(b.pid, &raw); err != nil {
				return Event{}, errors.Wrap(err, "reading registers at trap")
			}
			addr := module.Address(ipFromPtraceRegs(&raw) - trapAdjust)
			return b.takeEvent(Event{Kind: KindBreakpointHit, Address: addr})

		default:
			return Event{}, errors.Errorf("unrecognized wait status %v", status)
		}
	}
}

// ReadRegs implements Backend.
func (b *LinuxPtrace) ReadRegs() (Regs, error) {
	var raw unix.PtraceRegs
	if err := unix.PtraceGetRegs(b.pid, &raw); err != nil {
		return nil, errors.Wrap(err, "PTRACE_GETREGS")
	}
	return &linuxRegs{raw: raw}, nil
}

// WriteRegs implements Backend.
func (b *LinuxPtrace) WriteRegs(regs Regs) error {
	lr, ok := regs.(*linuxRegs)
	if !ok {
		return errors.New("regs not produced by this backend")
	}
	return unix.PtraceSetRegs(b.pid, &lr.raw)
}

// PeekText implements Backend and breakpoint.MemoryAccessor.
func (b *LinuxPtrace) PeekText(addr uintptr, out []byte) (int, error) {
	return unix.PtracePeekText(b.pid, addr, out)
}

// PokeText implements Backend and breakpoint.MemoryAccessor.
func (b *LinuxPtrace) PokeText(addr uintptr, data []byte) (int, error) {
	return unix.PtracePokeText(b.pid, addr, data)
}

// SingleStep implements Backend.
func (b *LinuxPtrace) SingleStep() error {
	if err := unix.PtraceSingleStep(b.pid); err != nil {
		return err
	}
	var status syscall.WaitStatus
	_, err := syscall.Wait4(b.pid, &status, 0, nil)
	return err
}

// Continue implements Backend.
func (b *LinuxPtrace) Continue() error {
	return unix.PtraceCont(b.pid, 0)
}

// Terminate implements Backend.
func (b *LinuxPtrace) Terminate() error {
	if b.cmd == nil || b.cmd.Process == nil {
		return nil
	}
	return b.cmd.Process.Kill()
}
