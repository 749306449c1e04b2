//go:build linux

package debugger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/crytic/covrec/module"
)

// nopRecorder ignores every dispatched event; used by tests that only care about the session-level Result.
type nopRecorder struct{}

func (nopRecorder) OnModuleLoad(img ModuleImage) error    { return nil }
func (nopRecorder) OnBreakpoint(addr module.Address) error { return nil }

// TestLinuxPtraceTimeoutKillsLongRunningTracee spawns a real subprocess that sleeps far longer than the session
// timeout and checks the loop returns a timeout result without panicking or leaving the process running.
func TestLinuxPtraceTimeoutKillsLongRunningTracee(t *testing.T) {
	backend := NewLinuxPtrace()
	loop := NewLoop(backend, nopRecorder{})

	start := time.Now()
	result, err := loop.Run("/bin/sleep", []string{"10"}, nil, StdioNull, 500*time.Millisecond)
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.TimedOut {
		t.Fatal("expected a timeout result for a 10s sleep under a 500ms deadline")
	}
	if elapsed > 5*time.Second {
		t.Fatalf("expected termination well before the tracee's own sleep duration, took %s", elapsed)
	}
}

// recordingRecorder captures every dispatched module-load event, for tests that assert against the maps-diffing
// module detection in LinuxPtrace.scanModules.
type recordingRecorder struct {
	moduleLoads []ModuleImage
}

func (r *recordingRecorder) OnModuleLoad(img ModuleImage) error {
	r.moduleLoads = append(r.moduleLoads, img)
	return nil
}

func (r *recordingRecorder) OnBreakpoint(addr module.Address) error { return nil }

// TestLinuxPtraceDetectsModuleLoadForMainExecutable spawns a real, trivial subprocess and checks that the backend
// surfaces a KindModuleLoad event for its own executable before it exits, since that event is the only thing that
// lets a Recorder arm any coverage site at all.
func TestLinuxPtraceDetectsModuleLoadForMainExecutable(t *testing.T) {
	target := "/bin/true"
	if _, err := os.Stat(target); err != nil {
		t.Skipf("skipping: %s not present on this system", target)
	}

	backend := NewLinuxPtrace()
	recorder := &recordingRecorder{}
	loop := NewLoop(backend, recorder)

	result, err := loop.Run(target, nil, nil, StdioNull, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TimedOut {
		t.Fatal("expected the tracee to exit before the deadline")
	}
	if len(recorder.moduleLoads) == 0 {
		t.Fatal("expected at least one module-load event for the main executable")
	}

	// /proc/<pid>/maps names the mapped file by its resolved path (e.g. /usr/bin/true where /bin is a symlink).
	want := target
	if resolved, err := filepath.EvalSymlinks(target); err == nil {
		want = resolved
	}

	found := false
	for _, img := range recorder.moduleLoads {
		if img.Path.AsStr() == want {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a module-load event for %s, got %+v", target, recorder.moduleLoads)
	}
}
