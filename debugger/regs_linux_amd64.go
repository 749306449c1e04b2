//go:build linux && amd64

package debugger

import "golang.org/x/sys/unix"

// trapAdjust is subtracted from the instruction pointer read after an INT3 trap: on x86 the trap leaves RIP one
// byte past the instruction that faulted.
const trapAdjust = 1

func ipFromPtraceRegs(r *unix.PtraceRegs) uint64     { return r.Rip }
func setIPInPtraceRegs(r *unix.PtraceRegs, v uint64) { r.Rip = v }
