//go:build linux && arm64

package debugger

import "golang.org/x/sys/unix"

// trapAdjust is zero on aarch64: a BRK trap stops with PC already at the faulting instruction.
const trapAdjust = 0

func ipFromPtraceRegs(r *unix.PtraceRegs) uint64     { return r.Pc }
func setIPInPtraceRegs(r *unix.PtraceRegs, v uint64) { r.Pc = v }
