//go:build windows

package debugger

import "time"

// WindowsDebugAPI is scaffolding for a second Backend built on the Windows debugging API
// (WaitForDebugEvent/ContinueDebugEvent). Nothing in the reference corpus this module was built from touches that
// API, so every method returns ErrUnsupportedPlatform rather than guessing at a binding.
type WindowsDebugAPI struct{}

// NewWindowsDebugAPI returns an unimplemented Backend for Windows.
func NewWindowsDebugAPI() *WindowsDebugAPI {
	return &WindowsDebugAPI{}
}

func (w *WindowsDebugAPI) Spawn(cmd string, args, env []string, mode StdioMode) (int, error) {
	return 0, ErrUnsupportedPlatform
}

func (w *WindowsDebugAPI) NextEvent(deadline time.Time) (Event, error) {
	return Event{}, ErrUnsupportedPlatform
}

func (w *WindowsDebugAPI) ReadRegs() (Regs, error) {
	return nil, ErrUnsupportedPlatform
}

func (w *WindowsDebugAPI) WriteRegs(regs Regs) error {
	return ErrUnsupportedPlatform
}

func (w *WindowsDebugAPI) PeekText(addr uintptr, out []byte) (int, error) {
	return 0, ErrUnsupportedPlatform
}

func (w *WindowsDebugAPI) PokeText(addr uintptr, data []byte) (int, error) {
	return 0, ErrUnsupportedPlatform
}

func (w *WindowsDebugAPI) SingleStep() error {
	return ErrUnsupportedPlatform
}

func (w *WindowsDebugAPI) Continue() error {
	return ErrUnsupportedPlatform
}

func (w *WindowsDebugAPI) Terminate() error {
	return ErrUnsupportedPlatform
}
