// Package exitcodes defines the process exit codes covrec's CLI can return, adapted from the teacher's
// cmd/exitcodes package.
package exitcodes

const (
	// ExitCodeSuccess indicates no errors or failures occurred, including a session that ended in a timeout:
	// spec.md §6 treats timeout as a non-fatal, zero-exit-code outcome.
	ExitCodeSuccess = 0

	// ExitCodeGeneralError indicates some unclassified error occurred.
	ExitCodeGeneralError = 1

	// ExitCodeSetupFailure indicates the session never started: an unreadable module or an invalid allowlist file.
	ExitCodeSetupFailure = 2
)

// ErrorWithExitCode wraps an error with the exit code the CLI should return if it bubbles up to main.
type ErrorWithExitCode struct {
	err      error
	exitCode int
}

// NewErrorWithExitCode wraps err with exitCode.
func NewErrorWithExitCode(err error, exitCode int) *ErrorWithExitCode {
	return &ErrorWithExitCode{err: err, exitCode: exitCode}
}

// Error implements the error interface.
func (e *ErrorWithExitCode) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

// GetInnerErrorAndExitCode unwraps err into its underlying error and corresponding exit code: 0 for a nil error,
// ExitCodeGeneralError for a plain error, or the wrapped code for an *ErrorWithExitCode.
func GetInnerErrorAndExitCode(err error) (error, int) {
	if err == nil {
		return nil, ExitCodeSuccess
	}
	var wrapped *ErrorWithExitCode
	if ok := asErrorWithExitCode(err, &wrapped); ok {
		return wrapped.err, wrapped.exitCode
	}
	return err, ExitCodeGeneralError
}

func asErrorWithExitCode(err error, target **ErrorWithExitCode) bool {
	if e, ok := err.(*ErrorWithExitCode); ok {
		*target = e
		return true
	}
	return false
}
