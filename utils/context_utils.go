// Package utils holds small platform- and runtime-adjacent helpers shared across covrec packages, adapted from
// the teacher's utils package.
package utils

import "golang.org/x/net/context"

// CheckContextDone checks if a provided context has indicated it is done, and returns a boolean indicating it,
// without blocking on ctx.Done() the way a bare channel receive would.
func CheckContextDone(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
