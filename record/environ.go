package record

import "strings"

// childEnvPrefix is the variable stripped from a spawned tracee's environment: the recorder's own log
// configuration has no business leaking into (and potentially being misinterpreted by) the target.
const childEnvPrefix = "COVREC_LOG="

// ChildEnviron returns parent with COVREC_LOG stripped, passing every other variable (ASAN_SYMBOLIZER_PATH and
// friends) through unchanged.
func ChildEnviron(parent []string) []string {
	out := make([]string, 0, len(parent))
	for _, kv := range parent {
		if strings.HasPrefix(kv, childEnvPrefix) {
			continue
		}
		out = append(out, kv)
	}
	return out
}
