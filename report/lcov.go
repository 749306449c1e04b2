package report

import (
	"bytes"
	"fmt"

	"github.com/crytic/covrec/coverage"
)

// WriteLCOV renders sc as an LCOV-style text report, adapted from the teacher's GenerateLCOVReport
// (fuzzing/coverage/source_analysis.go): a TN line, then per file an SF line and one DA line per recorded source
// line (including lines with a zero count), closed with LF/LH summary lines. Function-level FN/FNDA records are omitted: SourceCoverage (unlike the
// teacher's SourceFileAnalysis) has no function-boundary information to report them from, since that data lives
// in debug info rather than in the line-projected coverage model.
func WriteLCOV(sc *coverage.SourceCoverage) []byte {
	var buf bytes.Buffer
	buf.WriteString("TN:\n")

	for _, path := range sc.SortedFiles() {
		fc := sc.Files[path]
		lines := fc.SortedLines()

		fmt.Fprintf(&buf, "SF:%s\n", path)

		var hit int
		for _, line := range lines {
			count := fc.Lines[line]
			fmt.Fprintf(&buf, "DA:%d,%d\n", line, uint32(count))
			if count.Reached() {
				hit++
			}
		}

		fmt.Fprintf(&buf, "LF:%d\n", len(lines))
		fmt.Fprintf(&buf, "LH:%d\n", hit)
		buf.WriteString("end_of_record\n")
	}

	return buf.Bytes()
}
