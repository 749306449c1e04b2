package report

import (
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"

	"github.com/crytic/covrec/coverage"
)

// sourceV0 is the legacy `{"files": [{"file": ..., "locations": [{"line": N, "column": C?, "count": K}]}]}` shape.
type sourceV0 struct {
	Files []sourceV0File `json:"files"`
}

type sourceV0File struct {
	File      string           `json:"file"`
	Locations []sourceV0Locrow `json:"locations"`
}

type sourceV0Locrow struct {
	Line   uint32 `json:"line"`
	Column *int   `json:"column,omitempty"`
	Count  uint32 `json:"count"`
}

// EncodeSourceV1 renders sc in the current (v1) `{"<path>": {"<line>": <count>}}` shape.
func EncodeSourceV1(sc *coverage.SourceCoverage) ([]byte, error) {
	out := make(map[string]map[string]uint32, len(sc.Files))
	for path, fc := range sc.Files {
		lines := make(map[string]uint32, len(fc.Lines))
		for _, line := range fc.SortedLines() {
			lines[strconv.FormatUint(uint64(line), 10)] = uint32(fc.Lines[line])
		}
		out[path] = lines
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encoding source coverage")
	}
	return data, nil
}

// DecodeSource parses data as versioned (v1) source JSON, falling back to the legacy v0 `{"files": [...]}` shape.
func DecodeSource(data []byte) (*coverage.SourceCoverage, error) {
	var v1 map[string]map[string]uint32
	if err := json.Unmarshal(data, &v1); err == nil && !looksLikeSourceV0(data) {
		return decodeSourceV1(v1), nil
	}

	var v0 sourceV0
	if err := json.Unmarshal(data, &v0); err != nil {
		return nil, errors.Wrap(err, "data matches neither the v1 nor the legacy v0 source coverage shape")
	}
	return decodeSourceV0(v0), nil
}

// looksLikeSourceV0 distinguishes the legacy shape, which is always a single object with a top-level "files" key,
// from v1's per-path map: a v1 document may also (rarely) contain a source file literally named "files", so this
// checks the value's shape, not just the key's presence.
func looksLikeSourceV0(data []byte) bool {
	var probe struct {
		Files json.RawMessage `json:"files"`
	}
	if err := json.Unmarshal(data, &probe); err != nil || probe.Files == nil {
		return false
	}
	trimmed := skipWhitespace(probe.Files)
	return len(trimmed) > 0 && trimmed[0] == '['
}

func decodeSourceV1(v1 map[string]map[string]uint32) *coverage.SourceCoverage {
	sc := coverage.NewSourceCoverage()
	for path, lines := range v1 {
		fc := &coverage.FileCoverage{Lines: make(map[coverage.Line]coverage.Count, len(lines))}
		for rawLine, count := range lines {
			n, err := strconv.ParseUint(rawLine, 10, 32)
			if err != nil {
				continue
			}
			fc.Lines[coverage.Line(n)] = coverage.Count(count)
		}
		sc.Files[path] = fc
	}
	return sc
}

func decodeSourceV0(v0 sourceV0) *coverage.SourceCoverage {
	sc := coverage.NewSourceCoverage()
	for _, file := range v0.Files {
		fc := &coverage.FileCoverage{Lines: make(map[coverage.Line]coverage.Count, len(file.Locations))}
		for _, loc := range file.Locations {
			fc.Lines[coverage.Line(loc.Line)] = coverage.Count(loc.Count)
		}
		sc.Files[file.File] = fc
	}
	return sc
}
