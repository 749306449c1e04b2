// Package report encodes and decodes covrec's BinaryCoverage/SourceCoverage data models in the wire formats
// spec.md §4.11 specifies: versioned JSON (preferred) with a legacy unversioned fallback, Cobertura XML, a
// supplemental LCOV-style text report, and the modoff plain-text listing spec.md §6/§8 reference for quick
// diffing.
package report

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"github.com/crytic/covrec/coverage"
	"github.com/crytic/covrec/module"
	"github.com/crytic/covrec/pathutil"
)

// binaryV1Module is the `{"blocks": {"<hex-offset>": <count>}}` value in the v1 shape
// `{"<module path>": {"blocks": {...}}, …}`; the top level is a plain map so no wrapper struct is needed there.
type binaryV1Module struct {
	Blocks map[string]uint32 `json:"blocks"`
}

// binaryV0Entry is one element of the legacy `[ { "module": ..., "blocks": [...] } ]` array.
type binaryV0Entry struct {
	Module string          `json:"module"`
	Blocks []binaryV0Block `json:"blocks"`
}

type binaryV0Block struct {
	Offset uint32 `json:"offset"`
	Count  uint32 `json:"count"`
}

// EncodeBinaryV1 renders bc in the current (v1) binary JSON shape.
func EncodeBinaryV1(bc *coverage.BinaryCoverage) ([]byte, error) {
	out := make(map[string]binaryV1Module, len(bc.Modules()))
	for path, mc := range bc.Modules() {
		blocks := make(map[string]uint32, mc.Len())
		for _, off := range mc.Offsets() {
			count, _ := mc.Count(off)
			blocks[fmt.Sprintf("0x%x", uint64(off))] = uint32(count)
		}
		out[path.AsStr()] = binaryV1Module{Blocks: blocks}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encoding binary coverage")
	}
	return data, nil
}

// DecodeBinary parses data as versioned (v1) binary JSON, falling back to the legacy v0 array shape if that
// fails, per spec.md §4.11 ("Decoders must attempt versioned parsing first and fall back to the legacy
// unversioned shape").
func DecodeBinary(data []byte) (*coverage.BinaryCoverage, error) {
	var v1 map[string]binaryV1Module
	if err := json.Unmarshal(data, &v1); err == nil && looksLikeV1(v1, data) {
		return decodeBinaryV1(v1)
	}

	var v0 []binaryV0Entry
	if err := json.Unmarshal(data, &v0); err != nil {
		return nil, errors.Wrap(err, "data matches neither the v1 nor the legacy v0 binary coverage shape")
	}
	return decodeBinaryV0(v0)
}

// looksLikeV1 guards against a v0 array silently unmarshaling into an empty v1 map (the zero value for both "no
// modules" and "wrong shape"): an actual v1 document's top-level JSON value must be an object, not an array.
func looksLikeV1(v1 map[string]binaryV1Module, data []byte) bool {
	if len(v1) > 0 {
		return true
	}
	trimmed := skipWhitespace(data)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func decodeBinaryV1(v1 map[string]binaryV1Module) (*coverage.BinaryCoverage, error) {
	bc := coverage.NewBinaryCoverage()
	for rawPath, mod := range v1 {
		path, err := pathutil.New(rawPath)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid module path %q", rawPath)
		}
		mc := coverage.NewModuleBinaryCoverage()
		for rawOffset, count := range mod.Blocks {
			off, err := parseHexOffset(rawOffset)
			if err != nil {
				return nil, err
			}
			mc.SetCount(off, coverage.Count(count))
		}
		bc.Insert(path, mc)
	}
	return bc, nil
}

func decodeBinaryV0(v0 []binaryV0Entry) (*coverage.BinaryCoverage, error) {
	bc := coverage.NewBinaryCoverage()
	for _, entry := range v0 {
		path, err := pathutil.New(entry.Module)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid module path %q", entry.Module)
		}
		mc := coverage.NewModuleBinaryCoverage()
		for _, b := range entry.Blocks {
			mc.SetCount(module.Offset(b.Offset), coverage.Count(b.Count))
		}
		bc.Insert(path, mc)
	}
	return bc, nil
}

func parseHexOffset(s string) (module.Offset, error) {
	var v uint64
	if _, err := fmt.Sscanf(s, "0x%x", &v); err != nil {
		return 0, errors.Wrapf(err, "invalid hex offset %q", s)
	}
	return module.Offset(v), nil
}

func skipWhitespace(data []byte) []byte {
	i := 0
	for i < len(data) {
		switch data[i] {
		case ' ', '\t', '\n', '\r':
			i++
			continue
		}
		break
	}
	return data[i:]
}
