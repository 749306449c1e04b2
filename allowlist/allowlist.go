// Package allowlist is the one concrete implementation of the opaque allow/deny predicate the coverage site
// selector and source projection consult: a JSON file of glob/regex entries, conjoined across functions, modules,
// and source files. Callers that don't need file-backed predicates can build a Predicate directly.
package allowlist

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// Predicate is the contract every allowlist consumer depends on: total, pure, and with no knowledge of the
// concrete representation behind it.
type Predicate interface {
	IsAllowed(path string) bool
}

// AllowAll is a Predicate that accepts everything, used when no allowlist file was supplied for a given axis.
var AllowAll Predicate = allowAll{}

type allowAll struct{}

func (allowAll) IsAllowed(string) bool { return true }

// entry is a single allowlist rule: a glob or compiled regex, optionally negated.
type entry struct {
	negate bool
	glob   string
	re     *regexp.Regexp
}

// matches reports whether the entry's pattern matches path. Negation is not applied here; IsAllowed interprets a
// match of a negated entry as an exclusion.
func (e entry) matches(path string) bool {
	var matched bool
	switch {
	case e.re != nil:
		matched = e.re.MatchString(path)
	default:
		matched, _ = filepath.Match(e.glob, path)
		if !matched {
			// Also try matching against the base name, so a glob like "main*" matches a full path's file name
			// without requiring the author to write "*/main*" for every possible directory depth.
			matched, _ = filepath.Match(e.glob, filepath.Base(path))
		}
	}
	return matched
}

// List is a Predicate backed by an ordered list of entries. A path is allowed if no negated entry matches it and
// at least one non-negated entry matches, unless the list is empty (in which case everything is allowed) or
// contains only negated entries (in which case everything not excluded is allowed).
type List struct {
	entries   []entry
	hasAllow  bool
}

// IsAllowed implements Predicate.
func (l *List) IsAllowed(path string) bool {
	if l == nil || len(l.entries) == 0 {
		return true
	}

	allowed := !l.hasAllow // if there are no positive entries, start from "everything allowed"
	for _, e := range l.entries {
		if !e.matches(path) {
			continue
		}
		if e.negate {
			return false
		}
		allowed = true
	}
	return allowed
}

// NewList parses a list of "glob:" / "re:" prefixed strings (each optionally preceded by "!" for negation) into a
// List.
func NewList(patterns []string) (*List, error) {
	l := &List{}
	for _, raw := range patterns {
		e, err := parseEntry(raw)
		if err != nil {
			return nil, err
		}
		if !e.negate {
			l.hasAllow = true
		}
		l.entries = append(l.entries, e)
	}
	return l, nil
}

func parseEntry(raw string) (entry, error) {
	negate := false
	if strings.HasPrefix(raw, "!") {
		negate = true
		raw = raw[1:]
	}

	switch {
	case strings.HasPrefix(raw, "glob:"):
		return entry{negate: negate, glob: strings.TrimPrefix(raw, "glob:")}, nil
	case strings.HasPrefix(raw, "re:"):
		re, err := regexp.Compile(strings.TrimPrefix(raw, "re:"))
		if err != nil {
			return entry{}, errors.Wrapf(err, "invalid regular expression in allowlist entry %q", raw)
		}
		return entry{negate: negate, re: re}, nil
	default:
		return entry{}, errors.Errorf("allowlist entry %q must be prefixed with \"glob:\" or \"re:\"", raw)
	}
}

// fileFormat mirrors the teacher's plain encoding/json-into-struct config style (fuzzing/config/config.go): no
// viper, no HCL, just a struct with json tags.
type fileFormat struct {
	Functions    []string `json:"functions"`
	Modules      []string `json:"modules"`
	SourceFiles  []string `json:"source_files"`
}

// AllowList is the triple §4.6 of the coverage site selector consults.
type AllowList struct {
	Functions   Predicate
	Modules     Predicate
	SourceFiles Predicate
}

// Default returns an AllowList that accepts everything on all three axes, used when the caller supplies no
// allowlist files at all.
func Default() AllowList {
	return AllowList{Functions: AllowAll, Modules: AllowAll, SourceFiles: AllowAll}
}

// LoadFile reads a single JSON allowlist file and returns the AllowList triple it describes. Any axis the file
// omits defaults to AllowAll for that axis.
func LoadFile(path string) (AllowList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return AllowList{}, errors.Wrapf(err, "failed to read allowlist file %q", path)
	}

	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return AllowList{}, errors.Wrapf(err, "failed to parse allowlist file %q", path)
	}

	al := Default()
	if len(ff.Functions) > 0 {
		list, err := NewList(ff.Functions)
		if err != nil {
			return AllowList{}, errors.Wrapf(err, "in %q functions", path)
		}
		al.Functions = list
	}
	if len(ff.Modules) > 0 {
		list, err := NewList(ff.Modules)
		if err != nil {
			return AllowList{}, errors.Wrapf(err, "in %q modules", path)
		}
		al.Modules = list
	}
	if len(ff.SourceFiles) > 0 {
		list, err := NewList(ff.SourceFiles)
		if err != nil {
			return AllowList{}, errors.Wrapf(err, "in %q source_files", path)
		}
		al.SourceFiles = list
	}
	return al, nil
}
