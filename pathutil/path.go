// Package pathutil provides a small UTF-8 file-path value type used throughout covrec. A Path is guaranteed to
// have a non-empty file name component and a non-empty file stem, so callers can rely on FileName/BaseName without
// re-checking for the degenerate cases (root paths, trailing slashes, empty strings).
package pathutil

import (
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
)

// Path is a validated, UTF-8 file-system path. Construct one with New.
type Path struct {
	raw string
}

// New validates raw as a usable file path and returns a Path, or an error if raw has no file name or no file stem
// (e.g. raw is empty, or names only a directory such as "." or "/tmp/").
func New(raw string) (Path, error) {
	if !utf8.ValidString(raw) {
		return Path{}, errors.Errorf("path %q is not valid UTF-8", raw)
	}
	if strings.HasSuffix(raw, string(filepath.Separator)) {
		return Path{}, errors.Errorf("path %q names a directory, not a file", raw)
	}

	cleaned := filepath.Clean(raw)
	name := filepath.Base(cleaned)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return Path{}, errors.Errorf("path %q has no file name component", raw)
	}

	stem := stemOf(name)
	if stem == "" {
		return Path{}, errors.Errorf("path %q has no file stem", raw)
	}

	return Path{raw: cleaned}, nil
}

// MustNew is like New but panics on error. Intended for tests and compile-time-known paths.
func MustNew(raw string) Path {
	p, err := New(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// AsStr returns the path's string representation.
func (p Path) AsStr() string {
	return p.raw
}

// String implements fmt.Stringer so Paths print naturally in logs and error messages.
func (p Path) String() string {
	return p.raw
}

// FileName returns the final path component, including its extension.
func (p Path) FileName() string {
	return filepath.Base(p.raw)
}

// BaseName returns the file stem: the file name with its final extension removed.
func (p Path) BaseName() string {
	return stemOf(p.FileName())
}

// Directory returns the path's parent directory.
func (p Path) Directory() string {
	return filepath.Dir(p.raw)
}

// WithExtension returns a new Path in the same directory, with the same base name, but with ext substituted for the
// current extension. ext should not include the leading dot.
func (p Path) WithExtension(ext string) Path {
	newName := p.BaseName() + "." + ext
	return Path{raw: filepath.Join(p.Directory(), newName)}
}

// Equal reports whether two Paths refer to the same cleaned string.
func (p Path) Equal(other Path) bool {
	return p.raw == other.raw
}

// IsZero reports whether p is the zero Path (never produced by New).
func (p Path) IsZero() bool {
	return p.raw == ""
}

func stemOf(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext)
}
