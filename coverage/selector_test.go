package coverage

import (
	"testing"

	"github.com/crytic/covrec/allowlist"
	"github.com/crytic/covrec/module"
	"github.com/crytic/covrec/pathutil"
)

// fakeModule is a minimal module.Module, without DWARF, for exercising the selector and projection logic without
// a real ELF image.
type fakeModule struct {
	path pathutil.Path
	data []byte
	arch module.Architecture
	info *module.Info
}

func (f *fakeModule) ExecutablePath() pathutil.Path { return f.path }
func (f *fakeModule) DebuginfoPath() pathutil.Path  { return f.path }
func (f *fakeModule) BaseAddress() module.Address   { return 0 }
func (f *fakeModule) ExecutableData() []byte        { return f.data }
func (f *fakeModule) DebuginfoData() []byte         { return f.data }
func (f *fakeModule) Architecture() module.Architecture { return f.arch }
func (f *fakeModule) DebugInfo() (*module.Info, error)  { return f.info, nil }

func (f *fakeModule) Read(offset module.Offset, size uint64) ([]byte, error) {
	start, end := uint64(offset), uint64(offset)+size
	if end > uint64(len(f.data)) {
		return nil, module.ErrOutOfBounds
	}
	return f.data[start:end], nil
}

func newFakeModule() *fakeModule {
	// Two functions, each "NOP; RET".
	data := []byte{0x90, 0xC3, 0x90, 0xC3}
	info := module.NewInfo([]module.Function{
		{Name: "main", Offset: 0, Size: 2},
		{Name: "test_helper", Offset: 2, Size: 2},
	}, nil)
	return &fakeModule{path: pathutil.MustNew("/tmp/fake-bin"), data: data, arch: module.ArchX86_64, info: info}
}

func TestSelectSitesAllowsEverythingByDefault(t *testing.T) {
	mod := newFakeModule()
	cache := NewDebugInfoCache()

	mc, err := SelectSites(mod, allowlist.Default(), cache)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mc.Len() != 2 {
		t.Fatalf("expected 2 sites (one per function's single block), got %d", mc.Len())
	}
}

func TestSelectSitesRespectsModuleDenylist(t *testing.T) {
	mod := newFakeModule()
	cache := NewDebugInfoCache()

	modules, err := allowlist.NewList([]string{"!glob:*fake-bin"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	al := allowlist.AllowList{Functions: allowlist.AllowAll, Modules: modules, SourceFiles: allowlist.AllowAll}

	mc, err := SelectSites(mod, al, cache)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mc.Len() != 0 {
		t.Fatalf("expected no sites for a disallowed module, got %d", mc.Len())
	}
}

func TestSelectSitesRespectsFunctionDenylist(t *testing.T) {
	mod := newFakeModule()
	cache := NewDebugInfoCache()

	functions, err := allowlist.NewList([]string{"glob:*", "!glob:test_*"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	al := allowlist.AllowList{Functions: functions, Modules: allowlist.AllowAll, SourceFiles: allowlist.AllowAll}

	mc, err := SelectSites(mod, al, cache)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mc.Len() != 1 {
		t.Fatalf("expected 1 site (test_helper excluded), got %d", mc.Len())
	}
}
