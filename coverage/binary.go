package coverage

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/crytic/covrec/module"
	"github.com/crytic/covrec/pathutil"
)

// ErrUninitializedSite is returned by Increment when asked to increment an offset that site selection never
// inserted: the data model treats this as a programmer error in the caller, not a recoverable one, but the
// recorder callback (which owns the only caller) downgrades it to a recoverable UnknownAddress per spec.md §4.9.
var ErrUninitializedSite = errors.New("offset was not initialized by coverage site selection")

// ModuleBinaryCoverage is an offset-ordered map of coverage sites to saturating hit counts for a single module.
type ModuleBinaryCoverage struct {
	counts map[module.Offset]Count
}

// NewModuleBinaryCoverage returns an empty ModuleBinaryCoverage.
func NewModuleBinaryCoverage() *ModuleBinaryCoverage {
	return &ModuleBinaryCoverage{counts: make(map[module.Offset]Count)}
}

// Init registers offset as a coverage site with a zero count. Called once per site during selection; calling it
// again on an already-initialized offset resets its count to zero, which callers should avoid outside of tests.
func (m *ModuleBinaryCoverage) Init(offset module.Offset) {
	m.counts[offset] = 0
}

// SetCount registers offset as a coverage site with an explicit count, used to rehydrate a ModuleBinaryCoverage
// from a serialized report rather than a live recording session.
func (m *ModuleBinaryCoverage) SetCount(offset module.Offset, count Count) {
	m.counts[offset] = count
}

// Increment bumps the count at offset by one, saturating at math.MaxUint32. It fails if offset was never
// registered via Init.
func (m *ModuleBinaryCoverage) Increment(offset module.Offset) error {
	c, ok := m.counts[offset]
	if !ok {
		return errors.Wrapf(ErrUninitializedSite, "offset 0x%x", uint64(offset))
	}
	m.counts[offset] = c.increment()
	return nil
}

// Count returns the current count at offset, and whether offset is a known site at all.
func (m *ModuleBinaryCoverage) Count(offset module.Offset) (Count, bool) {
	c, ok := m.counts[offset]
	return c, ok
}

// Offsets returns every known site offset in ascending order.
func (m *ModuleBinaryCoverage) Offsets() []module.Offset {
	offsets := make([]module.Offset, 0, len(m.counts))
	for off := range m.counts {
		offsets = append(offsets, off)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	return offsets
}

// Len returns the number of known sites.
func (m *ModuleBinaryCoverage) Len() int {
	return len(m.counts)
}

// MergeMax combines other into m in place: for each offset in other, m's count becomes max(m, other); offsets
// known only to other are inserted.
func (m *ModuleBinaryCoverage) MergeMax(other *ModuleBinaryCoverage) {
	for off, c := range other.counts {
		if cur, ok := m.counts[off]; ok {
			m.counts[off] = satMax(cur, c)
		} else {
			m.counts[off] = c
		}
	}
}

// MergeSum combines other into m in place: for each offset in other, m's count becomes saturating_add(m, other);
// offsets known only to other are inserted.
func (m *ModuleBinaryCoverage) MergeSum(other *ModuleBinaryCoverage) {
	for off, c := range other.counts {
		if cur, ok := m.counts[off]; ok {
			m.counts[off] = satAdd(cur, c)
		} else {
			m.counts[off] = c
		}
	}
}

// clone returns a deep copy, used when BinaryCoverage.MergeMax/MergeSum encounters a module present in only one
// of the two coverage sets.
func (m *ModuleBinaryCoverage) clone() *ModuleBinaryCoverage {
	out := NewModuleBinaryCoverage()
	for off, c := range m.counts {
		out.counts[off] = c
	}
	return out
}

// BinaryCoverage is a per-session coverage result: one ModuleBinaryCoverage per module path.
type BinaryCoverage struct {
	modules map[pathutil.Path]*ModuleBinaryCoverage
}

// NewBinaryCoverage returns an empty BinaryCoverage.
func NewBinaryCoverage() *BinaryCoverage {
	return &BinaryCoverage{modules: make(map[pathutil.Path]*ModuleBinaryCoverage)}
}

// Insert registers mc as the coverage map for path, replacing any existing entry.
func (bc *BinaryCoverage) Insert(path pathutil.Path, mc *ModuleBinaryCoverage) {
	bc.modules[path] = mc
}

// Get returns the coverage map for path, if any.
func (bc *BinaryCoverage) Get(path pathutil.Path) (*ModuleBinaryCoverage, bool) {
	mc, ok := bc.modules[path]
	return mc, ok
}

// Modules returns the underlying path -> coverage map. BinaryCoverage is not shared across threads within a
// session (spec.md §5), so this is a direct reference, not a defensive copy.
func (bc *BinaryCoverage) Modules() map[pathutil.Path]*ModuleBinaryCoverage {
	return bc.modules
}

// MergeMax combines other into bc in place, module by module.
func (bc *BinaryCoverage) MergeMax(other *BinaryCoverage) {
	for path, mc := range other.modules {
		if cur, ok := bc.modules[path]; ok {
			cur.MergeMax(mc)
		} else {
			bc.modules[path] = mc.clone()
		}
	}
}

// MergeSum combines other into bc in place, module by module.
func (bc *BinaryCoverage) MergeSum(other *BinaryCoverage) {
	for path, mc := range other.modules {
		if cur, ok := bc.modules[path]; ok {
			cur.MergeSum(mc)
		} else {
			bc.modules[path] = mc.clone()
		}
	}
}
