package mpool

import (
	"unsafe"

	"github.com/hse-project/go-mpool/internal/interfaces"
	"github.com/hse-project/go-mpool/internal/mcache"
)

// McacheMap is a bounded virtual-memory mapping over a set of committed
// mblocks, per spec §4.7: each mblock occupies its allocated capacity,
// followed by an unmapped guard page so an out-of-bounds load raises a bus
// fault rather than reading adjacent memory.
type McacheMap struct {
	pool    *Pool
	mapping *mcache.Mapping
}

// Map allocates a contiguous virtual region covering objids in order, with
// advice controlling page-replacement aggressiveness for the map as a whole.
func (p *Pool) Map(objids []uint64, advice interfaces.MapAdvice) (*McacheMap, error) {
	m, err := p.mcacheEngine.Map(p.core, objids, advice)
	if err != nil {
		return nil, WrapError("mcache.map", 0, err)
	}
	return &McacheMap{pool: p, mapping: m}, nil
}

// Unmap releases the mapping. The caller must not retain any slice or
// pointer obtained from this map afterward.
func (m *McacheMap) Unmap() error {
	if err := m.pool.mcacheEngine.Unmap(m.pool.core, m.mapping.Token()); err != nil {
		return WrapError("mcache.unmap", 0, err)
	}
	return nil
}

// Advise passes a per-range hint through to the core (spec §4.7).
func (m *McacheMap) Advise(idx int, off, length int64, kind interfaces.MadviseKind) error {
	if err := m.pool.mcacheEngine.Advise(m.pool.core, m.mapping.Token(), idx, off, length, kind); err != nil {
		return WrapError("mcache.advise", 0, err)
	}
	return nil
}

// GetBase returns mblock idx's virtual base address.
func (m *McacheMap) GetBase(idx int) (unsafe.Pointer, error) {
	ptr, err := m.mapping.Base(idx)
	if err != nil {
		return nil, WrapError("mcache.getbase", 0, err)
	}
	return ptr, nil
}

// GetPages returns count page-sized slices for mblockIdx starting at each
// byte offset in offsets, with no copying: each slice aliases the mapped
// region. A page that would extend past the mblock's page-rounded region is
// rejected with KindInvalidArgument, so the returned slices never reach a
// guard page.
func (m *McacheMap) GetPages(mblockIdx int, offsets []int64, pageSize int64) ([][]byte, error) {
	full, err := m.mapping.Slice(mblockIdx)
	if err != nil {
		return nil, WrapError("mcache.getpages", 0, err)
	}

	pages := make([][]byte, len(offsets))
	for i, off := range offsets {
		end := off + pageSize
		if off < 0 || end > int64(len(full)) {
			return nil, NewError("mcache.getpages", KindInvalidArgument, "page offset out of range")
		}
		pages[i] = full[off:end]
	}
	return pages, nil
}

// Mincore reports resident and total page counts backing this mapping.
func (m *McacheMap) Mincore() (rss int64, vss int64, err error) {
	rss, vss, err = m.mapping.Mincore()
	if err != nil {
		return 0, 0, WrapError("mcache.mincore", 0, err)
	}
	return rss, vss, nil
}

// Access runs fn, converting a guard-page bus fault recovered by the mcache
// engine's panic-on-fault mode into an error instead of crashing the
// process — this is the mechanism spec P5's bus-fault contract relies on
// being test-observable.
func Access(fn func()) error {
	return mcache.Access(fn)
}
