package mpool

import (
	"testing"
	"unsafe"

	"github.com/hse-project/go-mpool/internal/interfaces"
)

func allocCommittedMblock(t *testing.T, p *Pool) *MblockHandle {
	t.Helper()
	mb, err := MblockAlloc(p, interfaces.ClassCapacity, false)
	if err != nil {
		t.Fatalf("MblockAlloc failed: %v", err)
	}
	if err := mb.Write([]byte("mapped content"), 0); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := mb.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	return mb
}

// P5: a mapping's bounds — GetBase and in-bounds GetPages succeed, touching
// mapped memory does not fault, and a page request past the mblock's bound
// fails. The guard-page fault itself is checked by
// TestMcacheGuardPageBetweenObjects.
func TestMcacheMapBounds(t *testing.T) {
	p := newTestPool(t)

	mb1 := allocCommittedMblock(t, p)
	mb2 := allocCommittedMblock(t, p)

	m, err := p.Map([]uint64{mb1.ObjID(), mb2.ObjID()}, interfaces.AdviceWarm)
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	defer m.Unmap()

	base0, err := m.GetBase(0)
	if err != nil {
		t.Fatalf("GetBase(0) failed: %v", err)
	}
	if base0 == nil {
		t.Fatal("expected non-nil base pointer")
	}

	pages, err := m.GetPages(0, []int64{0}, 4096)
	if err != nil {
		t.Fatalf("GetPages failed: %v", err)
	}
	if len(pages) != 1 || len(pages[0]) != 4096 {
		t.Errorf("unexpected page slice: %d pages, len=%d", len(pages), len(pages[0]))
	}

	// Touching mapped memory must not fault.
	if err := Access(func() { _ = pages[0][0] }); err != nil {
		t.Errorf("in-bounds access should not fault: %v", err)
	}

	if _, err := m.GetPages(1, []int64{0}, 1<<40); err == nil {
		t.Error("expected out-of-range page request to fail")
	}
}

// Each mapped mblock gets its own trailing guard page: reading just past
// object 0's bound must fault on object 0's own guard page rather than
// landing inside object 1's live bytes.
func TestMcacheGuardPageBetweenObjects(t *testing.T) {
	p := newTestPool(t)

	mb1 := allocCommittedMblock(t, p)
	mb2 := allocCommittedMblock(t, p)

	m, err := p.Map([]uint64{mb1.ObjID(), mb2.ObjID()}, interfaces.AdviceWarm)
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	defer m.Unmap()

	props, err := mb1.GetProps()
	if err != nil {
		t.Fatalf("GetProps failed: %v", err)
	}

	base0, err := m.GetBase(0)
	if err != nil {
		t.Fatalf("GetBase(0) failed: %v", err)
	}
	base1, err := m.GetBase(1)
	if err != nil {
		t.Fatalf("GetBase(1) failed: %v", err)
	}

	if uintptr(base1) == uintptr(base0)+uintptr(props.Capacity) {
		t.Fatal("object 1 must not start immediately after object 0 with no guard page between")
	}

	guardPtr := (*byte)(unsafe.Pointer(uintptr(base0) + uintptr(props.Capacity)))
	if err := Access(func() { _ = *guardPtr }); err == nil {
		t.Error("reading past object 0's bound should fault on its own guard page")
	}
}

func TestMcacheAdviseAndMincore(t *testing.T) {
	p := newTestPool(t)
	mb := allocCommittedMblock(t, p)

	m, err := p.Map([]uint64{mb.ObjID()}, interfaces.AdviceHot)
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	defer m.Unmap()

	if err := m.Advise(0, 0, 4096, interfaces.MadviseWillNeed); err != nil {
		t.Fatalf("Advise failed: %v", err)
	}

	rss, vss, err := m.Mincore()
	if err != nil {
		t.Fatalf("Mincore failed: %v", err)
	}
	if vss <= 0 {
		t.Errorf("expected positive vss, got %d", vss)
	}
	if rss < 0 || rss > vss {
		t.Errorf("rss %d out of range [0, %d]", rss, vss)
	}
}

func TestMcacheUnmapThenOperationsFail(t *testing.T) {
	p := newTestPool(t)
	mb := allocCommittedMblock(t, p)

	m, err := p.Map([]uint64{mb.ObjID()}, interfaces.AdviceCold)
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	if err := m.Unmap(); err != nil {
		t.Fatalf("Unmap failed: %v", err)
	}
	if err := m.Unmap(); err == nil {
		t.Error("second unmap should fail")
	}
}
