package mcache

import (
	"errors"
	"os"
	"testing"

	"github.com/hse-project/go-mpool/internal/interfaces"
	"github.com/hse-project/go-mpool/internal/transport/memcore"
)

func testCore() interfaces.Core {
	return memcore.New(interfaces.PoolParams{
		MblockSz: map[interfaces.MediaClass]int64{
			interfaces.ClassCapacity: 8192,
		},
	})
}

func TestMapReserveAndSlice(t *testing.T) {
	core := testCore()
	id1, _, _ := core.MbAlloc(interfaces.ClassCapacity, false)
	id2, _, _ := core.MbAlloc(interfaces.ClassCapacity, false)

	e := NewEngine()
	m, err := e.Map(core, []uint64{id1, id2}, interfaces.AdviceWarm)
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	defer e.Unmap(core, m.Token())

	pageSz := int64(os.Getpagesize())
	if want := 2 * (pageRound(8192, pageSz) + pageSz); m.total != want {
		t.Errorf("total = %d, want %d", m.total, want)
	}

	s0, err := m.Slice(0)
	if err != nil {
		t.Fatalf("Slice(0) failed: %v", err)
	}
	s1, err := m.Slice(1)
	if err != nil {
		t.Fatalf("Slice(1) failed: %v", err)
	}

	copy(s0, []byte("object-zero"))
	copy(s1, []byte("object-one"))

	if string(s0[:11]) != "object-zero" {
		t.Errorf("s0 = %q", s0[:11])
	}
	if string(s1[:10]) != "object-one" {
		t.Errorf("s1 = %q", s1[:10])
	}
}

func TestSliceIndexOutOfRange(t *testing.T) {
	core := testCore()
	id, _, _ := core.MbAlloc(interfaces.ClassCapacity, false)

	e := NewEngine()
	m, err := e.Map(core, []uint64{id}, interfaces.AdviceCold)
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	defer e.Unmap(core, m.Token())

	if _, err := m.Slice(5); err == nil {
		t.Error("Slice with out-of-range index should fail")
	}
}

func TestUnmapUnknownTokenFails(t *testing.T) {
	e := NewEngine()
	core := testCore()
	if err := e.Unmap(core, 0xdeadbeef); err == nil {
		t.Error("unmapping an unknown token should fail")
	}
}

func TestGuardPageFault(t *testing.T) {
	core := testCore()
	id, _, _ := core.MbAlloc(interfaces.ClassCapacity, false)

	e := NewEngine()
	m, err := e.Map(core, []uint64{id}, interfaces.AdviceCold)
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	defer e.Unmap(core, m.Token())

	err = Access(func() {
		guard := (*byte)(pointerFromMmap(m.guards[0]))
		_ = *guard
	})
	if err == nil {
		t.Fatal("access to the guard page should fault")
	}
	if !errors.Is(err, ErrGuardFault) {
		t.Errorf("expected ErrGuardFault-wrapped error, got %v", err)
	}
}

// With two mapped objects, each one gets its own guard page: a fault past
// object 0's bound must land on object 0's guard, not inside object 1's
// live bytes (spec §4.7, §8 scenario 3).
func TestGuardPageBetweenObjects(t *testing.T) {
	core := testCore()
	id1, _, _ := core.MbAlloc(interfaces.ClassCapacity, false)
	id2, _, _ := core.MbAlloc(interfaces.ClassCapacity, false)

	e := NewEngine()
	m, err := e.Map(core, []uint64{id1, id2}, interfaces.AdviceWarm)
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	defer e.Unmap(core, m.Token())

	if len(m.guards) != 2 {
		t.Fatalf("expected a guard page per object, got %d guards", len(m.guards))
	}
	if m.guards[0] == m.guards[1] {
		t.Fatal("each object should have its own guard page")
	}

	s1, err := m.Slice(1)
	if err != nil {
		t.Fatalf("Slice(1) failed: %v", err)
	}
	copy(s1, []byte("object-one"))

	err = Access(func() {
		guard := (*byte)(pointerFromMmap(m.guards[0]))
		_ = *guard
	})
	if err == nil {
		t.Fatal("access past object 0's bound should fault, not read into object 1")
	}
	if !errors.Is(err, ErrGuardFault) {
		t.Errorf("expected ErrGuardFault-wrapped error, got %v", err)
	}

	// Object 1's data must be untouched by the guard-page access attempt.
	if string(s1[:10]) != "object-one" {
		t.Errorf("object 1 data corrupted: %q", s1[:10])
	}
}

func TestAccessRecoversNonFaultPanic(t *testing.T) {
	err := Access(func() {
		var p *int
		_ = *p
	})
	if err == nil {
		t.Error("nil-pointer dereference should be recovered as an error")
	}
}
