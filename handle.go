package mpool

import (
	"sync"

	"github.com/hse-project/go-mpool/internal/constants"
	"github.com/hse-project/go-mpool/internal/logging"
)

// handleSlot is one entry in the fixed-capacity handle table: an object
// identifier, its live in-memory descriptor, and a reference count.
type handleSlot struct {
	objid      uint64
	descriptor any
	refcnt     int
}

// handleTable is the process-wide (per-pool) mapping from objid to
// in-memory descriptor, grounded on the teacher's Device.runners fixed
// slice-of-live-resources pattern, generalized from "one runner per queue"
// to "one descriptor per open objid, reference-counted." It is the sole
// serialization point for descriptor allocation; per-object state (mlog
// locks, MDC mutexes) is protected separately.
type handleTable struct {
	mu    sync.Mutex
	slots [constants.MaxOpenMlogs]*handleSlot
}

func newHandleTable() *handleTable {
	return &handleTable{}
}

// acquire returns the descriptor for objid, incrementing its reference
// count if already open, or builds one with create and occupies a free
// slot. The free-slot scan runs before create so a full table fails fast
// with KindResourceExhaustion without ever constructing (and then having to
// discard) a descriptor that may hold real resources, such as an open core
// handle.
func (t *handleTable) acquire(objid uint64, create func() (any, error)) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range t.slots {
		if s != nil && s.objid == objid {
			s.refcnt++
			return s.descriptor, nil
		}
	}

	slot := -1
	for i, s := range t.slots {
		if s == nil {
			slot = i
			break
		}
	}
	if slot == -1 {
		return nil, NewObjError("handle.acquire", objid, KindResourceExhaustion, "handle table full")
	}

	desc, err := create()
	if err != nil {
		return nil, err
	}

	t.slots[slot] = &handleSlot{objid: objid, descriptor: desc, refcnt: 1}
	return desc, nil
}

// release decrements objid's reference count, tearing the descriptor down
// via teardown and freeing the slot once the count reaches zero.
func (t *handleTable) release(objid uint64, teardown func(any) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, s := range t.slots {
		if s != nil && s.objid == objid {
			s.refcnt--
			if s.refcnt <= 0 {
				t.slots[i] = nil
				if teardown != nil {
					return teardown(s.descriptor)
				}
			}
			return nil
		}
	}

	return NewObjError("handle.release", objid, KindNotFound, "handle not open")
}

// lookup performs the linear scan the spec calls for: acceptable because
// MaxOpenMlogs is small and bounded.
func (t *handleTable) lookup(objid uint64) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range t.slots {
		if s != nil && s.objid == objid {
			return s.descriptor, true
		}
	}
	return nil, false
}

// closeAll tears down every still-open descriptor, logging but not
// aborting on individual teardown failures — the same "log errors but
// continue" discipline the teacher's Device.Close uses for its runners.
func (t *handleTable) closeAll(teardown func(any) error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, s := range t.slots {
		if s == nil {
			continue
		}
		if teardown != nil {
			if err := teardown(s.descriptor); err != nil {
				logging.Default().Warn("handle teardown failed", "objid", s.objid, "err", err)
			}
		}
		t.slots[i] = nil
	}
}

// count reports the number of occupied slots, used by tests and
// diagnostics.
func (t *handleTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, s := range t.slots {
		if s != nil {
			n++
		}
	}
	return n
}
