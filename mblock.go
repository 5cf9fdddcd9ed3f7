package mpool

import (
	"sync"
	"time"

	"github.com/hse-project/go-mpool/internal/interfaces"
)

// MblockHandle is a thin pass-through to the core plus the descriptor
// caching spec §4.6 calls for: the committed flag and write length are
// cached locally so GetProps doesn't need a round trip after every write.
type MblockHandle struct {
	core     interfaces.Core
	observer interfaces.Observer

	mu        sync.Mutex
	objid     uint64
	class     interfaces.MediaClass
	capacity  int64
	writeLen  int64
	committed bool
	deleted   bool
}

// MblockAlloc allocates an uncommitted mblock in class, optionally from the
// spare pool.
func MblockAlloc(p *Pool, class interfaces.MediaClass, spare bool) (*MblockHandle, error) {
	objid, props, err := p.core.MbAlloc(class, spare)
	if err != nil {
		return nil, WrapError("mblock.alloc", 0, err)
	}
	observer := p.observer
	if observer == nil {
		observer = NoOpObserver{}
	}
	return &MblockHandle{core: p.core, observer: observer, objid: objid, class: class, capacity: props.Capacity}, nil
}

// ObjID returns the mblock's object identifier.
func (mb *MblockHandle) ObjID() uint64 {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.objid
}

// Write appends iov at offset. Only valid on an uncommitted mblock; partial
// writes are permitted, and a subsequent Commit sets WriteLen to the
// cumulative value written.
func (mb *MblockHandle) Write(iov []byte, offset int64) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.deleted {
		return NewObjError("mblock.write", mb.objid, KindNotFound, "mblock deleted")
	}
	if mb.committed {
		return NewObjError("mblock.write", mb.objid, KindState, "write after commit")
	}
	if offset+int64(len(iov)) > mb.capacity {
		return NewObjError("mblock.write", mb.objid, KindCapacity, "write exceeds mblock capacity")
	}

	start := time.Now()
	err := mb.core.MbWrite(mb.objid, iov, offset)
	mb.observer.ObserveOp("mb_write", uint64(len(iov)), uint64(time.Since(start).Nanoseconds()), err == nil)
	if err != nil {
		return WrapError("mblock.write", mb.objid, err)
	}
	if end := offset + int64(len(iov)); end > mb.writeLen {
		mb.writeLen = end
	}
	return nil
}

// Commit transitions the mblock to committed, read-only state. Subsequent
// writes are refused.
func (mb *MblockHandle) Commit() error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.deleted {
		return NewObjError("mblock.commit", mb.objid, KindNotFound, "mblock deleted")
	}
	if mb.committed {
		return NewObjError("mblock.commit", mb.objid, KindState, "already committed")
	}
	start := time.Now()
	err := mb.core.MbCommit(mb.objid)
	mb.observer.ObserveOp("mb_commit", 0, uint64(time.Since(start).Nanoseconds()), err == nil)
	if err != nil {
		return WrapError("mblock.commit", mb.objid, err)
	}
	mb.committed = true
	return nil
}

// Abort releases an uncommitted mblock. Any later operation on the objid
// fails with "not found" (spec P8).
func (mb *MblockHandle) Abort() error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.committed {
		return NewObjError("mblock.abort", mb.objid, KindState, "cannot abort a committed mblock")
	}
	start := time.Now()
	err := mb.core.MbAbort(mb.objid)
	mb.observer.ObserveOp("mb_abort", 0, uint64(time.Since(start).Nanoseconds()), err == nil)
	if err != nil {
		return WrapError("mblock.abort", mb.objid, err)
	}
	mb.deleted = true
	return nil
}

// Read reads from a committed mblock at off. Out-of-range reads fail with
// KindInvalidArgument.
func (mb *MblockHandle) Read(iov []byte, off int64) (int, error) {
	mb.mu.Lock()
	committed := mb.committed
	deleted := mb.deleted
	capacity := mb.capacity
	observer := mb.observer
	mb.mu.Unlock()

	if deleted {
		return 0, NewObjError("mblock.read", mb.objid, KindNotFound, "mblock deleted")
	}
	if !committed {
		return 0, NewObjError("mblock.read", mb.objid, KindState, "read before commit")
	}
	if off < 0 || off > capacity {
		return 0, NewObjError("mblock.read", mb.objid, KindInvalidArgument, "offset out of range")
	}

	start := time.Now()
	n, err := mb.core.MbRead(mb.objid, iov, off)
	observer.ObserveOp("mb_read", uint64(n), uint64(time.Since(start).Nanoseconds()), err == nil)
	if err != nil {
		return n, WrapError("mblock.read", mb.objid, err)
	}
	return n, nil
}

// Delete releases a committed mblock.
func (mb *MblockHandle) Delete() error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.deleted {
		return NewObjError("mblock.delete", mb.objid, KindNotFound, "already deleted")
	}
	if !mb.committed {
		return NewObjError("mblock.delete", mb.objid, KindState, "delete before commit")
	}
	start := time.Now()
	err := mb.core.MbDelete(mb.objid)
	mb.observer.ObserveOp("mb_delete", 0, uint64(time.Since(start).Nanoseconds()), err == nil)
	if err != nil {
		return WrapError("mblock.delete", mb.objid, err)
	}
	mb.deleted = true
	return nil
}

// GetProps returns the mblock's current properties from the locally cached
// write length and committed flag; it never makes a round trip to the core.
func (mb *MblockHandle) GetProps() (interfaces.MblockProps, error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if mb.deleted {
		return interfaces.MblockProps{}, NewObjError("mblock.getprops", mb.objid, KindNotFound, "mblock deleted")
	}

	return interfaces.MblockProps{
		ObjID:     mb.objid,
		Class:     mb.class,
		Capacity:  mb.capacity,
		WriteLen:  mb.writeLen,
		Committed: mb.committed,
	}, nil
}
