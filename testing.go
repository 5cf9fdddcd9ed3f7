package mpool

import (
	"sync"

	"github.com/hse-project/go-mpool/internal/interfaces"
)

// MockCore provides an in-memory implementation of interfaces.Core for
// consumers of this library to use in their own tests, tracking per-method
// call counts for verification the way a test double should.
type MockCore struct {
	mu      sync.RWMutex
	objects map[uint64]*mockObject
	nextID  uint64
	params  interfaces.PoolParams
	closed  bool

	calls map[string]int
}

type mockObject struct {
	objid     uint64
	typ       interfaces.ObjType
	class     interfaces.MediaClass
	data      []byte
	committed bool
	gen       uint64
	deleted   bool
}

// NewMockCore creates a mock core with the given pool parameters. Useful for
// unit testing applications built on this library without a real pool.
func NewMockCore(params interfaces.PoolParams) *MockCore {
	return &MockCore{
		objects: make(map[uint64]*mockObject),
		nextID:  1,
		params:  params,
		calls:   make(map[string]int),
	}
}

func (m *MockCore) recordCall(name string) {
	m.calls[name]++
}

func (m *MockCore) allocID(typ interfaces.ObjType) uint64 {
	slot := uint8(m.nextID & 0xff)
	if slot == 0 {
		m.nextID++
		slot = uint8(m.nextID & 0xff)
	}
	id := (uint64(typ) << 8) | uint64(slot)
	m.nextID++
	return id
}

// MbAlloc implements interfaces.Core.
func (m *MockCore) MbAlloc(class interfaces.MediaClass, spare bool) (uint64, interfaces.MblockProps, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordCall("mb_alloc")

	if m.closed {
		return 0, interfaces.MblockProps{}, NewError("mock.mb_alloc", KindState, "core closed")
	}

	id := m.allocID(interfaces.ObjTypeMblock)
	cap := m.params.MblockSize(class)
	if cap == 0 {
		cap = 32 << 20
	}
	m.objects[id] = &mockObject{objid: id, typ: interfaces.ObjTypeMblock, class: class, data: make([]byte, 0, cap)}

	props := interfaces.MblockProps{ObjID: id, Class: class, Capacity: cap}
	return id, props, nil
}

// MbCommit implements interfaces.Core.
func (m *MockCore) MbCommit(objid uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordCall("mb_commit")

	obj, err := m.lookupLocked(objid, interfaces.ObjTypeMblock)
	if err != nil {
		return err
	}
	obj.committed = true
	return nil
}

// MbAbort implements interfaces.Core.
func (m *MockCore) MbAbort(objid uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordCall("mb_abort")

	if _, err := m.lookupLocked(objid, interfaces.ObjTypeMblock); err != nil {
		return err
	}
	delete(m.objects, objid)
	return nil
}

// MbDelete implements interfaces.Core.
func (m *MockCore) MbDelete(objid uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordCall("mb_delete")

	obj, err := m.lookupLocked(objid, interfaces.ObjTypeMblock)
	if err != nil {
		return err
	}
	obj.deleted = true
	delete(m.objects, objid)
	return nil
}

// MbWrite implements interfaces.Core.
func (m *MockCore) MbWrite(objid uint64, iov []byte, offset int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordCall("mb_write")

	obj, err := m.lookupLocked(objid, interfaces.ObjTypeMblock)
	if err != nil {
		return err
	}
	if obj.committed {
		return NewObjError("mock.mb_write", objid, KindState, "mblock already committed")
	}
	if offset != int64(len(obj.data)) {
		return NewObjError("mock.mb_write", objid, KindInvalidArgument, "mblock writes must be sequential")
	}
	if offset+int64(len(iov)) > int64(cap(obj.data)) {
		return NewObjError("mock.mb_write", objid, KindCapacity, "write exceeds mblock capacity")
	}
	obj.data = append(obj.data, iov...)
	return nil
}

// MbRead implements interfaces.Core.
func (m *MockCore) MbRead(objid uint64, iov []byte, offset int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.recordCall("mb_read")

	obj, err := m.lookupLocked(objid, interfaces.ObjTypeMblock)
	if err != nil {
		return 0, err
	}
	if offset >= int64(len(obj.data)) {
		return 0, nil
	}
	n := copy(iov, obj.data[offset:])
	return n, nil
}

// MbGetProps implements interfaces.Core.
func (m *MockCore) MbGetProps(objid uint64) (interfaces.MblockProps, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.recordCall("mb_getprops")

	obj, err := m.lookupLocked(objid, interfaces.ObjTypeMblock)
	if err != nil {
		return interfaces.MblockProps{}, err
	}
	return interfaces.MblockProps{
		ObjID:     objid,
		Class:     obj.class,
		Capacity:  int64(cap(obj.data)),
		WriteLen:  int64(len(obj.data)),
		Committed: obj.committed,
	}, nil
}

// MlAlloc implements interfaces.Core.
func (m *MockCore) MlAlloc(class interfaces.MediaClass, capacity int64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordCall("ml_alloc")

	id := m.allocID(interfaces.ObjTypeMlog)
	m.objects[id] = &mockObject{objid: id, typ: interfaces.ObjTypeMlog, class: class, data: make([]byte, 0, capacity), gen: 1}
	return id, nil
}

// MlCommit implements interfaces.Core.
func (m *MockCore) MlCommit(objid uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordCall("ml_commit")

	obj, err := m.lookupLocked(objid, interfaces.ObjTypeMlog)
	if err != nil {
		return err
	}
	obj.committed = true
	return nil
}

// MlAbort implements interfaces.Core.
func (m *MockCore) MlAbort(objid uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordCall("ml_abort")

	if _, err := m.lookupLocked(objid, interfaces.ObjTypeMlog); err != nil {
		return err
	}
	delete(m.objects, objid)
	return nil
}

// MlDelete implements interfaces.Core.
func (m *MockCore) MlDelete(objid uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordCall("ml_delete")

	obj, err := m.lookupLocked(objid, interfaces.ObjTypeMlog)
	if err != nil {
		return err
	}
	obj.deleted = true
	delete(m.objects, objid)
	return nil
}

// MlErase implements interfaces.Core.
func (m *MockCore) MlErase(objid uint64, mingen uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordCall("ml_erase")

	obj, err := m.lookupLocked(objid, interfaces.ObjTypeMlog)
	if err != nil {
		return err
	}
	if mingen <= obj.gen {
		return NewObjError("mock.ml_erase", objid, KindInvalidArgument, "mingen must exceed current generation")
	}
	obj.gen = mingen
	obj.data = obj.data[:0]
	return nil
}

// MlRW implements interfaces.Core.
func (m *MockCore) MlRW(objid uint64, iov []byte, offset int64, write bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordCall("ml_rw")

	obj, err := m.lookupLocked(objid, interfaces.ObjTypeMlog)
	if err != nil {
		return 0, err
	}
	if write {
		// A write may start anywhere up to the current end, so the mlog
		// engine can rewrite its in-progress block on each flush.
		if offset > int64(len(obj.data)) {
			return 0, NewObjError("mock.ml_rw", objid, KindInvalidArgument, "mlog writes must not leave a gap")
		}
		if end := offset + int64(len(iov)); end <= int64(len(obj.data)) {
			copy(obj.data[offset:], iov)
		} else {
			obj.data = append(obj.data[:offset], iov...)
		}
		return len(iov), nil
	}
	if offset >= int64(len(obj.data)) {
		return 0, nil
	}
	n := copy(iov, obj.data[offset:])
	return n, nil
}

// MlGetProps implements interfaces.Core.
func (m *MockCore) MlGetProps(objid uint64) (interfaces.MlogProps, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.recordCall("ml_getprops")

	obj, err := m.lookupLocked(objid, interfaces.ObjTypeMlog)
	if err != nil {
		return interfaces.MlogProps{}, err
	}
	const sectorSize = 4096
	return interfaces.MlogProps{
		ObjID:      objid,
		Class:      obj.class,
		Gen:        obj.gen,
		Totsec:     uint32(cap(obj.data) / sectorSize),
		SectorSize: sectorSize,
		Capacity:   int64(cap(obj.data)),
	}, nil
}

// McMap implements interfaces.Core.
func (m *MockCore) McMap(objids []uint64, advice interfaces.MapAdvice) (interfaces.MapInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordCall("mc_map")

	caps := make([]int64, len(objids))
	for i, id := range objids {
		obj, err := m.lookupLocked(id, interfaces.ObjIDType(id))
		if err != nil {
			return interfaces.MapInfo{}, err
		}
		caps[i] = int64(cap(obj.data))
	}
	token := m.nextID
	m.nextID++
	return interfaces.MapInfo{Token: token, ObjIDs: objids, Capacities: caps}, nil
}

// McUnmap implements interfaces.Core.
func (m *MockCore) McUnmap(token uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordCall("mc_unmap")
	return nil
}

// McAdvise implements interfaces.Core.
func (m *MockCore) McAdvise(token uint64, idx int, off int64, length int64, kind interfaces.MadviseKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordCall("mc_advise")
	return nil
}

// PoolParamsGet implements interfaces.Core.
func (m *MockCore) PoolParamsGet() (interfaces.PoolParams, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.recordCall("pool_params_get")
	return m.params, nil
}

// Close implements interfaces.Core.
func (m *MockCore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recordCall("close")
	m.closed = true
	return nil
}

func (m *MockCore) lookupLocked(objid uint64, wantType interfaces.ObjType) (*mockObject, error) {
	obj, ok := m.objects[objid]
	if !ok || obj.deleted {
		return nil, NewObjError("mock.lookup", objid, KindNotFound, "object not found")
	}
	if obj.typ != wantType {
		return nil, NewObjError("mock.lookup", objid, KindInvalidArgument, "object type mismatch")
	}
	return obj, nil
}

// CallCounts returns the number of times each RPC method has been called.
func (m *MockCore) CallCounts() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]int, len(m.calls))
	for k, v := range m.calls {
		out[k] = v
	}
	return out
}

// IsClosed returns true if Close has been called.
func (m *MockCore) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// Reset clears all call counters without affecting stored objects.
func (m *MockCore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = make(map[string]int)
}

var _ interfaces.Core = (*MockCore)(nil)
