// Package memcore is an in-process fake of interfaces.Core, serving every
// RPC entirely from memory. It lets the rest of this client be exercised and
// tested without a real pool core or kernel control device, the same role
// the teacher's backend.Memory plays for a ublk backend.
package memcore

import (
	"fmt"
	"sync"

	"github.com/hse-project/go-mpool/internal/interfaces"
)

// object is the in-memory stand-in for whatever the real core keeps per
// mblock/mlog: its class, backing bytes, and commit/generation state.
type object struct {
	mu        sync.RWMutex
	objid     uint64
	typ       interfaces.ObjType
	class     interfaces.MediaClass
	data      []byte
	committed bool
	gen       uint64
	deleted   bool
}

// Core is a sharded in-memory implementation of interfaces.Core: one lock
// per object, plus a single map-guard lock for allocation and lookup. This
// mirrors the teacher's Memory backend's per-shard locking for parallel I/O,
// generalized from byte ranges of one device to many independent objects.
type Core struct {
	mu       sync.Mutex
	objects  map[uint64]*object
	nextSlot map[interfaces.ObjType]uint8

	maps   map[uint64]*mapping
	nextMC uint64

	params interfaces.PoolParams
}

type mapping struct {
	objids []uint64
	advice interfaces.MapAdvice
}

// New creates an empty in-memory core with the given pool parameters
// (typically PoolParams{MblockSz: ...} for the classes under test).
func New(params interfaces.PoolParams) *Core {
	if params.MblockSz == nil {
		params.MblockSz = map[interfaces.MediaClass]int64{
			interfaces.ClassCapacity: 32 << 20,
			interfaces.ClassStaging:  32 << 20,
		}
	}
	return &Core{
		objects:  make(map[uint64]*object),
		nextSlot: make(map[interfaces.ObjType]uint8),
		maps:     make(map[uint64]*mapping),
		params:   params,
	}
}

func (c *Core) allocObjID(typ interfaces.ObjType) (uint64, error) {
	c.nextSlot[typ]++
	slot := c.nextSlot[typ]
	if slot == 0 {
		return 0, fmt.Errorf("object slot space for type %d exhausted", typ)
	}
	return uint64(typ)<<8 | uint64(slot), nil
}

func (c *Core) lookup(objid uint64) (*object, error) {
	c.mu.Lock()
	obj, ok := c.objects[objid]
	c.mu.Unlock()
	if !ok || obj.deleted {
		return nil, fmt.Errorf("objid %#x: not found", objid)
	}
	return obj, nil
}

func (c *Core) MbAlloc(class interfaces.MediaClass, spare bool) (uint64, interfaces.MblockProps, error) {
	c.mu.Lock()
	objid, err := c.allocObjID(interfaces.ObjTypeMblock)
	if err != nil {
		c.mu.Unlock()
		return 0, interfaces.MblockProps{}, err
	}
	capacity := c.params.MblockSz[class]
	obj := &object{objid: objid, typ: interfaces.ObjTypeMblock, class: class, data: make([]byte, 0, capacity)}
	c.objects[objid] = obj
	c.mu.Unlock()

	return objid, c.mbProps(obj), nil
}

func (c *Core) mbProps(obj *object) interfaces.MblockProps {
	obj.mu.RLock()
	defer obj.mu.RUnlock()
	return interfaces.MblockProps{
		ObjID:        obj.objid,
		Class:        obj.class,
		Capacity:     c.params.MblockSz[obj.class],
		WriteLen:     int64(len(obj.data)),
		OptWriteSize: 4096,
		Committed:    obj.committed,
	}
}

func (c *Core) MbCommit(objid uint64) error {
	obj, err := c.lookup(objid)
	if err != nil {
		return err
	}
	obj.mu.Lock()
	defer obj.mu.Unlock()
	if obj.committed {
		return fmt.Errorf("objid %#x: already committed", objid)
	}
	obj.committed = true
	return nil
}

func (c *Core) MbAbort(objid uint64) error {
	obj, err := c.lookup(objid)
	if err != nil {
		return err
	}
	obj.mu.Lock()
	if obj.committed {
		obj.mu.Unlock()
		return fmt.Errorf("objid %#x: already committed, cannot abort", objid)
	}
	obj.deleted = true
	obj.mu.Unlock()
	return nil
}

func (c *Core) MbDelete(objid uint64) error {
	obj, err := c.lookup(objid)
	if err != nil {
		return err
	}
	obj.mu.Lock()
	obj.deleted = true
	obj.mu.Unlock()
	c.mu.Lock()
	delete(c.objects, objid)
	c.mu.Unlock()
	return nil
}

func (c *Core) MbWrite(objid uint64, iov []byte, offset int64) error {
	obj, err := c.lookup(objid)
	if err != nil {
		return err
	}
	obj.mu.Lock()
	defer obj.mu.Unlock()
	if obj.committed {
		return fmt.Errorf("objid %#x: mblock already committed, write-once violated", objid)
	}
	need := offset + int64(len(iov))
	if need > int64(cap(obj.data)) {
		return fmt.Errorf("objid %#x: write at %d+%d exceeds mblock capacity %d", objid, offset, len(iov), cap(obj.data))
	}
	if need > int64(len(obj.data)) {
		obj.data = obj.data[:need]
	}
	copy(obj.data[offset:], iov)
	return nil
}

func (c *Core) MbRead(objid uint64, iov []byte, offset int64) (int, error) {
	obj, err := c.lookup(objid)
	if err != nil {
		return 0, err
	}
	obj.mu.RLock()
	defer obj.mu.RUnlock()
	if offset >= int64(len(obj.data)) {
		return 0, nil
	}
	n := copy(iov, obj.data[offset:])
	return n, nil
}

func (c *Core) MbGetProps(objid uint64) (interfaces.MblockProps, error) {
	obj, err := c.lookup(objid)
	if err != nil {
		return interfaces.MblockProps{}, err
	}
	return c.mbProps(obj), nil
}

func (c *Core) MlAlloc(class interfaces.MediaClass, capacity int64) (uint64, error) {
	c.mu.Lock()
	objid, err := c.allocObjID(interfaces.ObjTypeMlog)
	if err != nil {
		c.mu.Unlock()
		return 0, err
	}
	obj := &object{objid: objid, typ: interfaces.ObjTypeMlog, class: class, data: make([]byte, 0, capacity), gen: 1}
	c.objects[objid] = obj
	c.mu.Unlock()
	return objid, nil
}

func (c *Core) MlCommit(objid uint64) error {
	obj, err := c.lookup(objid)
	if err != nil {
		return err
	}
	obj.mu.Lock()
	obj.committed = true
	obj.mu.Unlock()
	return nil
}

func (c *Core) MlAbort(objid uint64) error {
	return c.MbAbort(objid)
}

func (c *Core) MlDelete(objid uint64) error {
	return c.MbDelete(objid)
}

func (c *Core) MlErase(objid uint64, mingen uint64) error {
	obj, err := c.lookup(objid)
	if err != nil {
		return err
	}
	obj.mu.Lock()
	defer obj.mu.Unlock()
	if mingen < obj.gen {
		return fmt.Errorf("objid %#x: requested minimum %d below current generation %d", objid, mingen, obj.gen)
	}
	obj.gen = mingen + 1
	obj.data = obj.data[:0]
	return nil
}

func (c *Core) MlGetProps(objid uint64) (interfaces.MlogProps, error) {
	obj, err := c.lookup(objid)
	if err != nil {
		return interfaces.MlogProps{}, err
	}
	obj.mu.RLock()
	defer obj.mu.RUnlock()
	const sectorSize = 4096
	return interfaces.MlogProps{
		ObjID:      obj.objid,
		Class:      obj.class,
		Gen:        obj.gen,
		Totsec:     uint32(cap(obj.data) / sectorSize),
		SectorSize: sectorSize,
		Capacity:   int64(cap(obj.data)),
	}, nil
}

func (c *Core) MlRW(objid uint64, iov []byte, offset int64, write bool) (int, error) {
	if write {
		obj, err := c.lookup(objid)
		if err != nil {
			return 0, err
		}
		obj.mu.Lock()
		defer obj.mu.Unlock()
		need := offset + int64(len(iov))
		if need > int64(cap(obj.data)) {
			return 0, fmt.Errorf("objid %#x: append at %d+%d exceeds mlog capacity %d", objid, offset, len(iov), cap(obj.data))
		}
		if need > int64(len(obj.data)) {
			obj.data = obj.data[:need]
		}
		return copy(obj.data[offset:], iov), nil
	}
	return c.MbRead(objid, iov, offset)
}

func (c *Core) McMap(objids []uint64, advice interfaces.MapAdvice) (interfaces.MapInfo, error) {
	info := interfaces.MapInfo{ObjIDs: objids, Capacities: make([]int64, len(objids))}
	for i, id := range objids {
		obj, err := c.lookup(id)
		if err != nil {
			return interfaces.MapInfo{}, err
		}
		obj.mu.RLock()
		info.Capacities[i] = int64(cap(obj.data))
		obj.mu.RUnlock()
	}

	c.mu.Lock()
	c.nextMC++
	token := c.nextMC
	c.maps[token] = &mapping{objids: objids, advice: advice}
	c.mu.Unlock()

	info.Token = token
	return info, nil
}

func (c *Core) McUnmap(token uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.maps[token]; !ok {
		return fmt.Errorf("token %#x: not mapped", token)
	}
	delete(c.maps, token)
	return nil
}

func (c *Core) McAdvise(token uint64, idx int, off int64, length int64, kind interfaces.MadviseKind) error {
	c.mu.Lock()
	m, ok := c.maps[token]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("token %#x: not mapped", token)
	}
	if idx < 0 || idx >= len(m.objids) {
		return fmt.Errorf("token %#x: index %d out of range", token, idx)
	}
	return nil
}

func (c *Core) PoolParamsGet() (interfaces.PoolParams, error) {
	return c.params, nil
}

func (c *Core) Close() error {
	return nil
}

var _ interfaces.Core = (*Core)(nil)
