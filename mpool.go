package mpool

import (
	"sync"

	"github.com/hse-project/go-mpool/internal/interfaces"
	"github.com/hse-project/go-mpool/internal/logging"
	"github.com/hse-project/go-mpool/internal/mcache"
	"github.com/hse-project/go-mpool/internal/transport"
)

// OpenFlags are the pool-open flags from spec §4.8.
type OpenFlags uint32

const (
	// OpenExcl requests exclusive access; the core enforces it. A later
	// non-exclusive open of the same pool name must fail.
	OpenExcl OpenFlags = 1 << iota
)

// Pool is the opaque pool handle façade (C8): it owns the transport and the
// handle table, exposes open/close/params/trim, and enforces the lock
// ordering from spec §5 (MDC → mlog → pool handle-table → core) by never
// holding its own handleTable lock across a core call.
type Pool struct {
	name  string
	flags OpenFlags

	core         interfaces.Core
	handles      *handleTable
	mcacheEngine *mcache.Engine

	mu     sync.RWMutex
	params interfaces.PoolParams

	metrics  *Metrics
	observer interfaces.Observer

	logger *logging.Logger
}

// openRegistry tracks exclusive opens by pool name, process-wide, the way
// the real core would enforce O_EXCL across all client handles.
var openRegistry = struct {
	mu   sync.Mutex
	excl map[string]bool
}{excl: make(map[string]bool)}

func registerOpen(name string, excl bool) error {
	openRegistry.mu.Lock()
	defer openRegistry.mu.Unlock()

	if existingExcl, open := openRegistry.excl[name]; open {
		if existingExcl || excl {
			return NewError("mpool.open", KindState, "pool already open exclusively")
		}
	}
	openRegistry.excl[name] = excl
	return nil
}

func unregisterOpen(name string) {
	openRegistry.mu.Lock()
	defer openRegistry.mu.Unlock()
	delete(openRegistry.excl, name)
}

// Open contacts the core over the control device named by cfg, populates
// the handle, and caches the pool's parameters.
func Open(name string, flags OpenFlags, cfg transport.ClientConfig) (*Pool, error) {
	client, err := transport.NewClient(cfg)
	if err != nil {
		return nil, WrapError("mpool.open", 0, err)
	}
	return OpenWithCore(name, flags, client)
}

// OpenWithCore opens a pool against an already-constructed interfaces.Core,
// letting tests and embedders inject a fake (MockCore, memcore) in place of
// a real transport.Client.
func OpenWithCore(name string, flags OpenFlags, core interfaces.Core) (*Pool, error) {
	if err := registerOpen(name, flags&OpenExcl != 0); err != nil {
		return nil, err
	}

	params, err := core.PoolParamsGet()
	if err != nil {
		unregisterOpen(name)
		return nil, WrapError("mpool.open", 0, err)
	}

	p := &Pool{
		name:         name,
		flags:        flags,
		core:         core,
		handles:      newHandleTable(),
		mcacheEngine: mcache.NewEngine(),
		params:       params,
		metrics:      NewMetrics(),
		logger:       logging.Default(),
	}
	p.observer = NewMetricsObserver(p.metrics)
	return p, nil
}

// Close tears down every descriptor still referenced in the handle table
// (logging but not aborting on individual failures, per spec §4.8), then
// drops the transport.
func (p *Pool) Close() error {
	p.handles.closeAll(func(desc any) error {
		return closeDescriptor(desc)
	})

	unregisterOpen(p.name)
	p.metrics.Stop()

	if err := p.core.Close(); err != nil {
		return WrapError("mpool.close", 0, err)
	}
	return nil
}

func closeDescriptor(desc any) error {
	switch d := desc.(type) {
	case *MlogHandle:
		return nil // mlogs have no explicit close RPC beyond release
	case *MDCHandle:
		d.Close()
		return nil
	default:
		return nil
	}
}

// ParamsGet returns a snapshot of the pool's cached parameters: media-class
// mblock size, capacity, MDC counts, label, uid/gid/mode.
func (p *Pool) ParamsGet() interfaces.PoolParams {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.params
}

// NameGet returns the pool's name.
func (p *Pool) NameGet() string {
	return p.name
}

// Metrics returns the pool's operational metrics.
func (p *Pool) Metrics() *Metrics {
	return p.metrics
}

// Trim is a best-effort hint to the core that unused capacity may be
// reclaimed; the core treats it as opaque maintenance (spec §1 places the
// core's own reclamation machinery out of scope).
func (p *Pool) Trim() error {
	// The external-interfaces table (spec §6) does not list a dedicated
	// trim command; pool_params_get is used here only to confirm the
	// transport is still live, mirroring how a no-op maintenance hint would
	// be validated against a core that doesn't expose a real trim RPC.
	_, err := p.core.PoolParamsGet()
	if err != nil {
		return WrapError("mpool.trim", 0, err)
	}
	return nil
}

// OpenMlog acquires (or opens, if not already resident) the mlog handle for
// objid through the pool's handle table.
func (p *Pool) OpenMlog(objid uint64, csem bool) (*MlogHandle, error) {
	desc, err := p.handles.acquire(objid, func() (any, error) {
		return mlogOpen(p.core, p.observer, objid, csem)
	})
	if err != nil {
		return nil, err
	}
	ml, ok := desc.(*MlogHandle)
	if !ok {
		return nil, NewObjError("mpool.open_mlog", objid, KindSoftwareBug, "handle table type mismatch")
	}
	return ml, nil
}

// ReleaseMlog releases a reference acquired through OpenMlog.
func (p *Pool) ReleaseMlog(objid uint64) error {
	return p.handles.release(objid, nil)
}
