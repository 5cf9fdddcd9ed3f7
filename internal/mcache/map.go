// Package mcache implements the bounded virtual-memory mapping engine: a
// contiguous anonymous region covering a set of mapped mblocks/mlogs, each
// object immediately followed by its own PROT_NONE guard page so an
// out-of-bounds access raises SIGBUS instead of silently reading adjacent
// object or heap memory.
package mcache

import (
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/hse-project/go-mpool/internal/interfaces"
)

// ErrGuardFault is returned when an access recovered from a guard-page
// SIGBUS/SEGV instead of crashing the process.
var ErrGuardFault = errors.New("mcache: access past mapped guard page")

var enablePanicOnFault sync.Once

// pointerFromMmap converts a raw mmap return value to unsafe.Pointer without
// tripping go vet's uintptr-conversion warning.
func pointerFromMmap(addr uintptr) unsafe.Pointer {
	return unsafe.Pointer(addr) //nolint:govet
}

// Mapping is one mc_map'd region: offsets into a single backing VMA, one per
// requested objid, each followed by its own unreadable, unwritable guard
// page, so an access past any object's bound faults rather than landing in
// the next object's live bytes.
type Mapping struct {
	token   uint64
	objids  []uint64
	offsets []int64   // offset of each object's data within base
	sizes   []int64   // page-rounded size reserved for each object
	guards  []uintptr // guard page address immediately following each object
	total   int64     // bytes reserved for the whole mapping, including every guard page
	base    uintptr
	pageSz  int64
}

// Engine tracks live mappings so Unmap can find and release them.
type Engine struct {
	mu       sync.Mutex
	mappings map[uint64]*Mapping
}

// NewEngine creates an mcache engine. The first call enables panic-on-fault
// for the calling goroutine: it converts an invalid memory reference
// (including our guard page) into a recoverable runtime panic instead of a
// fatal crash. The setting is per goroutine, so Access enables it for its
// own goroutine as well.
func NewEngine() *Engine {
	enablePanicOnFault.Do(func() { debug.SetPanicOnFault(true) })
	return &Engine{mappings: make(map[uint64]*Mapping)}
}

func pageRound(n int64, pageSz int64) int64 {
	if rem := n % pageSz; rem != 0 {
		n += pageSz - rem
	}
	return n
}

// Map asks core for mapping info on objids, then reserves a single
// contiguous anonymous VMA sized to hold every object (page-rounded), each
// immediately followed by its own guard page — not just one trailing guard
// page after the whole region — so a fault past any one object's bound
// can't land inside the next object's live bytes (spec §4.7, §8 scenario 3).
func (e *Engine) Map(core interfaces.Core, objids []uint64, advice interfaces.MapAdvice) (*Mapping, error) {
	info, err := core.McMap(objids, advice)
	if err != nil {
		return nil, fmt.Errorf("mc_map failed: %v", err)
	}

	pageSz := int64(os.Getpagesize())
	offsets := make([]int64, len(info.Capacities))
	sizes := make([]int64, len(info.Capacities))
	var total int64
	for i, cap := range info.Capacities {
		sz := pageRound(cap, pageSz)
		sizes[i] = sz
		offsets[i] = total
		total += sz + pageSz // reserve a guard page after every object
	}

	mapSize := total
	base, _, errno := syscall.Syscall6(
		syscall.SYS_MMAP,
		0,
		uintptr(mapSize),
		syscall.PROT_READ|syscall.PROT_WRITE,
		syscall.MAP_PRIVATE|syscall.MAP_ANONYMOUS,
		^uintptr(0),
		0,
	)
	if errno != 0 {
		_ = core.McUnmap(info.Token)
		return nil, fmt.Errorf("mmap failed: %v", errno)
	}

	guards := make([]uintptr, len(info.Capacities))
	for i := range offsets {
		guardAddr := base + uintptr(offsets[i]+sizes[i])
		if _, _, errno := syscall.Syscall(syscall.SYS_MPROTECT, guardAddr, uintptr(pageSz), syscall.PROT_NONE); errno != 0 {
			syscall.Syscall(syscall.SYS_MUNMAP, base, uintptr(mapSize), 0)
			_ = core.McUnmap(info.Token)
			return nil, fmt.Errorf("mprotect guard page failed: %v", errno)
		}
		guards[i] = guardAddr
	}

	m := &Mapping{
		token:   info.Token,
		objids:  objids,
		offsets: offsets,
		sizes:   sizes,
		guards:  guards,
		total:   total,
		base:    base,
		pageSz:  pageSz,
	}

	e.mu.Lock()
	e.mappings[info.Token] = m
	e.mu.Unlock()

	return m, nil
}

// Unmap releases the VMA and tells core the mapping is gone.
func (e *Engine) Unmap(core interfaces.Core, token uint64) error {
	e.mu.Lock()
	m, ok := e.mappings[token]
	if ok {
		delete(e.mappings, token)
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("mcache: token %#x is not mapped", token)
	}

	mapSize := uintptr(m.total)
	if _, _, errno := syscall.Syscall(syscall.SYS_MUNMAP, m.base, mapSize, 0); errno != 0 {
		return fmt.Errorf("munmap failed: %v", errno)
	}
	return core.McUnmap(token)
}

// Advise forwards a per-range hint to core; mcache itself does not act on it
// beyond bookkeeping, since page residency lives entirely in the real kernel.
func (e *Engine) Advise(core interfaces.Core, token uint64, idx int, off, length int64, kind interfaces.MadviseKind) error {
	return core.McAdvise(token, idx, off, length, kind)
}

// Slice returns a []byte view over object idx's region within the mapping,
// bounded by its page-rounded reservation. Callers that index past an
// object's real (unrounded) capacity but within its page-rounded slack will
// succeed at the Go level; only an access past that object's own guard page
// raises SIGBUS, caught by Access.
func (m *Mapping) Slice(idx int) ([]byte, error) {
	if idx < 0 || idx >= len(m.offsets) {
		return nil, fmt.Errorf("mcache: index %d out of range", idx)
	}
	ptr := pointerFromMmap(m.base + uintptr(m.offsets[idx]))
	return unsafe.Slice((*byte)(ptr), m.sizes[idx]), nil
}

// Token returns the map token this mapping was registered under.
func (m *Mapping) Token() uint64 { return m.token }

// NumObjects returns the number of mblocks/mlogs covered by this mapping.
func (m *Mapping) NumObjects() int { return len(m.offsets) }

// Base returns object idx's virtual base address as a raw pointer, mirroring
// the spec's getbase contract. Callers on platforms without guard-page
// support should prefer Slice, which stays bounds-checked at the Go level.
func (m *Mapping) Base(idx int) (unsafe.Pointer, error) {
	if idx < 0 || idx >= len(m.offsets) {
		return nil, fmt.Errorf("mcache: index %d out of range", idx)
	}
	return pointerFromMmap(m.base + uintptr(m.offsets[idx])), nil
}

// Mincore reports the resident (rss) and total virtual (vss) page counts
// backing the whole reservation (every object plus its guard page), using
// unix.Mincore the same way the teacher's queue runner probes mmap'd ring
// memory.
func (m *Mapping) Mincore() (rss int64, vss int64, err error) {
	data := unsafe.Slice((*byte)(pointerFromMmap(m.base)), m.total)
	vec := make([]byte, (m.total+m.pageSz-1)/m.pageSz)
	if merr := unix.Mincore(data, vec); merr != nil {
		return 0, 0, fmt.Errorf("mincore failed: %w", merr)
	}
	for _, b := range vec {
		if b&1 != 0 {
			rss++
		}
	}
	return rss, int64(len(vec)), nil
}

// Access runs fn, recovering a guard-page fault (SIGBUS/SIGSEGV surfaced by
// the Go runtime as a panic, since Access enables debug.SetPanicOnFault for
// the calling goroutine while fn runs) into ErrGuardFault rather than
// letting it crash the process.
func Access(fn func()) (err error) {
	defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrGuardFault, r)
		}
	}()
	fn()
	return nil
}
