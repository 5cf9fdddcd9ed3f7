package mpool

import (
	"sync"

	"github.com/hse-project/go-mpool/internal/interfaces"
)

// MDCHandle is a pair of mlogs acting as a replicated compactable journal
// (spec §3, §4.5). Exactly one of the two is active at a time; the lock
// ordering is MDC → mlog → pool → core (spec §5), enforced here by never
// holding mdc.mu while blocking on a call that itself reacquires it.
type MDCHandle struct {
	mu   sync.Mutex
	pool *Pool

	oid1, oid2 uint64
	log1, log2 *MlogHandle
	active     *MlogHandle
	staging    *MlogHandle

	valid bool
}

// MDCAlloc allocates both mlogs of a new MDC, uncommitted, with identical
// capacity targets (spec §4.5).
func MDCAlloc(p *Pool, class interfaces.MediaClass, captgt int64) (oid1, oid2 uint64, err error) {
	oid1, err = p.core.MlAlloc(class, captgt)
	if err != nil {
		return 0, 0, WrapError("mdc.alloc", 0, err)
	}
	oid2, err = p.core.MlAlloc(class, captgt)
	if err != nil {
		_ = p.core.MlAbort(oid1)
		return 0, 0, WrapError("mdc.alloc", 0, err)
	}
	return oid1, oid2, nil
}

// MDCCommit commits both mlogs, then erases the second one with a minimum
// generation one above the first's, so a freshly committed MDC has distinct
// generations and opens cleanly. If the second commit fails, the first
// commit already happened and is not rolled back — the spec leaves partial
// cleanup to the caller via mdc_delete.
func MDCCommit(p *Pool, oid1, oid2 uint64) error {
	if err := p.core.MlCommit(oid1); err != nil {
		return WrapError("mdc.commit", oid1, err)
	}
	if err := p.core.MlCommit(oid2); err != nil {
		return WrapError("mdc.commit", oid2, err)
	}
	props1, err := p.core.MlGetProps(oid1)
	if err != nil {
		return WrapError("mdc.commit", oid1, err)
	}
	if err := p.core.MlErase(oid2, props1.Gen+1); err != nil {
		return WrapError("mdc.commit", oid2, err)
	}
	return nil
}

// MDCDelete deletes both mlogs of an MDC. Either objid missing is reported
// as "not found"; both missing is also "not found".
func MDCDelete(p *Pool, oid1, oid2 uint64) error {
	err1 := p.core.MlDelete(oid1)
	err2 := p.core.MlDelete(oid2)
	if err1 != nil {
		return WrapError("mdc.delete", oid1, err1)
	}
	if err2 != nil {
		return WrapError("mdc.delete", oid2, err2)
	}
	return nil
}

// MDCOpen opens both mlogs with csem=true, selects the higher-generation
// log as active (spec §4.5, P6), and rejects a torn compaction on the
// active side.
func MDCOpen(p *Pool, oid1, oid2 uint64, csem bool) (*MDCHandle, error) {
	log1, err := mlogOpen(p.core, p.observer, oid1, true)
	if err != nil {
		return nil, WrapError("mdc.open", oid1, err)
	}
	log2, err := mlogOpen(p.core, p.observer, oid2, true)
	if err != nil {
		return nil, WrapError("mdc.open", oid2, err)
	}

	if log1.gen == log2.gen {
		return nil, NewError("mdc.open", KindState, "inconsistent MDC: equal generations")
	}

	mdc := &MDCHandle{pool: p, oid1: oid1, oid2: oid2, log1: log1, log2: log2}
	if log1.gen > log2.gen {
		mdc.active, mdc.staging = log1, log2
	} else {
		mdc.active, mdc.staging = log2, log1
	}

	// A torn compaction leaves CSTART unmatched on the active side, which
	// mlogOpen(csem=true) would already have rejected; an active log that
	// scanned clean but ended with an outstanding CSTART also counts as
	// torn per spec §4.5 step 4.
	if mdc.active.cstart && !mdc.active.cend {
		return nil, NewError("mdc.open", KindState, "inconsistent MDC: torn compaction")
	}

	mdc.valid = true
	return mdc, nil
}

// Append forwards to the active mlog.
func (m *MDCHandle) Append(data []byte, sync bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.valid {
		return NewError("mdc.append", KindState, "MDC handle not valid")
	}
	return m.active.Append(data, sync)
}

// Read creates (or reuses) a read iterator over the active mlog and returns
// the next record.
func (m *MDCHandle) Read(it *MlogReadIterator, buf []byte) (*MlogReadIterator, int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.valid {
		return it, 0, false, NewError("mdc.read", KindState, "MDC handle not valid")
	}
	if it == nil {
		it = m.active.ReadInit()
	}
	n, eof, err := it.ReadNext(buf)
	return it, n, eof, err
}

// Rewind returns a fresh read iterator positioned at the start of the
// active mlog.
func (m *MDCHandle) Rewind() *MlogReadIterator {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active.ReadInit()
}

// Compact performs the bracketed rewrite protocol from spec §4.5: erase the
// staging log and bump its generation past the active side's, append CSTART,
// rewrite the compacted record stream (supplied by rewrite), append CEND,
// then treat the staging log as the new active side. The generation bump is
// what makes the promotion durable: MDCOpen always picks whichever log has
// the higher on-core generation, so without it a reopen after a successful
// compaction would re-derive the old (pre-compaction) winner and resurrect
// stale data. An incomplete compaction — a crash between CSTART and CEND —
// is discarded on the next open (P3): the reader still sees the previous
// active log, since its generation is unaffected by a target that never
// reached CEND.
func (m *MDCHandle) Compact(rewrite func(w *MlogHandle) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.valid {
		return NewError("mdc.compact", KindState, "MDC handle not valid")
	}

	target := m.staging
	if err := target.Erase(m.active.Gen() + 1); err != nil {
		return err
	}
	if err := target.AppendCStart(); err != nil {
		return err
	}
	if err := rewrite(target); err != nil {
		return err
	}
	if err := target.AppendCEnd(); err != nil {
		return err
	}

	m.active, m.staging = target, m.active
	return nil
}

// Close drops the handle's validity; the underlying mlogs remain open in
// the pool's handle table until released there.
func (m *MDCHandle) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.valid = false
}
