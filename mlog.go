package mpool

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/hse-project/go-mpool/internal/constants"
	"github.com/hse-project/go-mpool/internal/interfaces"
	"github.com/hse-project/go-mpool/internal/mlogio"
	"github.com/hse-project/go-mpool/internal/omf"
)

const logBlockSize = constants.DefaultSectorSize

// MlogHandle is the in-memory descriptor for an open mlog: append state,
// flush-set bookkeeping, and the per-ML reader/writer lock from spec §4.4.
type MlogHandle struct {
	core     interfaces.Core
	observer interfaces.Observer
	objid    uint64

	mu sync.RWMutex // readers take RLock, mutators take Lock

	gen        uint64
	totsec     uint32
	sectorSize uint32
	csem       bool

	wsoff   uint32 // next free log block, in sectors
	aoff    uint32 // append offset within the in-progress block, past its header
	cfsetid uint32
	pfsetid uint32
	cfssoff uint32

	cstart bool // true between an unmatched CSTART and its CEND
	cend   bool

	appendBuf []byte // pending bytes for the in-progress block's record stream
	dirty     bool
}

// MlogReadIterator is the read-side cursor from spec §3 ("Read iterator").
// It is invalidated if the mlog is reopened with a different generation.
type MlogReadIterator struct {
	ml        *MlogHandle
	genAtOpen uint64
	block     uint32
	blockOff  uint32 // byte offset within the current block's record stream
	eof       bool
}

// mlogOpen validates the on-media log by scanning from block zero, per spec
// §4.4's open contract. csem requires every CSTART to be matched by a CEND;
// a torn flush-set boundary truncates the scan rather than failing it.
func mlogOpen(core interfaces.Core, observer interfaces.Observer, objid uint64, csem bool) (*MlogHandle, error) {
	if observer == nil {
		observer = NoOpObserver{}
	}
	props, err := core.MlGetProps(objid)
	if err != nil {
		return nil, WrapError("mlog.open", objid, err)
	}

	ml := &MlogHandle{
		core:       core,
		observer:   observer,
		objid:      objid,
		gen:        props.Gen,
		totsec:     props.Totsec,
		sectorSize: props.SectorSize,
		csem:       csem,
	}
	if ml.sectorSize == 0 {
		ml.sectorSize = logBlockSize
	}

	var (
		prevCurFsetID uint32
		openCstart    bool
		block         uint32
	)

	for block = 0; uint32(block) < ml.totsec; block++ {
		buf := mlogio.GetBuffer(ml.sectorSize)
		n, rerr := core.MlRW(objid, buf, int64(block)*int64(ml.sectorSize), false)
		if rerr != nil {
			mlogio.PutBuffer(buf)
			return nil, WrapError("mlog.open", objid, rerr)
		}
		buf = buf[:n]

		if omf.IsEmptyLogBlock(buf) {
			mlogio.PutBuffer(buf)
			break
		}

		hdr, hdrLen, herr := omf.UnpackLogBlockHeader(buf)
		if herr != nil {
			mlogio.PutBuffer(buf)
			return nil, NewObjError("mlog.open", objid, KindMalformedData, herr.Error())
		}

		if block > 0 && hdr.PrevFsetID != prevCurFsetID {
			// Torn flush-set boundary: everything from here on is discarded.
			mlogio.PutBuffer(buf)
			break
		}

		for _, rec := range scanRecords(buf[hdrLen:]) {
			switch rec.Rtype {
			case omf.RecordCStart:
				if openCstart && csem {
					mlogio.PutBuffer(buf)
					return nil, NewObjError("mlog.open", objid, KindMalformedData, "cstart-without-cend")
				}
				openCstart = true
			case omf.RecordCEnd:
				openCstart = false
			}
		}

		ml.pfsetid = hdr.PrevFsetID
		ml.cfsetid = hdr.CurFsetID
		prevCurFsetID = hdr.CurFsetID
		mlogio.PutBuffer(buf)
	}

	if csem && openCstart {
		return nil, NewObjError("mlog.open", objid, KindMalformedData, "cstart-without-cend")
	}

	ml.wsoff = block
	ml.cstart = openCstart
	ml.cend = !openCstart
	return ml, nil
}

// logRecord is one parsed (descriptor, payload) pair from a log block's
// record stream.
type logRecord struct {
	Rtype omf.RecordType
	Tlen  uint32
	Rlen  uint16
	Data  []byte
}

// scanRecords walks payload (a block's bytes past its header) and returns
// every record up to the first pad descriptor or the end of the payload.
func scanRecords(payload []byte) []logRecord {
	var out []logRecord
	off := 0
	for off+omf.LogRecordDescriptorWireSize <= len(payload) {
		desc, err := omf.UnpackLogRecordDescriptor(payload[off : off+omf.LogRecordDescriptorWireSize])
		if err != nil || desc.Rtype == omf.RecordPad {
			break
		}
		off += omf.LogRecordDescriptorWireSize
		if off+int(desc.Rlen) > len(payload) {
			break
		}
		out = append(out, logRecord{Rtype: desc.Rtype, Tlen: desc.Tlen, Rlen: desc.Rlen, Data: payload[off : off+int(desc.Rlen)]})
		off += int(desc.Rlen)
	}
	return out
}

// capacityBytes returns the mlog's total on-media capacity in bytes.
func (ml *MlogHandle) capacityBytes() int64 {
	return int64(ml.totsec) * int64(ml.sectorSize)
}

// Gen returns the generation observed at open time, or the one set by the
// latest Erase (spec §3, §4.4 P2).
func (ml *MlogHandle) Gen() uint64 {
	ml.mu.RLock()
	defer ml.mu.RUnlock()
	return ml.gen
}

// Erase durably erases the mlog's on-media content through the core and
// bumps its generation to mingen (which must exceed the current
// generation), then resets local append/read state to match the now-empty
// log. MDC compaction uses this to give the staging log a generation higher
// than the current active side's, so the promotion survives a reopen
// (spec §4.5, P2) instead of being silently re-derived from stale on-core
// state on the next MDCOpen.
func (ml *MlogHandle) Erase(mingen uint64) error {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	start := time.Now()
	err := ml.core.MlErase(ml.objid, mingen)
	ml.observer.ObserveOp("ml_erase", 0, uint64(time.Since(start).Nanoseconds()), err == nil)
	if err != nil {
		return WrapError("mlog.erase", ml.objid, err)
	}

	ml.gen = mingen
	ml.wsoff = 0
	ml.aoff = 0
	ml.cfsetid = 0
	ml.pfsetid = 0
	ml.cfssoff = 0
	ml.cstart = false
	ml.cend = true
	ml.appendBuf = ml.appendBuf[:0]
	ml.dirty = false
	return nil
}

// Append writes buf as one logical datum, chunking across log-block
// boundaries with continuation records as needed. sync forces a durable
// write of the in-progress block to media before returning.
func (ml *MlogHandle) Append(buf []byte, sync bool) error {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if int64(len(buf)) > ml.capacityBytes() {
		return NewObjError("mlog.append", ml.objid, KindCapacity, "no room: buffer exceeds mlog capacity")
	}

	remaining := ml.remainingCapacityLocked()
	descOverhead := omf.LogRecordDescriptorWireSize
	if remaining < int64(descOverhead)+1 {
		return NewObjError("mlog.append", ml.objid, KindCapacity, "log full")
	}

	if err := ml.appendChunksLocked(buf, omf.RecordData); err != nil {
		return err
	}

	if sync {
		return ml.flushLocked()
	}
	if len(ml.appendBuf) >= constants.MaxAppendBufferSize {
		return ml.flushLocked()
	}
	return nil
}

// AppendCStart writes a compaction-start marker (spec §4.5).
func (ml *MlogHandle) AppendCStart() error {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	if err := ml.appendChunksLocked(nil, omf.RecordCStart); err != nil {
		return err
	}
	ml.cstart = true
	ml.cend = false
	return ml.flushLocked()
}

// AppendCEnd writes a compaction-end marker (spec §4.5).
func (ml *MlogHandle) AppendCEnd() error {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	if err := ml.appendChunksLocked(nil, omf.RecordCEnd); err != nil {
		return err
	}
	ml.cstart = false
	ml.cend = true
	return ml.flushLocked()
}

func (ml *MlogHandle) remainingCapacityLocked() int64 {
	used := int64(ml.wsoff)*int64(ml.sectorSize) + int64(ml.aoff)
	return ml.capacityBytes() - used
}

// appendChunksLocked frames data as one or more log records (first chunk
// RecordData/RecordCStart/RecordCEnd carrying Tlen, continuation chunks
// carrying the remainder), splitting across block boundaries when the
// in-progress block runs out of room.
func (ml *MlogHandle) appendChunksLocked(data []byte, firstType omf.RecordType) error {
	tlen := uint32(len(data))
	offset := 0
	first := true

	for {
		chunk := data[offset:]
		rtype := omf.RecordContinuation
		if first {
			rtype = firstType
		}

		blockRemaining := int64(ml.sectorSize) - omf.LogBlockHeaderWireSize - int64(ml.aoff)
		if blockRemaining < int64(omf.LogRecordDescriptorWireSize)+1 && len(chunk) > 0 {
			if ml.wsoff >= ml.totsec {
				return NewObjError("mlog.append", ml.objid, KindCapacity, "log full")
			}
			if err := ml.advanceBlockLocked(); err != nil {
				return err
			}
			continue
		}

		maxChunk := blockRemaining - int64(omf.LogRecordDescriptorWireSize)
		if maxChunk < 0 {
			maxChunk = 0
		}
		rlen := int64(len(chunk))
		if rlen > maxChunk {
			rlen = maxChunk
		}

		desc := &omf.LogRecordDescriptor{Tlen: tlen, Rlen: uint16(rlen), Rtype: rtype}
		descBytes, err := omf.PackLogRecordDescriptor(desc)
		if err != nil {
			return NewObjError("mlog.append", ml.objid, KindSoftwareBug, err.Error())
		}
		ml.appendBuf = append(ml.appendBuf, descBytes...)
		ml.appendBuf = append(ml.appendBuf, chunk[:rlen]...)
		ml.aoff += uint32(len(descBytes)) + uint32(rlen)
		ml.dirty = true

		offset += int(rlen)
		first = false

		if offset >= len(data) {
			return nil
		}
		if ml.wsoff >= ml.totsec {
			return NewObjError("mlog.append", ml.objid, KindCapacity, "log full")
		}
		if err := ml.advanceBlockLocked(); err != nil {
			return err
		}
	}
}

// advanceBlockLocked flushes the in-progress block to media and moves the
// write cursor to the next one, bumping cfsetid/pfsetid per spec §3's flush
// set model.
func (ml *MlogHandle) advanceBlockLocked() error {
	if err := ml.flushLocked(); err != nil {
		return err
	}
	ml.wsoff++
	ml.aoff = 0
	ml.appendBuf = ml.appendBuf[:0]
	return nil
}

// flushLocked writes the in-progress block's accumulated records to media.
// It may run more than once against the same still-open block (e.g. a
// caller-requested sync followed by more appends before the block fills);
// appendBuf is only cleared by advanceBlockLocked, once the block is sealed
// and the write cursor genuinely moves on. A no-op if nothing is pending.
func (ml *MlogHandle) flushLocked() error {
	if !ml.dirty {
		return nil
	}

	ml.pfsetid = ml.cfsetid
	ml.cfsetid++

	// UUID ties a block to its owning mlog and, just as importantly, keeps
	// its first eight bytes non-zero so IsEmptyLogBlock can tell a written
	// block from an unwritten one; objid is stable and already unique.
	var uuid [16]byte
	binary.LittleEndian.PutUint64(uuid[0:8], ml.objid)

	hdr := &omf.LogBlockHeader{UUID: uuid, PrevFsetID: ml.pfsetid, CurFsetID: ml.cfsetid, Gen: ml.gen, Version: omf.CurrentVersion}
	hdrBytes := omf.PackLogBlockHeader(hdr)

	block := mlogio.GetBuffer(ml.sectorSize)
	defer mlogio.PutBuffer(block)
	copy(block, hdrBytes)
	tailStart := omf.LogBlockHeaderWireSize + len(ml.appendBuf)
	copy(block[omf.LogBlockHeaderWireSize:], ml.appendBuf)

	// GetBuffer recycles pooled buffers without zeroing them, so the tail
	// past the accumulated records could otherwise carry stale bytes from a
	// previous flush. Clear it and, if there's room, mark it explicitly with
	// a pad descriptor so a scan terminates deterministically rather than
	// relying on an all-zero descriptor decoding as RecordData.
	clear(block[tailStart:])
	if tailStart+omf.LogRecordDescriptorWireSize <= len(block) {
		padDesc, _ := omf.PackLogRecordDescriptor(&omf.LogRecordDescriptor{Rtype: omf.RecordPad})
		copy(block[tailStart:], padDesc)
	}

	start := time.Now()
	_, err := ml.core.MlRW(ml.objid, block, int64(ml.wsoff)*int64(ml.sectorSize), true)
	ml.observer.ObserveOp("ml_rw_write", uint64(len(block)), uint64(time.Since(start).Nanoseconds()), err == nil)
	if err != nil {
		return WrapError("mlog.flush", ml.objid, err)
	}

	ml.dirty = false
	return nil
}

// ReadInit creates a read iterator at sector zero, recording the mlog's
// generation at creation time so a subsequent reopen invalidates it.
func (ml *MlogHandle) ReadInit() *MlogReadIterator {
	ml.mu.RLock()
	defer ml.mu.RUnlock()
	return &MlogReadIterator{ml: ml, genAtOpen: ml.gen}
}

// ReadNext returns the next logical datum, reassembling continuation
// chunks. Records in the in-progress block are visible once that block has
// been flushed. If buf is too small, it fails with KindOverflow and returns
// the datum's size as n; the iterator position is left unchanged so the
// caller may retry with a larger buffer.
func (it *MlogReadIterator) ReadNext(buf []byte) (n int, eof bool, err error) {
	it.ml.mu.RLock()
	defer it.ml.mu.RUnlock()

	start := time.Now()
	defer func() {
		it.ml.observer.ObserveOp("ml_read_next", uint64(n), uint64(time.Since(start).Nanoseconds()), err == nil)
	}()

	if it.genAtOpen != it.ml.gen {
		return 0, false, NewObjError("mlog.read_next", it.ml.objid, KindNotFound, "read iterator invalidated by reopen")
	}
	if it.eof {
		return 0, true, nil
	}

	savedBlock, savedOff := it.block, it.blockOff

	var (
		tlen    uint32
		gotten  int
		started bool
	)

	for {
		limit := it.ml.wsoff
		if it.ml.aoff > 0 {
			limit++ // the in-progress block holds records once it has been flushed
		}
		if it.block >= limit {
			it.eof = true
			return 0, true, nil
		}

		blk := mlogio.GetBuffer(it.ml.sectorSize)
		n, err := it.ml.core.MlRW(it.ml.objid, blk, int64(it.block)*int64(it.ml.sectorSize), false)
		if err != nil {
			mlogio.PutBuffer(blk)
			it.block, it.blockOff = savedBlock, savedOff
			return 0, false, WrapError("mlog.read_next", it.ml.objid, err)
		}
		blk = blk[:n]
		if n < omf.LogBlockHeaderWireSize || omf.IsEmptyLogBlock(blk) {
			mlogio.PutBuffer(blk)
			it.eof = true
			return 0, true, nil
		}
		payload := blk[omf.LogBlockHeaderWireSize:]

		if it.blockOff+uint32(omf.LogRecordDescriptorWireSize) > uint32(len(payload)) {
			mlogio.PutBuffer(blk)
			it.block++
			it.blockOff = 0
			continue
		}

		descBuf := payload[it.blockOff : it.blockOff+uint32(omf.LogRecordDescriptorWireSize)]
		desc, derr := omf.UnpackLogRecordDescriptor(descBuf)
		if derr != nil || desc.Rtype == omf.RecordPad {
			mlogio.PutBuffer(blk)
			it.block++
			it.blockOff = 0
			continue
		}

		recStart := it.blockOff + uint32(omf.LogRecordDescriptorWireSize)
		recEnd := recStart + uint32(desc.Rlen)
		if recEnd > uint32(len(payload)) {
			mlogio.PutBuffer(blk)
			it.block++
			it.blockOff = 0
			continue
		}
		chunk := payload[recStart:recEnd]

		switch desc.Rtype {
		case omf.RecordCStart, omf.RecordCEnd:
			it.blockOff = recEnd
			mlogio.PutBuffer(blk)
			continue
		case omf.RecordData:
			started = true
			tlen = desc.Tlen
			if int(tlen) > len(buf) {
				mlogio.PutBuffer(blk)
				it.block, it.blockOff = savedBlock, savedOff
				return int(tlen), false, NewObjError("mlog.read_next", it.ml.objid, KindOverflow, "buffer too small")
			}
			gotten = copy(buf, chunk)
		case omf.RecordContinuation:
			if !started {
				mlogio.PutBuffer(blk)
				it.blockOff = recEnd
				continue
			}
			gotten += copy(buf[gotten:], chunk)
		}

		it.blockOff = recEnd
		mlogio.PutBuffer(blk)

		if started && uint32(gotten) >= tlen {
			return gotten, false, nil
		}
	}
}

// SeekReadNext repositions the iterator to byte offset off (from the start
// of the log) and performs a ReadNext from there.
func (it *MlogReadIterator) SeekReadNext(off int64, buf []byte) (int, bool, error) {
	it.ml.mu.RLock()
	sectorSize := int64(it.ml.sectorSize)
	it.ml.mu.RUnlock()

	payloadPerBlock := sectorSize - omf.LogBlockHeaderWireSize
	it.block = uint32(off / payloadPerBlock)
	it.blockOff = uint32(off % payloadPerBlock)
	it.eof = false
	return it.ReadNext(buf)
}
