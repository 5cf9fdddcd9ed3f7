// Package omf implements the mpool on-media format: the wire layout of the
// superblock, log-block header, and log-record descriptor shared with the
// pool core.
package omf

import "unsafe"

// Superblock identifies a pool on its backing media. Presence of Magic does
// not imply validity; Version and the checksum must still be checked.
type Superblock struct {
	Magic        [8]byte  // "mpoolDev" in wire order
	Name         [32]byte // NUL-padded pool name
	ChecksumType uint8
	_pad0        uint8 // reserved, always zero on media
	Version      uint16
	UUID         [16]byte
	Gen          uint32
}

// Compile-time size check: the superblock occupies 64 bytes on media.
var _ [64]byte = [unsafe.Sizeof(Superblock{})]byte{}

// LogBlockHeader prefixes every log block. UUID ties the block to the mlog
// it belongs to; PrevFsetID/CurFsetID let a reader detect torn flush sets.
type LogBlockHeader struct {
	UUID       [16]byte
	PrevFsetID uint32
	CurFsetID  uint32
	Gen        uint64
	Version    uint16
	_reserved  [6]byte // reserved, always zero on media
}

// Compile-time size check: the log-block header occupies 40 bytes on media.
var _ [40]byte = [unsafe.Sizeof(LogBlockHeader{})]byte{}

// RecordType enumerates the kinds of log-record descriptor.
type RecordType uint8

const (
	RecordData         RecordType = iota // ordinary datum, first chunk
	RecordContinuation                   // continuation chunk of a larger datum
	RecordCStart                         // compaction-start marker
	RecordCEnd                           // compaction-end marker
	RecordPad                            // end-of-log padding
	RecordEOL                            // explicit end-of-log sentinel
)

func (t RecordType) String() string {
	switch t {
	case RecordData:
		return "data"
	case RecordContinuation:
		return "continuation"
	case RecordCStart:
		return "cstart"
	case RecordCEnd:
		return "cend"
	case RecordPad:
		return "pad"
	case RecordEOL:
		return "eol"
	default:
		return "unknown"
	}
}

// LogRecordDescriptor frames one chunk of a logical datum within a log block.
// Tlen is the logical length of the entire record across all continuation
// chunks; Rlen is the length of this chunk only.
type LogRecordDescriptor struct {
	Tlen      uint32
	Rlen      uint16
	Rtype     RecordType
	_reserved uint8 // reserved, always zero on media
}

// Compile-time size check: the record descriptor occupies 8 bytes on media.
var _ [8]byte = [unsafe.Sizeof(LogRecordDescriptor{})]byte{}
