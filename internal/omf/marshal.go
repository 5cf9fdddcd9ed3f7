package omf

import (
	"encoding/binary"
	"fmt"
)

// ErrInsufficientData is returned when a buffer is too small to unpack from.
var ErrInsufficientData = fmt.Errorf("omf: insufficient data")

// PackSuperblock encodes sb into a freshly allocated 64-byte buffer.
func PackSuperblock(sb *Superblock) []byte {
	buf := make([]byte, SuperblockWireSize)
	copy(buf[0:8], sb.Magic[:])
	copy(buf[8:40], sb.Name[:])
	buf[40] = sb.ChecksumType
	// buf[41] is reserved padding, always zero.
	binary.LittleEndian.PutUint16(buf[42:44], sb.Version)
	copy(buf[44:60], sb.UUID[:])
	binary.LittleEndian.PutUint32(buf[60:64], sb.Gen)
	return buf
}

// UnpackSuperblock decodes a superblock from buf and validates magic and
// version. Magic presence alone does not imply validity.
func UnpackSuperblock(buf []byte) (*Superblock, error) {
	if len(buf) < SuperblockWireSize {
		return nil, ErrInsufficientData
	}
	sb := &Superblock{}
	copy(sb.Magic[:], buf[0:8])
	if sb.Magic != Magic {
		return nil, fmt.Errorf("omf: bad superblock magic")
	}
	copy(sb.Name[:], buf[8:40])
	sb.ChecksumType = buf[40]
	sb.Version = binary.LittleEndian.Uint16(buf[42:44])
	if sb.Version != CurrentVersion {
		return nil, fmt.Errorf("omf: unsupported superblock version %d", sb.Version)
	}
	copy(sb.UUID[:], buf[44:60])
	sb.Gen = binary.LittleEndian.Uint32(buf[60:64])
	return sb, nil
}

// PackLogBlockHeader encodes h into a freshly allocated LogBlockHeaderWireSize
// buffer.
func PackLogBlockHeader(h *LogBlockHeader) []byte {
	buf := make([]byte, LogBlockHeaderWireSize)
	copy(buf[0:16], h.UUID[:])
	binary.LittleEndian.PutUint32(buf[16:20], h.PrevFsetID)
	binary.LittleEndian.PutUint32(buf[20:24], h.CurFsetID)
	binary.LittleEndian.PutUint64(buf[24:32], h.Gen)
	binary.LittleEndian.PutUint16(buf[32:34], h.Version)
	return buf
}

// UnpackLogBlockHeader decodes a log-block header from buf. It returns the
// header's on-media length so the caller can locate the first record, or an
// error if the version field is unknown.
func UnpackLogBlockHeader(buf []byte) (*LogBlockHeader, int, error) {
	if len(buf) < LogBlockHeaderWireSize {
		return nil, 0, ErrInsufficientData
	}
	h := &LogBlockHeader{}
	copy(h.UUID[:], buf[0:16])
	h.PrevFsetID = binary.LittleEndian.Uint32(buf[16:20])
	h.CurFsetID = binary.LittleEndian.Uint32(buf[20:24])
	h.Gen = binary.LittleEndian.Uint64(buf[24:32])
	h.Version = binary.LittleEndian.Uint16(buf[32:34])
	if h.Version != CurrentVersion {
		return nil, 0, fmt.Errorf("omf: invalid version %d", h.Version)
	}
	return h, LogBlockHeaderWireSize, nil
}

// IsEmptyLogBlock reports whether buf's first header word (the first eight
// bytes, the leading half of the UUID) is all zero. A log block scan stops
// at the first empty block.
func IsEmptyLogBlock(buf []byte) bool {
	if len(buf) < 8 {
		return true
	}
	for _, b := range buf[0:8] {
		if b != 0 {
			return false
		}
	}
	return true
}

// PackLogRecordDescriptor encodes d into a freshly allocated
// LogRecordDescriptorWireSize buffer. It fails for an unrecognised record
// type.
func PackLogRecordDescriptor(d *LogRecordDescriptor) ([]byte, error) {
	switch d.Rtype {
	case RecordData, RecordContinuation, RecordCStart, RecordCEnd, RecordPad, RecordEOL:
	default:
		return nil, fmt.Errorf("omf: unknown record type %d", d.Rtype)
	}
	buf := make([]byte, LogRecordDescriptorWireSize)
	binary.LittleEndian.PutUint32(buf[0:4], d.Tlen)
	binary.LittleEndian.PutUint16(buf[4:6], d.Rlen)
	buf[6] = byte(d.Rtype)
	return buf, nil
}

// UnpackLogRecordDescriptor decodes a record descriptor from buf.
func UnpackLogRecordDescriptor(buf []byte) (*LogRecordDescriptor, error) {
	if len(buf) < LogRecordDescriptorWireSize {
		return nil, ErrInsufficientData
	}
	d := &LogRecordDescriptor{
		Tlen:  binary.LittleEndian.Uint32(buf[0:4]),
		Rlen:  binary.LittleEndian.Uint16(buf[4:6]),
		Rtype: RecordType(buf[6]),
	}
	return d, nil
}

// PackName copies name into a PoolNameMaxLen+1-byte NUL-padded field, failing
// if name does not fit.
func PackName(name string) ([32]byte, error) {
	var out [32]byte
	if len(name) > PoolNameMaxLen {
		return out, fmt.Errorf("omf: pool name %q exceeds %d bytes", name, PoolNameMaxLen)
	}
	copy(out[:], name)
	return out, nil
}

// UnpackName returns the NUL-terminated string stored in a 32-byte name
// field.
func UnpackName(field [32]byte) string {
	n := 0
	for n < len(field) && field[n] != 0 {
		n++
	}
	return string(field[:n])
}
