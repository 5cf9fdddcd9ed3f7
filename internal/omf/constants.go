package omf

// Magic is the superblock magic, "mpoolDev" in wire order. Its presence does
// not by itself mean the superblock is valid.
var Magic = [8]byte{'m', 'p', 'o', 'o', 'l', 'D', 'e', 'v'}

// CurrentVersion is the only superblock/log-block-header version this codec
// understands. Unpack fails for any other value.
const CurrentVersion uint16 = 1

// Checksum types recorded in the superblock.
const (
	ChecksumNone  uint8 = 0
	ChecksumCRC32 uint8 = 1
)

// Wire sizes, exported so callers can size buffers without depending on the
// in-memory struct layout.
const (
	SuperblockWireSize           = 64
	LogBlockHeaderWireSize       = 40
	LogRecordDescriptorWireSize  = 8
)

// PoolNameMaxLen is the maximum pool name length, NUL-padded in the
// superblock's Name field.
const PoolNameMaxLen = 31
