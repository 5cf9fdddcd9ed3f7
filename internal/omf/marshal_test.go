package omf

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStructSizes(t *testing.T) {
	cases := []struct {
		name string
		got  int
		want int
	}{
		{"Superblock", SuperblockWireSize, 64},
		{"LogBlockHeader", LogBlockHeaderWireSize, 40},
		{"LogRecordDescriptor", LogRecordDescriptorWireSize, 8},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("%s wire size = %d, want %d", c.name, c.got, c.want)
		}
	}
}

func TestSuperblockRoundTrip(t *testing.T) {
	name, err := PackName("mp1")
	require.NoError(t, err)

	sb := &Superblock{
		Magic:        Magic,
		Name:         name,
		ChecksumType: ChecksumCRC32,
		Version:      CurrentVersion,
		Gen:          7,
	}
	copy(sb.UUID[:], []byte("0123456789abcdef"))

	buf := PackSuperblock(sb)
	require.Len(t, buf, SuperblockWireSize)

	got, err := UnpackSuperblock(buf)
	require.NoError(t, err)
	require.Equal(t, sb.Magic, got.Magic)
	require.Equal(t, "mp1", UnpackName(got.Name))
	require.Equal(t, sb.ChecksumType, got.ChecksumType)
	require.Equal(t, sb.Version, got.Version)
	require.Equal(t, sb.UUID, got.UUID)
	require.Equal(t, sb.Gen, got.Gen)
}

func TestSuperblockBadMagic(t *testing.T) {
	buf := make([]byte, SuperblockWireSize)
	copy(buf[0:8], []byte("notmpool"))
	_, err := UnpackSuperblock(buf)
	require.Error(t, err)
}

func TestSuperblockBadVersion(t *testing.T) {
	sb := &Superblock{Magic: Magic, Version: CurrentVersion + 1}
	buf := PackSuperblock(sb)
	_, err := UnpackSuperblock(buf)
	require.Error(t, err)
}

func TestSuperblockInsufficientData(t *testing.T) {
	_, err := UnpackSuperblock(make([]byte, SuperblockWireSize-1))
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestLogBlockHeaderRoundTrip(t *testing.T) {
	h := &LogBlockHeader{PrevFsetID: 1, CurFsetID: 2, Gen: 42, Version: CurrentVersion}
	copy(h.UUID[:], []byte("fedcba9876543210"))

	buf := PackLogBlockHeader(h)
	require.Len(t, buf, LogBlockHeaderWireSize)
	require.False(t, IsEmptyLogBlock(buf))

	got, hdrLen, err := UnpackLogBlockHeader(buf)
	require.NoError(t, err)
	require.Equal(t, LogBlockHeaderWireSize, hdrLen)
	require.Equal(t, h.UUID, got.UUID)
	require.Equal(t, h.PrevFsetID, got.PrevFsetID)
	require.Equal(t, h.CurFsetID, got.CurFsetID)
	require.Equal(t, h.Gen, got.Gen)
}

func TestLogBlockHeaderBadVersion(t *testing.T) {
	h := &LogBlockHeader{Version: CurrentVersion + 1}
	buf := PackLogBlockHeader(h)
	_, _, err := UnpackLogBlockHeader(buf)
	require.Error(t, err)
}

func TestIsEmptyLogBlock(t *testing.T) {
	require.True(t, IsEmptyLogBlock(make([]byte, LogBlockHeaderWireSize)))
	require.True(t, IsEmptyLogBlock(nil))

	buf := make([]byte, LogBlockHeaderWireSize)
	buf[0] = 1
	require.False(t, IsEmptyLogBlock(buf))
}

func TestLogRecordDescriptorRoundTrip(t *testing.T) {
	d := &LogRecordDescriptor{Tlen: 128, Rlen: 64, Rtype: RecordContinuation}
	buf, err := PackLogRecordDescriptor(d)
	require.NoError(t, err)
	require.Len(t, buf, LogRecordDescriptorWireSize)

	got, err := UnpackLogRecordDescriptor(buf)
	require.NoError(t, err)
	require.Equal(t, d.Tlen, got.Tlen)
	require.Equal(t, d.Rlen, got.Rlen)
	require.Equal(t, d.Rtype, got.Rtype)
}

func TestLogRecordDescriptorUnknownType(t *testing.T) {
	d := &LogRecordDescriptor{Tlen: 1, Rlen: 1, Rtype: RecordType(0xFF)}
	_, err := PackLogRecordDescriptor(d)
	require.Error(t, err)
}

func TestPackNameTooLong(t *testing.T) {
	long := make([]byte, PoolNameMaxLen+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err := PackName(string(long))
	require.Error(t, err)
}
