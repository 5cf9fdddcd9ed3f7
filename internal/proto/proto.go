// Package proto defines the fixed-size command structs carried across the
// transport ring's submission/completion queue entries: the wire protocol
// between this client and the pool core's control channel.
package proto

import (
	"encoding/binary"
	"unsafe"
)

// Control command opcodes, one per core RPC from the external-interfaces
// command table.
const (
	CmdMbAlloc = iota + 1
	CmdMbCommit
	CmdMbAbort
	CmdMbDelete
	CmdMbGetProps
	CmdMlAlloc
	CmdMlCommit
	CmdMlAbort
	CmdMlDelete
	CmdMlErase
	CmdMlGetProps
	CmdMcMap
	CmdMcUnmap
	CmdMcAdvise
	CmdPoolParamsGet
)

// I/O opcodes for the bulk-data path (mb_write/mb_read/ml_rw), issued
// through PrepareIOCmd/SubmitIOCmd rather than SubmitCtrlCmd.
const (
	IOOpMbWrite = iota + 1
	IOOpMbRead
	IOOpMlRW
)

// CtrlCmd is the fixed 32-byte control command placed in a ring SQE's
// command area. Arg packs the opcode-specific scalar argument (media class,
// spare flag, minimum generation, ...); Addr is an opaque reference to the
// request's in-process payload, since this client does not share memory
// with the core the way a kernel driver does.
type CtrlCmd struct {
	ObjID  uint64
	Arg    uint64
	Addr   uint64
	Opcode uint32
	Len    uint32
}

// Compile-time size check: the control command occupies 32 bytes.
var _ [32]byte = [unsafe.Sizeof(CtrlCmd{})]byte{}

// IOCmd is the fixed 32-byte bulk I/O command for mb_write/mb_read/ml_rw.
type IOCmd struct {
	ObjID  uint64
	Offset int64
	Addr   uint64
	Len    uint32
	Write  uint32 // 0 = read, 1 = write
}

// Compile-time size check: the I/O command occupies 32 bytes.
var _ [32]byte = [unsafe.Sizeof(IOCmd{})]byte{}

// MarshalCtrlCmd encodes c explicitly, field by field, rather than relying
// on the host's struct layout.
func MarshalCtrlCmd(c *CtrlCmd) []byte {
	buf := make([]byte, 32)
	binary.LittleEndian.PutUint64(buf[0:8], c.ObjID)
	binary.LittleEndian.PutUint64(buf[8:16], c.Arg)
	binary.LittleEndian.PutUint64(buf[16:24], c.Addr)
	binary.LittleEndian.PutUint32(buf[24:28], c.Opcode)
	binary.LittleEndian.PutUint32(buf[28:32], c.Len)
	return buf
}

// UnmarshalCtrlCmd is the inverse of MarshalCtrlCmd.
func UnmarshalCtrlCmd(buf []byte) *CtrlCmd {
	return &CtrlCmd{
		ObjID:  binary.LittleEndian.Uint64(buf[0:8]),
		Arg:    binary.LittleEndian.Uint64(buf[8:16]),
		Addr:   binary.LittleEndian.Uint64(buf[16:24]),
		Opcode: binary.LittleEndian.Uint32(buf[24:28]),
		Len:    binary.LittleEndian.Uint32(buf[28:32]),
	}
}

// MarshalIOCmd encodes c explicitly, field by field.
func MarshalIOCmd(c *IOCmd) []byte {
	buf := make([]byte, 32)
	binary.LittleEndian.PutUint64(buf[0:8], c.ObjID)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(c.Offset))
	binary.LittleEndian.PutUint64(buf[16:24], c.Addr)
	binary.LittleEndian.PutUint32(buf[24:28], c.Len)
	binary.LittleEndian.PutUint32(buf[28:32], c.Write)
	return buf
}

// UnmarshalIOCmd is the inverse of MarshalIOCmd.
func UnmarshalIOCmd(buf []byte) *IOCmd {
	return &IOCmd{
		ObjID:  binary.LittleEndian.Uint64(buf[0:8]),
		Offset: int64(binary.LittleEndian.Uint64(buf[8:16])),
		Addr:   binary.LittleEndian.Uint64(buf[16:24]),
		Len:    binary.LittleEndian.Uint32(buf[24:28]),
		Write:  binary.LittleEndian.Uint32(buf[28:32]),
	}
}
