package transport

import (
	"encoding/binary"

	"github.com/hse-project/go-mpool/internal/interfaces"
)

// The wire layouts below are the fixed-size response payloads a CtrlCmd's
// Addr/Len fields point at. They are a control-plane RPC encoding, distinct
// from the on-media format internal/omf packs into mlog blocks.

const (
	mblockPropsWireSize = 40
	mlogPropsWireSize   = 40
	poolParamsWireSize  = 136
	mapEntryWireSize    = 16
)

func packMblockProps(p interfaces.MblockProps) []byte {
	buf := make([]byte, mblockPropsWireSize)
	binary.LittleEndian.PutUint64(buf[0:8], p.ObjID)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(p.Class))
	binary.LittleEndian.PutUint64(buf[12:20], uint64(p.Capacity))
	binary.LittleEndian.PutUint64(buf[20:28], uint64(p.WriteLen))
	binary.LittleEndian.PutUint64(buf[28:36], uint64(p.OptWriteSize))
	if p.Committed {
		buf[36] = 1
	}
	return buf
}

func unpackMblockProps(buf []byte) interfaces.MblockProps {
	return interfaces.MblockProps{
		ObjID:        binary.LittleEndian.Uint64(buf[0:8]),
		Class:        interfaces.MediaClass(binary.LittleEndian.Uint32(buf[8:12])),
		Capacity:     int64(binary.LittleEndian.Uint64(buf[12:20])),
		WriteLen:     int64(binary.LittleEndian.Uint64(buf[20:28])),
		OptWriteSize: int64(binary.LittleEndian.Uint64(buf[28:36])),
		Committed:    buf[36] != 0,
	}
}

func packMlogProps(p interfaces.MlogProps) []byte {
	buf := make([]byte, mlogPropsWireSize)
	binary.LittleEndian.PutUint64(buf[0:8], p.ObjID)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(p.Class))
	binary.LittleEndian.PutUint64(buf[12:20], p.Gen)
	binary.LittleEndian.PutUint32(buf[20:24], p.Totsec)
	binary.LittleEndian.PutUint32(buf[24:28], p.SectorSize)
	binary.LittleEndian.PutUint64(buf[28:36], uint64(p.Capacity))
	return buf
}

func unpackMlogProps(buf []byte) interfaces.MlogProps {
	return interfaces.MlogProps{
		ObjID:      binary.LittleEndian.Uint64(buf[0:8]),
		Class:      interfaces.MediaClass(binary.LittleEndian.Uint32(buf[8:12])),
		Gen:        binary.LittleEndian.Uint64(buf[12:20]),
		Totsec:     binary.LittleEndian.Uint32(buf[20:24]),
		SectorSize: binary.LittleEndian.Uint32(buf[24:28]),
		Capacity:   int64(binary.LittleEndian.Uint64(buf[28:36])),
	}
}

func packPoolParams(p interfaces.PoolParams) []byte {
	buf := make([]byte, poolParamsWireSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(p.UID))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(p.GID))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(p.Mode))
	binary.LittleEndian.PutUint64(buf[24:32], p.SpareCap)
	binary.LittleEndian.PutUint64(buf[32:40], p.SpareStg)
	binary.LittleEndian.PutUint64(buf[40:48], uint64(p.RaPagesMax))
	binary.LittleEndian.PutUint64(buf[48:56], p.MDC0Cap)
	binary.LittleEndian.PutUint64(buf[56:64], p.MDCnCap)
	binary.LittleEndian.PutUint32(buf[64:68], p.MDCnum)
	label := []byte(p.Label)
	if len(label) > interfaces.MDCLabelLen {
		label = label[:interfaces.MDCLabelLen]
	}
	copy(buf[68:68+interfaces.MDCLabelLen], label)
	binary.LittleEndian.PutUint64(buf[100:108], uint64(p.MblockSz[interfaces.ClassCapacity]))
	binary.LittleEndian.PutUint64(buf[108:116], uint64(p.MblockSz[interfaces.ClassStaging]))
	return buf
}

func unpackPoolParams(buf []byte) interfaces.PoolParams {
	labelEnd := 68 + interfaces.MDCLabelLen
	label := buf[68:labelEnd]
	n := 0
	for n < len(label) && label[n] != 0 {
		n++
	}
	return interfaces.PoolParams{
		UID:        int64(binary.LittleEndian.Uint64(buf[0:8])),
		GID:        int64(binary.LittleEndian.Uint64(buf[8:16])),
		Mode:       int64(binary.LittleEndian.Uint64(buf[16:24])),
		SpareCap:   binary.LittleEndian.Uint64(buf[24:32]),
		SpareStg:   binary.LittleEndian.Uint64(buf[32:40]),
		RaPagesMax: int64(binary.LittleEndian.Uint64(buf[40:48])),
		MDC0Cap:    binary.LittleEndian.Uint64(buf[48:56]),
		MDCnCap:    binary.LittleEndian.Uint64(buf[56:64]),
		MDCnum:     binary.LittleEndian.Uint32(buf[64:68]),
		Label:      string(label[:n]),
		MblockSz: map[interfaces.MediaClass]int64{
			interfaces.ClassCapacity: int64(binary.LittleEndian.Uint64(buf[100:108])),
			interfaces.ClassStaging:  int64(binary.LittleEndian.Uint64(buf[108:116])),
		},
	}
}

// packMapRequest encodes the objid list mc_map sends to the core.
func packMapRequest(objids []uint64) []byte {
	buf := make([]byte, 8*len(objids))
	for i, id := range objids {
		binary.LittleEndian.PutUint64(buf[i*8:i*8+8], id)
	}
	return buf
}

// mapResponseWireSize returns the buffer size needed for n mapped objects:
// an 8-byte token header followed by n (capacity int64) entries.
func mapResponseWireSize(n int) int {
	return 8 + n*mapEntryWireSize
}

func unpackMapInfo(buf []byte, objids []uint64) interfaces.MapInfo {
	info := interfaces.MapInfo{
		Token:      binary.LittleEndian.Uint64(buf[0:8]),
		ObjIDs:     objids,
		Capacities: make([]int64, len(objids)),
	}
	off := 8
	for i := range objids {
		info.Capacities[i] = int64(binary.LittleEndian.Uint64(buf[off : off+8]))
		off += mapEntryWireSize
	}
	return info
}
