package transport

import (
	"testing"

	"github.com/hse-project/go-mpool/internal/interfaces"
)

func TestDefaultClientConfig(t *testing.T) {
	cfg := DefaultClientConfig()

	if cfg.ControlDevicePath != "/dev/mpool-ctl" {
		t.Errorf("ControlDevicePath = %q, want /dev/mpool-ctl", cfg.ControlDevicePath)
	}
	if cfg.RingEntries != 32 {
		t.Errorf("RingEntries = %d, want 32", cfg.RingEntries)
	}
}

func TestMblockPropsRoundTrip(t *testing.T) {
	want := interfaces.MblockProps{
		ObjID:        0x142,
		Class:        interfaces.ClassStaging,
		Capacity:     1 << 20,
		WriteLen:     4096,
		OptWriteSize: 512,
		Committed:    true,
	}

	got := unpackMblockProps(packMblockProps(want))
	if got != want {
		t.Errorf("round-trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestMlogPropsRoundTrip(t *testing.T) {
	want := interfaces.MlogProps{
		ObjID:      0x242,
		Class:      interfaces.ClassCapacity,
		Gen:        7,
		Totsec:     16,
		SectorSize: 4096,
		Capacity:   16 * 4096,
	}

	got := unpackMlogProps(packMlogProps(want))
	if got != want {
		t.Errorf("round-trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestPoolParamsRoundTrip(t *testing.T) {
	want := interfaces.PoolParams{
		UID:        1000,
		GID:        1000,
		Mode:       0755,
		SpareCap:   5,
		SpareStg:   10,
		RaPagesMax: 128,
		MDC0Cap:    1 << 20,
		MDCnCap:    1 << 20,
		MDCnum:     4,
		Label:      "mypool",
		MblockSz: map[interfaces.MediaClass]int64{
			interfaces.ClassCapacity: 32 << 20,
			interfaces.ClassStaging:  32 << 20,
		},
	}

	got := unpackPoolParams(packPoolParams(want))
	if got != want {
		t.Errorf("round-trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestPoolParamsLabelTruncation(t *testing.T) {
	long := make([]byte, interfaces.MDCLabelLen+10)
	for i := range long {
		long[i] = 'x'
	}

	p := interfaces.PoolParams{Label: string(long), MblockSz: map[interfaces.MediaClass]int64{}}
	got := unpackPoolParams(packPoolParams(p))

	if len(got.Label) != interfaces.MDCLabelLen {
		t.Errorf("label length = %d, want %d", len(got.Label), interfaces.MDCLabelLen)
	}
}

func TestMapInfoRoundTrip(t *testing.T) {
	objids := []uint64{0x142, 0x242, 0x342}
	caps := []int64{4096, 8192, 16384}

	buf := make([]byte, mapResponseWireSize(len(objids)))
	buf[0] = 0xaa // token low byte
	for i, c := range caps {
		off := 8 + i*mapEntryWireSize
		for b := 0; b < 8; b++ {
			buf[off+b] = byte(c >> (8 * b))
		}
	}

	info := unpackMapInfo(buf, objids)
	if len(info.Capacities) != len(objids) {
		t.Fatalf("got %d capacities, want %d", len(info.Capacities), len(objids))
	}
	for i, c := range caps {
		if info.Capacities[i] != c {
			t.Errorf("capacity[%d] = %d, want %d", i, info.Capacities[i], c)
		}
	}
}

func TestClientSatisfiesCore(t *testing.T) {
	var _ interfaces.Core = (*Client)(nil)
}
