package memcore

import (
	"testing"

	"github.com/hse-project/go-mpool/internal/interfaces"
)

func testParams() interfaces.PoolParams {
	return interfaces.PoolParams{
		MblockSz: map[interfaces.MediaClass]int64{
			interfaces.ClassCapacity: 1024,
			interfaces.ClassStaging:  1024,
		},
	}
}

func TestMbAllocWriteCommit(t *testing.T) {
	c := New(testParams())

	objid, props, err := c.MbAlloc(interfaces.ClassCapacity, false)
	if err != nil {
		t.Fatalf("MbAlloc failed: %v", err)
	}
	if props.Committed {
		t.Error("freshly allocated mblock should not be committed")
	}

	data := []byte("hello, mpool!")
	if err := c.MbWrite(objid, data, 0); err != nil {
		t.Fatalf("MbWrite failed: %v", err)
	}

	if err := c.MbCommit(objid); err != nil {
		t.Fatalf("MbCommit failed: %v", err)
	}

	readBuf := make([]byte, len(data))
	n, err := c.MbRead(objid, readBuf, 0)
	if err != nil {
		t.Fatalf("MbRead failed: %v", err)
	}
	if n != len(data) {
		t.Errorf("MbRead read %d bytes, want %d", n, len(data))
	}
	if string(readBuf) != string(data) {
		t.Errorf("MbRead got %q, want %q", readBuf, data)
	}
}

func TestMbWriteAfterCommitFails(t *testing.T) {
	c := New(testParams())
	objid, _, _ := c.MbAlloc(interfaces.ClassCapacity, false)

	if err := c.MbCommit(objid); err != nil {
		t.Fatalf("MbCommit failed: %v", err)
	}

	if err := c.MbWrite(objid, []byte("x"), 0); err == nil {
		t.Error("write to committed mblock should fail")
	}
}

func TestMbWriteBeyondCapacityFails(t *testing.T) {
	c := New(testParams())
	objid, _, _ := c.MbAlloc(interfaces.ClassCapacity, false)

	big := make([]byte, 2048)
	if err := c.MbWrite(objid, big, 0); err == nil {
		t.Error("write beyond mblock capacity should fail")
	}
}

func TestMbAbortThenDeleted(t *testing.T) {
	c := New(testParams())
	objid, _, _ := c.MbAlloc(interfaces.ClassCapacity, false)

	if err := c.MbAbort(objid); err != nil {
		t.Fatalf("MbAbort failed: %v", err)
	}

	if _, err := c.MbGetProps(objid); err == nil {
		t.Error("aborted mblock should no longer be reachable")
	}
}

func TestMlAllocRWErase(t *testing.T) {
	c := New(testParams())

	objid, err := c.MlAlloc(interfaces.ClassCapacity, 4096)
	if err != nil {
		t.Fatalf("MlAlloc failed: %v", err)
	}

	n, err := c.MlRW(objid, []byte("record-1"), 0, true)
	if err != nil {
		t.Fatalf("MlRW write failed: %v", err)
	}
	if n != len("record-1") {
		t.Errorf("wrote %d bytes, want %d", n, len("record-1"))
	}

	props, err := c.MlGetProps(objid)
	if err != nil {
		t.Fatalf("MlGetProps failed: %v", err)
	}
	if props.Gen != 1 {
		t.Errorf("Gen = %d, want 1", props.Gen)
	}

	if err := c.MlErase(objid, 1); err != nil {
		t.Fatalf("MlErase failed: %v", err)
	}

	props, _ = c.MlGetProps(objid)
	if props.Gen != 2 {
		t.Errorf("Gen after erase = %d, want 2", props.Gen)
	}
}

func TestMlEraseBelowCurrentGenFails(t *testing.T) {
	c := New(testParams())
	objid, _ := c.MlAlloc(interfaces.ClassCapacity, 4096)

	if err := c.MlErase(objid, 5); err != nil {
		t.Fatalf("MlErase failed: %v", err)
	}
	if err := c.MlErase(objid, 1); err == nil {
		t.Error("erase with a generation below current should fail")
	}
}

func TestMcMapUnmap(t *testing.T) {
	c := New(testParams())
	id1, _, _ := c.MbAlloc(interfaces.ClassCapacity, false)
	id2, _, _ := c.MbAlloc(interfaces.ClassCapacity, false)

	info, err := c.McMap([]uint64{id1, id2}, interfaces.AdviceWarm)
	if err != nil {
		t.Fatalf("McMap failed: %v", err)
	}
	if len(info.Capacities) != 2 {
		t.Fatalf("got %d capacities, want 2", len(info.Capacities))
	}

	if err := c.McAdvise(info.Token, 0, 0, 512, interfaces.MadviseWillNeed); err != nil {
		t.Fatalf("McAdvise failed: %v", err)
	}

	if err := c.McUnmap(info.Token); err != nil {
		t.Fatalf("McUnmap failed: %v", err)
	}

	if err := c.McUnmap(info.Token); err == nil {
		t.Error("double unmap should fail")
	}
}

func TestPoolParamsGet(t *testing.T) {
	want := testParams()
	want.Label = "testpool"
	c := New(want)

	got, err := c.PoolParamsGet()
	if err != nil {
		t.Fatalf("PoolParamsGet failed: %v", err)
	}
	if got.Label != "testpool" {
		t.Errorf("Label = %q, want testpool", got.Label)
	}
}

func TestObjIDEncodesType(t *testing.T) {
	c := New(testParams())
	mbID, _, _ := c.MbAlloc(interfaces.ClassCapacity, false)
	mlID, _ := c.MlAlloc(interfaces.ClassCapacity, 4096)

	if interfaces.ObjIDType(mbID) != interfaces.ObjTypeMblock {
		t.Errorf("mblock objid type = %d, want %d", interfaces.ObjIDType(mbID), interfaces.ObjTypeMblock)
	}
	if interfaces.ObjIDType(mlID) != interfaces.ObjTypeMlog {
		t.Errorf("mlog objid type = %d, want %d", interfaces.ObjIDType(mlID), interfaces.ObjTypeMlog)
	}
}
