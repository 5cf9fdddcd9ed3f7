package mpool

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
)

func TestStructuredError(t *testing.T) {
	err := NewObjError("mlog.append", 0x200, KindCapacity, "log full")
	if err.Op != "mlog.append" {
		t.Errorf("Op = %q, want mlog.append", err.Op)
	}
	if err.Kind != KindCapacity {
		t.Errorf("Kind = %q, want %q", err.Kind, KindCapacity)
	}
	want := fmt.Sprintf("mpool: log full (op=mlog.append)")
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestErrorWithErrno(t *testing.T) {
	err := NewErrnoError("mblock.read", 1, KindIO, syscall.EIO)
	if err.Errno != syscall.EIO {
		t.Errorf("Errno = %v, want EIO", err.Errno)
	}
	if !IsErrno(err, syscall.EIO) {
		t.Error("IsErrno should match EIO")
	}
}

func TestWrapErrorClassifiesErrno(t *testing.T) {
	err := WrapError("mdc.open", 0, syscall.ENOENT)
	if err.Kind != KindNotFound {
		t.Errorf("Kind = %q, want %q", err.Kind, KindNotFound)
	}
	if err.Errno != syscall.ENOENT {
		t.Errorf("Errno = %v, want ENOENT", err.Errno)
	}
}

func TestWrapErrorPreservesStructuredInner(t *testing.T) {
	inner := NewError("mlog.read_next", KindOverflow, "buffer too small")
	outer := WrapError("mdc.read", 7, inner)
	if outer.Kind != KindOverflow {
		t.Errorf("Kind = %q, want %q", outer.Kind, KindOverflow)
	}
	if outer.ObjID != 7 {
		t.Errorf("ObjID = %d, want 7", outer.ObjID)
	}
}

func TestWrapErrorNil(t *testing.T) {
	if WrapError("op", 0, nil) != nil {
		t.Error("WrapError(nil) should return nil")
	}
}

func TestIsKind(t *testing.T) {
	err := NewError("handle.acquire", KindResourceExhaustion, "no space")
	if !IsKind(err, KindResourceExhaustion) {
		t.Error("IsKind should match KindResourceExhaustion")
	}
	if IsKind(err, KindNotFound) {
		t.Error("IsKind should not match KindNotFound")
	}
}

func TestErrorsIsByKind(t *testing.T) {
	err := NewError("mlog.open", KindMalformedData, "cstart without cend")
	target := &Error{Kind: KindMalformedData}
	if !errors.Is(err, target) {
		t.Error("errors.Is should match on Kind")
	}
}

func TestErrorReportString(t *testing.T) {
	r := ErrorReport{Code: ErrReportMagic}
	if r.String() != "bad magic" {
		t.Errorf("String() = %q, want %q", r.String(), "bad magic")
	}

	r2 := ErrorReport{Code: ErrReportErrmsg, Msg: "custom failure"}
	if r2.String() != "custom failure" {
		t.Errorf("String() = %q, want %q", r2.String(), "custom failure")
	}
}

func TestKindForReport(t *testing.T) {
	cases := map[ErrorReportCode]Kind{
		ErrReportParm:   KindInvalidArgument,
		ErrReportMPNoDev: KindNotFound,
		ErrReportMagic:  KindMalformedData,
		ErrReportEnomem: KindResourceExhaustion,
		ErrReportDevrw:  KindIO,
	}
	for code, want := range cases {
		if got := kindForReport(code); got != want {
			t.Errorf("kindForReport(%d) = %q, want %q", code, got, want)
		}
	}
}
