package mpool

import (
	"errors"
	"fmt"
	"syscall"
)

// Kind is the error taxonomy from the pool's error handling design: a small,
// closed set of categories a caller can branch on, independent of the
// human-readable message.
type Kind string

const (
	KindInvalidArgument    Kind = "invalid argument"
	KindNotFound           Kind = "not found"
	KindMalformedData      Kind = "malformed data"
	KindCapacity           Kind = "capacity"
	KindTransient          Kind = "transient"
	KindIO                 Kind = "I/O"
	KindResourceExhaustion Kind = "resource exhaustion"
	KindState              Kind = "state"
	KindOverflow           Kind = "overflow"
	KindSoftwareBug        Kind = "software bug"
)

// Error is the structured error returned by every fallible call in this
// module. ObjID is zero when the operation is not object-scoped.
type Error struct {
	Op    string // operation that failed, e.g. "mlog.append"
	Kind  Kind
	ObjID uint64
	Msg   string
	Errno syscall.Errno // 0 if not applicable
	Inner error
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.ObjID != 0 {
		parts = append(parts, fmt.Sprintf("objid=%#x", e.ObjID))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("mpool: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("mpool: %s", msg)
}

func (e *Error) Unwrap() error { return e.Inner }

// Is reports equality of error kind so that errors.Is(err, &Error{Kind: ...})
// matches independent of message or objid.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == te.Kind
}

// NewError builds an error not tied to any object.
func NewError(op string, kind Kind, msg string) *Error {
	return &Error{Op: op, Kind: kind, Msg: msg}
}

// NewObjError builds an error tied to a specific object identifier.
func NewObjError(op string, objid uint64, kind Kind, msg string) *Error {
	return &Error{Op: op, ObjID: objid, Kind: kind, Msg: msg}
}

// NewErrnoError builds an error carrying a kernel errno, classified by kind.
func NewErrnoError(op string, objid uint64, kind Kind, errno syscall.Errno) *Error {
	return &Error{Op: op, ObjID: objid, Kind: kind, Errno: errno, Msg: errno.Error()}
}

// WrapError attaches op/objid context to an arbitrary inner error, classifying
// syscall.Errno values by kind and defaulting everything else to I/O.
func WrapError(op string, objid uint64, inner error) *Error {
	if inner == nil {
		return nil
	}
	if me, ok := inner.(*Error); ok {
		return &Error{Op: op, ObjID: objid, Kind: me.Kind, Errno: me.Errno, Msg: me.Msg, Inner: me.Inner}
	}
	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{Op: op, ObjID: objid, Kind: mapErrnoToKind(errno), Errno: errno, Msg: errno.Error(), Inner: inner}
	}
	return &Error{Op: op, ObjID: objid, Kind: KindIO, Msg: inner.Error(), Inner: inner}
}

func mapErrnoToKind(errno syscall.Errno) Kind {
	switch errno {
	case syscall.ENOENT:
		return KindNotFound
	case syscall.EBUSY, syscall.EAGAIN:
		return KindTransient
	case syscall.EINVAL, syscall.E2BIG:
		return KindInvalidArgument
	case syscall.ENOMEM, syscall.ENOSPC:
		return KindResourceExhaustion
	case syscall.EFBIG:
		return KindCapacity
	default:
		return KindIO
	}
}

// IsKind reports whether err (or any error it wraps) is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind == k
	}
	return false
}

// IsErrno reports whether err (or any error it wraps) carries the given
// errno.
func IsErrno(err error, errno syscall.Errno) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Errno == errno
	}
	return false
}

// ErrorReportCode enumerates the device error report rcode from the core's
// RPC contract (spec §6). ERRMSG means the human-readable string lives in
// the report's Msg field; otherwise a well-known string is derived from the
// code itself.
type ErrorReportCode uint32

const (
	ErrReportNone ErrorReportCode = iota
	ErrReportErrmsg
	ErrReportOpen
	ErrReportParm
	ErrReportMagic
	ErrReportStat
	ErrReportEnomem
	ErrReportDevrw
	ErrReportNotActivated
	ErrReportDevActivated
	ErrReportMPNoDev
	ErrReportInvalDev
	ErrReportMPExist
	ErrReportEntNamInv
)

var errorReportStrings = map[ErrorReportCode]string{
	ErrReportNone:         "no error",
	ErrReportOpen:         "open failed",
	ErrReportParm:         "invalid parameter",
	ErrReportMagic:        "bad magic",
	ErrReportStat:         "stat failed",
	ErrReportEnomem:       "out of memory",
	ErrReportDevrw:        "device read/write failure",
	ErrReportNotActivated: "pool not activated",
	ErrReportDevActivated: "device already activated",
	ErrReportMPNoDev:      "no such device",
	ErrReportInvalDev:     "invalid device",
	ErrReportMPExist:      "pool already exists",
	ErrReportEntNamInv:    "invalid entity name",
}

// ErrorReport mirrors the core's structured error report: a code, an
// argument-offset location hint, and (for ERRMSG) a human-readable message.
type ErrorReport struct {
	Code   ErrorReportCode
	Offset int64
	Msg    string
}

// String renders the report's message: the report's own Msg for ERRMSG,
// otherwise the well-known string for Code.
func (r ErrorReport) String() string {
	if r.Code == ErrReportErrmsg {
		return r.Msg
	}
	if s, ok := errorReportStrings[r.Code]; ok {
		return s
	}
	return fmt.Sprintf("unknown error report code %d", r.Code)
}

// kindForReport maps a core error report code onto this library's Kind
// taxonomy, used when translating a transport-level failure into an *Error.
func kindForReport(code ErrorReportCode) Kind {
	switch code {
	case ErrReportParm, ErrReportInvalDev, ErrReportEntNamInv:
		return KindInvalidArgument
	case ErrReportMPNoDev:
		return KindNotFound
	case ErrReportMagic:
		return KindMalformedData
	case ErrReportEnomem:
		return KindResourceExhaustion
	case ErrReportDevrw:
		return KindIO
	case ErrReportNotActivated, ErrReportDevActivated, ErrReportMPExist, ErrReportStat, ErrReportOpen:
		return KindState
	default:
		return KindIO
	}
}
