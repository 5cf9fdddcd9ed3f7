// Package ring provides the submission/completion queue abstraction the
// transport client uses to talk to the pool core's control channel.
package ring

import (
	"errors"

	"github.com/hse-project/go-mpool/internal/logging"
	"github.com/hse-project/go-mpool/internal/proto"
)

// ErrRingFull is returned when the submission queue is full. The ring is
// never grown; the transport client passes the failure back to its caller
// without retrying.
var ErrRingFull = errors.New("submission queue full")

// Ring is the interface for the operations the transport client needs:
// submitting control commands and batching bulk I/O commands.
type Ring interface {
	Close() error

	// SubmitCtrlCmd submits a control command and waits for its result.
	SubmitCtrlCmd(cmd uint32, ctrlCmd *proto.CtrlCmd, userData uint64) (Result, error)

	// SubmitCtrlCmdAsync submits a control command without waiting.
	SubmitCtrlCmdAsync(cmd uint32, ctrlCmd *proto.CtrlCmd, userData uint64) (*AsyncHandle, error)

	// SubmitIOCmd submits a bulk I/O command and waits for its result. This
	// is a convenience wrapper around PrepareIOCmd + FlushSubmissions.
	SubmitIOCmd(cmd uint32, ioCmd *proto.IOCmd, userData uint64) (Result, error)

	// PrepareIOCmd stages an I/O command without submitting it to the
	// kernel, so several can be flushed in a single io_uring_enter.
	// Returns ErrRingFull if the submission queue is full.
	PrepareIOCmd(cmd uint32, ioCmd *proto.IOCmd, userData uint64) error

	// FlushSubmissions submits all staged SQEs in one syscall and returns
	// the number submitted.
	FlushSubmissions() (uint32, error)

	// WaitForCompletion returns the completions already available. The
	// backends in this package do not block and ignore timeout.
	WaitForCompletion(timeout int) ([]Result, error)

	// NewBatch creates a batch for bulk preparation.
	NewBatch() Batch
}

// AsyncHandle tracks an in-flight async control command submitted via
// SubmitCtrlCmdAsync; its result arrives through a later WaitForCompletion.
type AsyncHandle struct {
	UserData uint64
}

// Batch allows assembling several commands before submitting them together.
type Batch interface {
	AddCtrlCmd(cmd uint32, ctrlCmd *proto.CtrlCmd, userData uint64) error
	AddIOCmd(cmd uint32, ioCmd *proto.IOCmd, userData uint64) error
	Submit() ([]Result, error)
	Len() int
}

// Result is the outcome of one submitted command.
type Result interface {
	UserData() uint64
	Value() int32 // 0 on success, negative errno on failure
	Error() error
}

// Features describes the io_uring capabilities a ring backend exposes.
type Features struct {
	SQE128   bool
	CQE32    bool
	UringCmd bool
	SQPOLL   bool
}

// SupportsFeatures always returns nil; it does not probe the host for the
// features this package's default ring needs.
func SupportsFeatures() error {
	return nil
}

// GetFeatures returns the fixed feature set the default ring backend
// assumes; it does not probe the host.
func GetFeatures() (Features, error) {
	return Features{SQE128: true, CQE32: true, UringCmd: true, SQPOLL: false}, nil
}

// Config configures a new Ring.
type Config struct {
	Entries    uint32
	FD         int32
	Flags      uint32
	DevicePath string // control-channel path, e.g. "/dev/mpool-ctl"
}

// NewRing creates the pure-Go minimal ring backend (no cgo, no giouring)
// in every build. The giouring-backed ring is created only through
// NewRealRing, in builds with -tags giouring.
func NewRing(config Config) (Ring, error) {
	logger := logging.Default()
	logger.Debug("creating control ring", "entries", config.Entries, "fd", config.FD)

	r, err := NewMinimalRing(config.Entries, config.DevicePath)
	if err != nil {
		logger.Error("failed to create control ring", "error", err)
		return nil, err
	}

	logger.Info("created control ring", "entries", config.Entries)
	return r, nil
}
