// Package ring: minimal pure-Go URING_CMD implementation. NewRing always
// returns this ring, whatever the build tags.
package ring

import (
	"encoding/binary"
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/hse-project/go-mpool/internal/logging"
	"github.com/hse-project/go-mpool/internal/proto"
)

const (
	__NR_io_uring_setup = 425
	__NR_io_uring_enter = 426
)

const (
	IORING_OP_URING_CMD = 46

	IORING_SETUP_SQE128 = 1 << 10
	IORING_SETUP_CQE32  = 1 << 11
)

// DefaultControlDevice is the control-channel path used when a Config does
// not specify DevicePath.
const DefaultControlDevice = "/dev/mpool-ctl"

// sqe128 is the 128-byte SQE layout needed for URING_CMD.
type sqe128 struct {
	opcode      uint8
	flags       uint8
	ioprio      uint16
	fd          int32
	off         uint64
	addr        uint64
	len         uint32
	opcodeFlags uint32
	userData    uint64
	bufIndex    uint16
	personality uint16
	spliceOff   int32
	addr3       uint64
	_           uint64
	cmd         [80]byte
}

// cqe32 is the 32-byte CQE layout.
type cqe32 struct {
	userData uint64
	res      int32
	flags    uint32
	bigCQE   [16]uint8
}

type ioUringParams struct {
	sqEntries    uint32
	cqEntries    uint32
	flags        uint32
	sqThreadCpu  uint32
	sqThreadIdle uint32
	features     uint32
	wqFd         uint32
	resv         [3]uint32
	sqOff        struct {
		head, tail, ringMask, ringEntries, flags, dropped, array, resv1 uint32
		userAddr                                                        uint64
	}
	cqOff struct {
		head, tail, ringMask, ringEntries, overflow, cqes, flags, resv1 uint32
		userAddr                                                        uint64
	}
}

// minimalRing implements Ring with raw io_uring_setup/io_uring_enter
// syscalls and manual SQ/CQ ring manipulation, no cgo and no external ring
// library required.
type minimalRing struct {
	fd         int
	devicePath string
	params     ioUringParams
	sqAddr     unsafe.Pointer
	cqAddr     unsafe.Pointer
}

// NewMinimalRing creates the pure-Go ring. devicePath selects the control
// channel to submit URING_CMD operations against; pass "" for the default.
func NewMinimalRing(entries uint32, devicePath string) (Ring, error) {
	if devicePath == "" {
		devicePath = DefaultControlDevice
	}
	logger := logging.Default()
	logger.Debug("creating minimal io_uring", "entries", entries, "device", devicePath)

	params := ioUringParams{
		sqEntries: entries,
		cqEntries: entries * 2,
		flags:     IORING_SETUP_SQE128 | IORING_SETUP_CQE32,
	}

	ringFd, _, errno := syscall.Syscall(unix.SYS_IO_URING_SETUP,
		uintptr(entries), uintptr(unsafe.Pointer(&params)), 0)
	if errno != 0 {
		logger.Error("io_uring_setup failed", "errno", errno)
		return nil, fmt.Errorf("io_uring_setup failed: %v", errno)
	}

	sqSize := params.sqOff.array + params.sqEntries*4
	cqSize := params.cqOff.cqes + params.cqEntries*uint32(unsafe.Sizeof(cqe32{}))

	sqAddr, err := unix.Mmap(int(ringFd), 0, int(sqSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		syscall.Close(int(ringFd))
		return nil, fmt.Errorf("failed to mmap SQ: %v", err)
	}

	cqAddr, err := unix.Mmap(int(ringFd), 0x8000000, int(cqSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Munmap(sqAddr)
		syscall.Close(int(ringFd))
		return nil, fmt.Errorf("failed to mmap CQ: %v", err)
	}

	return &minimalRing{
		fd:         int(ringFd),
		devicePath: devicePath,
		params:     params,
		sqAddr:     unsafe.Pointer(&sqAddr[0]),
		cqAddr:     unsafe.Pointer(&cqAddr[0]),
	}, nil
}

func (r *minimalRing) Close() error {
	return syscall.Close(r.fd)
}

type minimalResult struct {
	userData uint64
	value    int32
	err      error
}

func (res *minimalResult) UserData() uint64 { return res.userData }
func (res *minimalResult) Value() int32     { return res.value }
func (res *minimalResult) Error() error      { return res.err }

func (r *minimalRing) buildSQE(fd int32, cmd uint32, payload []byte, userData uint64) *sqe128 {
	sqe := &sqe128{
		opcode:   IORING_OP_URING_CMD,
		fd:       fd,
		userData: userData,
	}
	binary.LittleEndian.PutUint32(sqe.cmd[0:4], cmd)
	copy(sqe.cmd[4:], payload)
	return sqe
}

func (r *minimalRing) openControlDevice() (int, error) {
	fd, err := syscall.Open(r.devicePath, syscall.O_RDWR, 0)
	if err != nil {
		return -1, fmt.Errorf("failed to open control device %s: %v", r.devicePath, err)
	}
	return fd, nil
}

func (r *minimalRing) SubmitCtrlCmd(cmd uint32, ctrlCmd *proto.CtrlCmd, userData uint64) (Result, error) {
	logger := logging.Default()
	logger.Debug("preparing URING_CMD", "cmd", cmd, "objid", ctrlCmd.ObjID)

	controlFd, err := r.openControlDevice()
	if err != nil {
		logger.Error("failed to open control device", "error", err)
		return nil, err
	}
	defer syscall.Close(controlFd)

	sqe := r.buildSQE(int32(controlFd), cmd, proto.MarshalCtrlCmd(ctrlCmd), userData)

	result, err := r.submitAndWait(sqe)
	if err != nil {
		return nil, fmt.Errorf("failed to submit control command: %v", err)
	}
	return result, nil
}

func (r *minimalRing) SubmitCtrlCmdAsync(cmd uint32, ctrlCmd *proto.CtrlCmd, userData uint64) (*AsyncHandle, error) {
	controlFd, err := r.openControlDevice()
	if err != nil {
		return nil, err
	}
	defer syscall.Close(controlFd)

	sqe := r.buildSQE(int32(controlFd), cmd, proto.MarshalCtrlCmd(ctrlCmd), userData)
	if err := r.enqueue(sqe); err != nil {
		return nil, err
	}
	return &AsyncHandle{UserData: userData}, nil
}

func (r *minimalRing) PrepareIOCmd(cmd uint32, ioCmd *proto.IOCmd, userData uint64) error {
	controlFd, err := r.openControlDevice()
	if err != nil {
		return err
	}
	defer syscall.Close(controlFd)

	sqe := r.buildSQE(int32(controlFd), cmd, proto.MarshalIOCmd(ioCmd), userData)
	return r.enqueue(sqe)
}

func (r *minimalRing) SubmitIOCmd(cmd uint32, ioCmd *proto.IOCmd, userData uint64) (Result, error) {
	controlFd, err := r.openControlDevice()
	if err != nil {
		return nil, err
	}
	defer syscall.Close(controlFd)

	sqe := r.buildSQE(int32(controlFd), cmd, proto.MarshalIOCmd(ioCmd), userData)
	result, err := r.submitAndWait(sqe)
	if err != nil {
		return nil, fmt.Errorf("failed to submit I/O command: %v", err)
	}
	return result, nil
}

func (r *minimalRing) FlushSubmissions() (uint32, error) {
	submitted, _, errno := r.submitAndWaitRing(0, 0)
	if errno != 0 {
		return 0, fmt.Errorf("io_uring_enter failed: %v", errno)
	}
	return submitted, nil
}

func (r *minimalRing) WaitForCompletion(timeout int) ([]Result, error) {
	results := []Result{}
	for {
		res, err := r.processCompletion()
		if err != nil {
			break
		}
		results = append(results, res)
	}
	return results, nil
}

func (r *minimalRing) NewBatch() Batch {
	return &minimalBatch{ring: r}
}

type minimalBatch struct {
	ring  *minimalRing
	cmds  []func() (Result, error)
}

func (b *minimalBatch) AddCtrlCmd(cmd uint32, ctrlCmd *proto.CtrlCmd, userData uint64) error {
	c := *ctrlCmd
	b.cmds = append(b.cmds, func() (Result, error) { return b.ring.SubmitCtrlCmd(cmd, &c, userData) })
	return nil
}

func (b *minimalBatch) AddIOCmd(cmd uint32, ioCmd *proto.IOCmd, userData uint64) error {
	c := *ioCmd
	b.cmds = append(b.cmds, func() (Result, error) { return b.ring.SubmitIOCmd(cmd, &c, userData) })
	return nil
}

func (b *minimalBatch) Submit() ([]Result, error) {
	results := make([]Result, 0, len(b.cmds))
	for _, fn := range b.cmds {
		res, err := fn()
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	b.cmds = nil
	return results, nil
}

func (b *minimalBatch) Len() int { return len(b.cmds) }

// enqueue writes sqe into the next SQ slot and advances the tail without
// calling io_uring_enter; FlushSubmissions submits everything staged.
func (r *minimalRing) enqueue(sqe *sqe128) error {
	sqHead := (*uint32)(unsafe.Add(r.sqAddr, r.params.sqOff.head))
	sqTail := (*uint32)(unsafe.Add(r.sqAddr, r.params.sqOff.tail))
	sqMask := r.params.sqEntries - 1

	if (*sqTail - *sqHead) >= r.params.sqEntries {
		return ErrRingFull
	}

	sqArray := unsafe.Add(r.sqAddr, r.params.sqOff.array)
	sqIndex := *sqTail & sqMask
	sqeSlot := unsafe.Add(r.sqAddr, uintptr(128*sqIndex))

	*(*sqe128)(sqeSlot) = *sqe
	*(*uint32)(unsafe.Add(sqArray, uintptr(4*sqIndex))) = sqIndex
	*sqTail = *sqTail + 1
	return nil
}

// submitAndWait enqueues sqe and calls io_uring_enter for one submission and
// one completion.
func (r *minimalRing) submitAndWait(sqe *sqe128) (Result, error) {
	logger := logging.Default()
	logger.Debug("submitting URING_CMD", "fd", sqe.fd, "user_data", sqe.userData)

	if err := r.enqueue(sqe); err != nil {
		return nil, err
	}

	_, _, errno := r.submitAndWaitRing(1, 1)
	if errno != 0 {
		logger.Error("io_uring_enter failed", "errno", errno)
		return nil, fmt.Errorf("io_uring_enter failed: %v", errno)
	}

	res, err := r.processCompletion()
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *minimalRing) submitAndWaitRing(toSubmit, minComplete uint32) (submitted, completed uint32, errno syscall.Errno) {
	const IORING_ENTER_GETEVENTS = 1 << 0
	flags := uint32(0)
	if minComplete > 0 {
		flags = IORING_ENTER_GETEVENTS
	}

	r1, r2, err := syscall.Syscall6(unix.SYS_IO_URING_ENTER,
		uintptr(r.fd), uintptr(toSubmit), uintptr(minComplete), uintptr(flags), 0, 0)
	return uint32(r1), uint32(r2), err
}

func (r *minimalRing) processCompletion() (Result, error) {
	logger := logging.Default()

	cqHead := (*uint32)(unsafe.Add(r.cqAddr, r.params.cqOff.head))
	cqTail := (*uint32)(unsafe.Add(r.cqAddr, r.params.cqOff.tail))

	if *cqHead == *cqTail {
		return nil, fmt.Errorf("no completions available")
	}

	cqMask := r.params.cqEntries - 1
	cqIndex := *cqHead & cqMask
	cqeSlot := unsafe.Add(r.cqAddr, uintptr(32*cqIndex))
	cqe := (*cqe32)(cqeSlot)

	logger.Debug("processing completion", "user_data", cqe.userData, "res", cqe.res)

	result := &minimalResult{userData: cqe.userData, value: cqe.res}
	if cqe.res < 0 {
		result.err = fmt.Errorf("operation failed with result: %d", cqe.res)
	}

	*cqHead = *cqHead + 1
	return result, nil
}
