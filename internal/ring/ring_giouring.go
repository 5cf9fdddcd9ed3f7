//go:build giouring
// +build giouring

// Package ring: real io_uring backend using github.com/pawelgaczynski/giouring.
package ring

import (
	"fmt"

	giouring "github.com/pawelgaczynski/giouring"

	"github.com/hse-project/go-mpool/internal/proto"
)

// gioRing implements Ring using a real io_uring instance.
type gioRing struct {
	ring *giouring.Ring
	cfg  Config
}

type gioResult struct {
	userData uint64
	value    int32
	err      error
}

func (r *gioResult) UserData() uint64 { return r.userData }
func (r *gioResult) Value() int32     { return r.value }
func (r *gioResult) Error() error     { return r.err }

// NewRealRing creates the giouring-backed ring, requesting SQE128/CQE32 so a
// full CtrlCmd/IOCmd struct fits in the command area.
func NewRealRing(config Config) (Ring, error) {
	params := giouring.IOURingParams{
		Flags: giouring.SetupSQE128 | giouring.SetupCQE32,
	}
	r, err := giouring.CreateRingParams(config.Entries, &params)
	if err != nil {
		return nil, fmt.Errorf("failed to create io_uring: %v", err)
	}
	return &gioRing{ring: r, cfg: config}, nil
}

func (r *gioRing) Close() error {
	if r.ring != nil {
		r.ring.QueueExit()
	}
	return nil
}

func (r *gioRing) prepUringCmd(fd int32, cmd uint32, payload []byte, userData uint64) error {
	sqe := r.ring.GetSQE()
	if sqe == nil {
		return ErrRingFull
	}
	sqe.PrepareRW(giouring.OpUringCmd, fd, uint64(cmd), uint32(len(payload)), 0)
	sqe.UserData = userData
	copy(sqe.CmdData(), payload)
	return nil
}

func (r *gioRing) submitAndReap(userData uint64) (Result, error) {
	if _, err := r.ring.SubmitAndWait(1); err != nil {
		return nil, fmt.Errorf("submit failed: %v", err)
	}
	cqe, err := r.ring.WaitCQE()
	if err != nil {
		return nil, fmt.Errorf("wait cqe failed: %v", err)
	}
	defer r.ring.CQESeen(cqe)

	res := &gioResult{userData: cqe.UserData, value: cqe.Res}
	if cqe.Res < 0 {
		res.err = fmt.Errorf("operation failed with result: %d", cqe.Res)
	}
	return res, nil
}

func (r *gioRing) SubmitCtrlCmd(cmd uint32, ctrlCmd *proto.CtrlCmd, userData uint64) (Result, error) {
	if err := r.prepUringCmd(r.cfg.FD, cmd, proto.MarshalCtrlCmd(ctrlCmd), userData); err != nil {
		return nil, err
	}
	return r.submitAndReap(userData)
}

func (r *gioRing) SubmitCtrlCmdAsync(cmd uint32, ctrlCmd *proto.CtrlCmd, userData uint64) (*AsyncHandle, error) {
	if err := r.prepUringCmd(r.cfg.FD, cmd, proto.MarshalCtrlCmd(ctrlCmd), userData); err != nil {
		return nil, err
	}
	if _, err := r.ring.Submit(); err != nil {
		return nil, fmt.Errorf("submit failed: %v", err)
	}
	return &AsyncHandle{UserData: userData}, nil
}

func (r *gioRing) PrepareIOCmd(cmd uint32, ioCmd *proto.IOCmd, userData uint64) error {
	return r.prepUringCmd(r.cfg.FD, cmd, proto.MarshalIOCmd(ioCmd), userData)
}

func (r *gioRing) SubmitIOCmd(cmd uint32, ioCmd *proto.IOCmd, userData uint64) (Result, error) {
	if err := r.prepUringCmd(r.cfg.FD, cmd, proto.MarshalIOCmd(ioCmd), userData); err != nil {
		return nil, err
	}
	return r.submitAndReap(userData)
}

func (r *gioRing) FlushSubmissions() (uint32, error) {
	n, err := r.ring.Submit()
	if err != nil {
		return 0, fmt.Errorf("submit failed: %v", err)
	}
	return uint32(n), nil
}

func (r *gioRing) WaitForCompletion(timeout int) ([]Result, error) {
	var results []Result
	for {
		cqe, err := r.ring.PeekCQE()
		if err != nil || cqe == nil {
			break
		}
		res := &gioResult{userData: cqe.UserData, value: cqe.Res}
		if cqe.Res < 0 {
			res.err = fmt.Errorf("operation failed with result: %d", cqe.Res)
		}
		r.ring.CQESeen(cqe)
		results = append(results, res)
	}
	return results, nil
}

func (r *gioRing) NewBatch() Batch {
	return &gioBatch{ring: r}
}

type gioBatch struct {
	ring     *gioRing
	userData []uint64
}

func (b *gioBatch) AddCtrlCmd(cmd uint32, ctrlCmd *proto.CtrlCmd, userData uint64) error {
	if err := b.ring.prepUringCmd(b.ring.cfg.FD, cmd, proto.MarshalCtrlCmd(ctrlCmd), userData); err != nil {
		return err
	}
	b.userData = append(b.userData, userData)
	return nil
}

func (b *gioBatch) AddIOCmd(cmd uint32, ioCmd *proto.IOCmd, userData uint64) error {
	if err := b.ring.prepUringCmd(b.ring.cfg.FD, cmd, proto.MarshalIOCmd(ioCmd), userData); err != nil {
		return err
	}
	b.userData = append(b.userData, userData)
	return nil
}

func (b *gioBatch) Submit() ([]Result, error) {
	n := len(b.userData)
	if n == 0 {
		return nil, nil
	}
	if _, err := b.ring.ring.SubmitAndWait(uint32(n)); err != nil {
		return nil, fmt.Errorf("batch submit failed: %v", err)
	}
	results := make([]Result, 0, n)
	for i := 0; i < n; i++ {
		cqe, err := b.ring.ring.WaitCQE()
		if err != nil {
			return results, fmt.Errorf("batch wait cqe failed: %v", err)
		}
		res := &gioResult{userData: cqe.UserData, value: cqe.Res}
		if cqe.Res < 0 {
			res.err = fmt.Errorf("operation failed with result: %d", cqe.Res)
		}
		b.ring.ring.CQESeen(cqe)
		results = append(results, res)
	}
	b.userData = nil
	return results, nil
}

func (b *gioBatch) Len() int { return len(b.userData) }
