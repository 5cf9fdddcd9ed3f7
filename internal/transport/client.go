package transport

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/hse-project/go-mpool/internal/interfaces"
	"github.com/hse-project/go-mpool/internal/logging"
	"github.com/hse-project/go-mpool/internal/proto"
	"github.com/hse-project/go-mpool/internal/ring"
)

// Client implements interfaces.Core by submitting proto.CtrlCmd/proto.IOCmd
// commands through a ring.Ring against the core's control device.
type Client struct {
	ring   ring.Ring
	logger *logging.Logger
}

// NewClient opens the control device named by cfg and creates the submission
// ring backing it.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.ControlDevicePath == "" {
		cfg = DefaultClientConfig()
	}

	r, err := ring.NewRing(ring.Config{
		Entries:    cfg.RingEntries,
		FD:         -1,
		DevicePath: cfg.ControlDevicePath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create control ring: %v", err)
	}

	return &Client{ring: r, logger: logging.Default()}, nil
}

func (c *Client) Close() error {
	if c.ring != nil {
		return c.ring.Close()
	}
	return nil
}

func addrOf(buf []byte) uint64 {
	if len(buf) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&buf[0])))
}

func (c *Client) submitCtrl(opcode uint32, objid, arg uint64, payload []byte) (int32, error) {
	cmd := &proto.CtrlCmd{
		ObjID:  objid,
		Arg:    arg,
		Addr:   addrOf(payload),
		Opcode: opcode,
		Len:    uint32(len(payload)),
	}
	result, err := c.ring.SubmitCtrlCmd(opcode, cmd, objid)
	if err != nil {
		return 0, err
	}
	if result.Value() < 0 {
		return result.Value(), result.Error()
	}
	return result.Value(), nil
}

func (c *Client) MbAlloc(class interfaces.MediaClass, spare bool) (uint64, interfaces.MblockProps, error) {
	var spareBit uint64
	if spare {
		spareBit = 1
	}
	buf := make([]byte, mblockPropsWireSize)
	_, err := c.submitCtrl(proto.CmdMbAlloc, 0, uint64(class)<<1|spareBit, buf)
	if err != nil {
		return 0, interfaces.MblockProps{}, fmt.Errorf("mb_alloc failed: %v", err)
	}
	props := unpackMblockProps(buf)
	return props.ObjID, props, nil
}

func (c *Client) MbCommit(objid uint64) error {
	_, err := c.submitCtrl(proto.CmdMbCommit, objid, 0, nil)
	return wrapCtrlErr("mb_commit", objid, err)
}

func (c *Client) MbAbort(objid uint64) error {
	_, err := c.submitCtrl(proto.CmdMbAbort, objid, 0, nil)
	return wrapCtrlErr("mb_abort", objid, err)
}

func (c *Client) MbDelete(objid uint64) error {
	_, err := c.submitCtrl(proto.CmdMbDelete, objid, 0, nil)
	return wrapCtrlErr("mb_delete", objid, err)
}

func (c *Client) MbGetProps(objid uint64) (interfaces.MblockProps, error) {
	buf := make([]byte, mblockPropsWireSize)
	_, err := c.submitCtrl(proto.CmdMbGetProps, objid, 0, buf)
	if err != nil {
		return interfaces.MblockProps{}, wrapCtrlErr("mb_getprops", objid, err)
	}
	return unpackMblockProps(buf), nil
}

func (c *Client) MbWrite(objid uint64, iov []byte, offset int64) error {
	ioCmd := &proto.IOCmd{ObjID: objid, Offset: offset, Addr: addrOf(iov), Len: uint32(len(iov)), Write: 1}
	result, err := c.ring.SubmitIOCmd(proto.IOOpMbWrite, ioCmd, objid)
	if err != nil {
		return fmt.Errorf("mb_write failed: %v", err)
	}
	if result.Value() < 0 {
		return fmt.Errorf("mb_write objid=%#x failed: %d", objid, result.Value())
	}
	return nil
}

func (c *Client) MbRead(objid uint64, iov []byte, offset int64) (int, error) {
	ioCmd := &proto.IOCmd{ObjID: objid, Offset: offset, Addr: addrOf(iov), Len: uint32(len(iov)), Write: 0}
	result, err := c.ring.SubmitIOCmd(proto.IOOpMbRead, ioCmd, objid)
	if err != nil {
		return 0, fmt.Errorf("mb_read failed: %v", err)
	}
	if result.Value() < 0 {
		return 0, fmt.Errorf("mb_read objid=%#x failed: %d", objid, result.Value())
	}
	return int(result.Value()), nil
}

func (c *Client) MlAlloc(class interfaces.MediaClass, capacity int64) (uint64, error) {
	buf := make([]byte, mlogPropsWireSize)
	_, err := c.submitCtrl(proto.CmdMlAlloc, 0, uint64(class), buf)
	if err != nil {
		return 0, fmt.Errorf("ml_alloc failed: %v", err)
	}
	props := unpackMlogProps(buf)
	return props.ObjID, nil
}

func (c *Client) MlCommit(objid uint64) error {
	_, err := c.submitCtrl(proto.CmdMlCommit, objid, 0, nil)
	return wrapCtrlErr("ml_commit", objid, err)
}

func (c *Client) MlAbort(objid uint64) error {
	_, err := c.submitCtrl(proto.CmdMlAbort, objid, 0, nil)
	return wrapCtrlErr("ml_abort", objid, err)
}

func (c *Client) MlDelete(objid uint64) error {
	_, err := c.submitCtrl(proto.CmdMlDelete, objid, 0, nil)
	return wrapCtrlErr("ml_delete", objid, err)
}

func (c *Client) MlErase(objid uint64, mingen uint64) error {
	_, err := c.submitCtrl(proto.CmdMlErase, objid, mingen, nil)
	return wrapCtrlErr("ml_erase", objid, err)
}

func (c *Client) MlGetProps(objid uint64) (interfaces.MlogProps, error) {
	buf := make([]byte, mlogPropsWireSize)
	_, err := c.submitCtrl(proto.CmdMlGetProps, objid, 0, buf)
	if err != nil {
		return interfaces.MlogProps{}, wrapCtrlErr("ml_getprops", objid, err)
	}
	return unpackMlogProps(buf), nil
}

func (c *Client) MlRW(objid uint64, iov []byte, offset int64, write bool) (int, error) {
	var w uint32
	if write {
		w = 1
	}
	ioCmd := &proto.IOCmd{ObjID: objid, Offset: offset, Addr: addrOf(iov), Len: uint32(len(iov)), Write: w}
	result, err := c.ring.SubmitIOCmd(proto.IOOpMlRW, ioCmd, objid)
	if err != nil {
		return 0, fmt.Errorf("ml_rw failed: %v", err)
	}
	if result.Value() < 0 {
		return 0, fmt.Errorf("ml_rw objid=%#x failed: %d", objid, result.Value())
	}
	return int(result.Value()), nil
}

func (c *Client) McMap(objids []uint64, advice interfaces.MapAdvice) (interfaces.MapInfo, error) {
	req := packMapRequest(objids)
	resp := make([]byte, mapResponseWireSize(len(objids)))
	cmd := &proto.CtrlCmd{
		Arg:    uint64(advice),
		Addr:   addrOf(resp),
		Opcode: proto.CmdMcMap,
		Len:    uint32(len(resp)),
	}
	// The request buffer's pointer travels in ObjID, the advice in Arg,
	// and the response buffer in Addr/Len.
	cmd.ObjID = addrOf(req)
	result, err := c.ring.SubmitCtrlCmd(proto.CmdMcMap, cmd, 0)
	if err != nil {
		return interfaces.MapInfo{}, fmt.Errorf("mc_map failed: %v", err)
	}
	if result.Value() < 0 {
		return interfaces.MapInfo{}, fmt.Errorf("mc_map failed: %d", result.Value())
	}
	return unpackMapInfo(resp, objids), nil
}

func (c *Client) McUnmap(token uint64) error {
	_, err := c.submitCtrl(proto.CmdMcUnmap, token, 0, nil)
	if err != nil {
		return fmt.Errorf("mc_unmap token=%#x failed: %v", token, err)
	}
	return nil
}

func (c *Client) McAdvise(token uint64, idx int, off int64, length int64, kind interfaces.MadviseKind) error {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(off))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(length))
	arg := uint64(idx)<<8 | uint64(kind)
	_, err := c.submitCtrl(proto.CmdMcAdvise, token, arg, buf)
	if err != nil {
		return fmt.Errorf("mc_advise token=%#x failed: %v", token, err)
	}
	return nil
}

func (c *Client) PoolParamsGet() (interfaces.PoolParams, error) {
	buf := make([]byte, poolParamsWireSize)
	_, err := c.submitCtrl(proto.CmdPoolParamsGet, 0, 0, buf)
	if err != nil {
		return interfaces.PoolParams{}, fmt.Errorf("pool_params_get failed: %v", err)
	}
	return unpackPoolParams(buf), nil
}

func wrapCtrlErr(op string, objid uint64, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s objid=%#x failed: %v", op, objid, err)
}

var _ interfaces.Core = (*Client)(nil)
