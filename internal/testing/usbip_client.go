package testing

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Alia5/VNETIP/usbip"
)

// UsbIpClient is a minimal USB-IP client: devlist, import and raw URB
// exchange on an imported connection.
type UsbIpClient struct {
	address string
	seq     uint32

	mu   sync.Mutex
	dirs map[uint32]uint32
}

// Reply is one URB reply read from an imported connection. Data is only set
// for RET_SUBMIT of IN transfers.
type Reply struct {
	Command uint32
	Seqnum  uint32
	Status  int32
	Actual  uint32
	Data    []byte
}

func NewUsbIpClient(t *testing.T, addr string) *UsbIpClient {
	t.Helper()
	return &UsbIpClient{address: addr, seq: 1, dirs: make(map[uint32]uint32)}
}

func (c *UsbIpClient) nextSeq() uint32 {
	return atomic.AddUint32(&c.seq, 1) - 1
}

func (c *UsbIpClient) ListDevices() ([]usbip.ExportedDevice, error) {
	conn, err := net.Dial("tcp", c.address)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := (&usbip.MgmtHeader{Version: usbip.Version, Command: usbip.OpReqDevlist}).Write(conn); err != nil {
		return nil, err
	}
	hdr, err := usbip.ReadMgmtHeader(conn)
	if err != nil {
		return nil, err
	}
	if hdr.Command != usbip.OpRepDevlist {
		return nil, fmt.Errorf("unexpected reply command %x", hdr.Command)
	}
	var count [4]byte
	if err := usbip.ReadExactly(conn, count[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(count[:])
	devices := make([]usbip.ExportedDevice, 0, n)
	for range n {
		dev, err := usbip.ReadExportedDevice(conn, true)
		if err != nil {
			return nil, err
		}
		devices = append(devices, dev)
	}
	return devices, nil
}

// Import attaches busID. On success the returned connection carries URBs for
// the device.
func (c *UsbIpClient) Import(busID string) (net.Conn, usbip.ExportedDevice, error) {
	conn, err := net.Dial("tcp", c.address)
	if err != nil {
		return nil, usbip.ExportedDevice{}, err
	}
	fail := func(err error) (net.Conn, usbip.ExportedDevice, error) {
		conn.Close()
		return nil, usbip.ExportedDevice{}, err
	}

	if err := (&usbip.MgmtHeader{Version: usbip.Version, Command: usbip.OpReqImport}).Write(conn); err != nil {
		return fail(err)
	}
	var bus [usbip.BusIDSize]byte
	copy(bus[:], busID)
	if _, err := conn.Write(bus[:]); err != nil {
		return fail(err)
	}

	hdr, err := usbip.ReadMgmtHeader(conn)
	if err != nil {
		return fail(err)
	}
	if hdr.Command != usbip.OpRepImport {
		return fail(fmt.Errorf("unexpected reply command %x", hdr.Command))
	}
	if hdr.Status != 0 {
		return fail(fmt.Errorf("import %s: status %d", busID, hdr.Status))
	}
	dev, err := usbip.ReadExportedDevice(conn, false)
	if err != nil {
		return fail(err)
	}
	return conn, dev, nil
}

// Submit sends CMD_SUBMIT without waiting for the reply and returns its
// sequence number. For IN transfers length is the requested buffer size.
func (c *UsbIpClient) Submit(conn net.Conn, dir, ep, length uint32, out []byte, setup [8]byte) (uint32, error) {
	seq := c.nextSeq()
	if dir == usbip.DirOut {
		length = uint32(len(out))
	}
	cmd := usbip.CmdSubmit{
		Basic:             usbip.HeaderBasic{Command: usbip.CmdSubmitCode, Seqnum: seq, Dir: dir, Ep: ep},
		TransferBufferLen: length,
		Setup:             setup,
	}
	c.mu.Lock()
	c.dirs[seq] = dir
	c.mu.Unlock()
	if err := cmd.Write(conn); err != nil {
		return 0, err
	}
	if dir == usbip.DirOut && len(out) > 0 {
		if _, err := conn.Write(out); err != nil {
			return 0, err
		}
	}
	return seq, nil
}

// Unlink sends CMD_UNLINK for seq and returns the unlink's own sequence number.
func (c *UsbIpClient) Unlink(conn net.Conn, seq uint32) (uint32, error) {
	own := c.nextSeq()
	cmd := usbip.CmdUnlink{
		Basic:        usbip.HeaderBasic{Command: usbip.CmdUnlinkCode, Seqnum: own},
		UnlinkSeqnum: seq,
	}
	return own, cmd.Write(conn)
}

// ReadReply reads the next RET_SUBMIT or RET_UNLINK.
func (c *UsbIpClient) ReadReply(conn net.Conn, timeout time.Duration) (Reply, error) {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	defer conn.SetReadDeadline(time.Time{})

	var hdr [usbip.URBHeaderSize]byte
	if err := usbip.ReadExactly(conn, hdr[:]); err != nil {
		return Reply{}, err
	}
	var basic usbip.HeaderBasic
	if err := usbip.DecodeHeader(hdr[:20], &basic); err != nil {
		return Reply{}, err
	}
	switch basic.Command {
	case usbip.RetSubmitCode:
		var ret usbip.RetSubmit
		if err := usbip.DecodeHeader(hdr[:], &ret); err != nil {
			return Reply{}, err
		}
		r := Reply{Command: basic.Command, Seqnum: basic.Seqnum, Status: ret.Status, Actual: ret.ActualLength}
		// The reply's direction field is zero; the payload follows only for
		// IN transfers.
		c.mu.Lock()
		dir := c.dirs[basic.Seqnum]
		delete(c.dirs, basic.Seqnum)
		c.mu.Unlock()
		if dir == usbip.DirIn && ret.ActualLength > 0 {
			r.Data = make([]byte, ret.ActualLength)
			if err := usbip.ReadExactly(conn, r.Data); err != nil {
				return Reply{}, err
			}
		}
		return r, nil
	case usbip.RetUnlinkCode:
		var ret usbip.RetUnlink
		if err := usbip.DecodeHeader(hdr[:], &ret); err != nil {
			return Reply{}, err
		}
		return Reply{Command: basic.Command, Seqnum: basic.Seqnum, Status: ret.Status}, nil
	}
	return Reply{}, fmt.Errorf("unexpected ret cmd %x", basic.Command)
}

// Control performs one EP0 transfer and waits for its reply.
func (c *UsbIpClient) Control(conn net.Conn, setup [8]byte, out []byte) (Reply, error) {
	dir := uint32(usbip.DirOut)
	if setup[0]&0x80 != 0 {
		dir = usbip.DirIn
	}
	length := uint32(binary.LittleEndian.Uint16(setup[6:8]))
	if _, err := c.Submit(conn, dir, 0, length, out, setup); err != nil {
		return Reply{}, err
	}
	return c.ReadReply(conn, time.Second)
}

// Setup builds an 8-byte SETUP packet.
func Setup(bmRequestType, bRequest uint8, wValue, wIndex, wLength uint16) [8]byte {
	var s [8]byte
	s[0] = bmRequestType
	s[1] = bRequest
	binary.LittleEndian.PutUint16(s[2:4], wValue)
	binary.LittleEndian.PutUint16(s[4:6], wIndex)
	binary.LittleEndian.PutUint16(s[6:8], wLength)
	return s
}
