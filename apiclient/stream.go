package apiclient

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/Alia5/VNETIP/apitypes"
	"github.com/Alia5/VNETIP/device"
)

// MaxFrameSize is the largest frame a FrameStream carries.
const MaxFrameSize = 0xFFFF

var ErrStreamClosed = errors.New("stream closed")

// DeviceStream represents a bidirectional connection to a device stream.
type DeviceStream struct {
	conn  net.Conn
	BusID uint32
	DevID string

	closeOnce sync.Once
	closed    chan struct{}
}

// OpenStream connects to an existing device's stream channel.
// The device must already exist on the bus (use DeviceAdd first).
func (c *Client) OpenStream(ctx context.Context, busID uint32, devID string) (*DeviceStream, error) {
	if c.transport.mock != nil {
		return nil, fmt.Errorf("stream connections not supported with mock transport")
	}
	conn, err := c.transport.dial(ctx)
	if err != nil {
		return nil, err
	}
	streamPath := fmt.Sprintf("bus/%d/%s\x00", busID, devID)
	if _, err := conn.Write([]byte(streamPath)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("write stream path: %w", err)
	}
	return &DeviceStream{
		conn:   conn,
		BusID:  busID,
		DevID:  devID,
		closed: make(chan struct{}),
	}, nil
}

// AddDeviceAndConnect creates a device on the specified bus and immediately connects to its stream.
// This is a convenience wrapper that combines DeviceAdd + OpenStream in one call.
func (c *Client) AddDeviceAndConnect(ctx context.Context, busID uint32, deviceType string, o *device.CreateOptions) (*DeviceStream, *apitypes.Device, error) {
	resp, err := c.DeviceAddCtx(ctx, busID, deviceType, o)
	if err != nil {
		return nil, nil, err
	}
	stream, err := c.OpenStream(ctx, busID, resp.DevId)
	if err != nil {
		return nil, resp, err
	}
	return stream, resp, nil
}

// Write sends raw bytes to the device stream.
func (s *DeviceStream) Write(data []byte) (int, error) {
	if s.isClosed() {
		return 0, ErrStreamClosed
	}
	return s.conn.Write(data)
}

// Read receives raw bytes from the device stream.
func (s *DeviceStream) Read(buf []byte) (int, error) {
	if s.isClosed() {
		return 0, ErrStreamClosed
	}
	return s.conn.Read(buf)
}

// SetReadDeadline sets the read deadline for the underlying connection.
func (s *DeviceStream) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// SetWriteDeadline sets the write deadline for the underlying connection.
func (s *DeviceStream) SetWriteDeadline(t time.Time) error {
	return s.conn.SetWriteDeadline(t)
}

// Close closes the stream connection.
func (s *DeviceStream) Close() error {
	err := error(nil)
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.conn.Close()
	})
	return err
}

// Done is closed once Close has been called.
func (s *DeviceStream) Done() <-chan struct{} { return s.closed }

func (s *DeviceStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// FrameStream reads and writes Ethernet frames on a network device stream.
// Each frame is prefixed with its length as uint16 little-endian.
type FrameStream struct {
	rw io.ReadWriter

	writeMu sync.Mutex
	hdr     [2]byte
}

// NewFrameStream wraps a device stream (or any io.ReadWriter speaking the
// same framing).
func NewFrameStream(rw io.ReadWriter) *FrameStream {
	return &FrameStream{rw: rw}
}

// WriteFrame sends one frame. It is safe to call concurrently with ReadFrame.
func (f *FrameStream) WriteFrame(frame []byte) error {
	if len(frame) == 0 || len(frame) > MaxFrameSize {
		return fmt.Errorf("invalid frame length %d", len(frame))
	}
	buf := make([]byte, 2+len(frame))
	binary.LittleEndian.PutUint16(buf, uint16(len(frame)))
	copy(buf[2:], frame)
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	_, err := f.rw.Write(buf)
	return err
}

// ReadFrame blocks for the next frame and returns it in a new slice.
func (f *FrameStream) ReadFrame() ([]byte, error) {
	if _, err := io.ReadFull(f.rw, f.hdr[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint16(f.hdr[:])
	if n == 0 {
		return nil, fmt.Errorf("zero length frame")
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(f.rw, frame); err != nil {
		return nil, err
	}
	return frame, nil
}
