package rndis

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/Alia5/VNETIP/device"
	"github.com/Alia5/VNETIP/internal/server/api"
	"github.com/Alia5/VNETIP/usb"
)

func init() {
	api.RegisterDevice("rndis", &handler{})
}

type handler struct{}

func (h *handler) CreateDevice(o *device.CreateOptions) (usb.Device, error) {
	d, err := New(o)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// StreamHandler carries Ethernet frames in both directions, each prefixed by
// its length as uint16 little-endian. The link is up while a stream is
// connected.
func (h *handler) StreamHandler() api.StreamHandlerFunc {
	return func(conn net.Conn, devPtr *usb.Device, logger *slog.Logger) error {
		if devPtr == nil || *devPtr == nil {
			return fmt.Errorf("nil device")
		}
		dev, ok := (*devPtr).(*Device)
		if !ok {
			return fmt.Errorf("device is not rndis")
		}

		dev.SetLinkState(true)
		defer dev.SetLinkState(false)

		stop := make(chan struct{})
		writerDone := make(chan error, 1)
		go func() {
			writerDone <- pumpToStream(conn, dev, stop)
		}()

		err := pumpFromStream(conn, dev, logger)
		close(stop)
		_ = conn.Close()
		if werr := <-writerDone; werr != nil && err == nil {
			err = werr
		}
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			logger.Info("client disconnected")
			return nil
		}
		return err
	}
}

// pumpFromStream hands every frame the client sends to the device until the
// stream ends. Frames the device cannot queue are dropped.
func pumpFromStream(r io.Reader, dev *Device, logger *slog.Logger) error {
	buf := make([]byte, 0xFFFF)
	for {
		frame, err := readFrame(r, buf)
		if err != nil {
			return err
		}
		if err := dev.SendFrame(frame); err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			logger.Debug("dropping frame from stream", "size", len(frame), "error", err)
		}
	}
}

// pumpToStream forwards frames from the host until stop is closed or the
// device goes away, in which case the connection is closed to end the reader.
func pumpToStream(conn net.Conn, dev *Device, stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		case <-dev.Done():
			_ = conn.Close()
			return nil
		case frame := <-dev.Frames():
			if err := writeFrame(conn, frame); err != nil {
				return fmt.Errorf("write frame: %w", err)
			}
		}
	}
}

func readFrame(r io.Reader, buf []byte) ([]byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := int(binary.LittleEndian.Uint16(hdr[:]))
	if n == 0 {
		return nil, fmt.Errorf("zero length frame")
	}
	if _, err := io.ReadFull(r, buf[:n]); err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return buf[:n], nil
}

func writeFrame(w io.Writer, frame []byte) error {
	if len(frame) > 0xFFFF {
		return fmt.Errorf("frame of %d bytes exceeds stream limit", len(frame))
	}
	out := make([]byte, 2+len(frame))
	binary.LittleEndian.PutUint16(out, uint16(len(frame)))
	copy(out[2:], frame)
	_, err := w.Write(out)
	return err
}
