package netif

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/mdlayher/ethernet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	hostMAC   = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	deviceMAC = net.HardwareAddr{0x20, 0x89, 0x84, 0x6a, 0x96, 0xab}
)

func frame(t *testing.T, src, dst net.HardwareAddr, et ethernet.EtherType) []byte {
	t.Helper()
	f := ethernet.Frame{Destination: dst, Source: src, EtherType: et, Payload: []byte("payload")}
	b, err := f.MarshalBinary()
	require.NoError(t, err)
	return b
}

type chanConn struct {
	in      chan []byte
	out     chan []byte
	readErr error
}

func newChanConn() *chanConn {
	return &chanConn{in: make(chan []byte, 8), out: make(chan []byte, 8)}
}

func (c *chanConn) ReadFrame() ([]byte, error) {
	f, ok := <-c.in
	if !ok {
		if c.readErr != nil {
			return nil, c.readErr
		}
		return nil, io.EOF
	}
	return f, nil
}

func (c *chanConn) WriteFrame(f []byte) error {
	c.out <- append([]byte(nil), f...)
	return nil
}

type chanInterface struct {
	*chanConn
	name string
}

func (i *chanInterface) Name() string { return i.name }

func (i *chanInterface) ReadFrame(buf []byte) (int, error) {
	f, err := i.chanConn.ReadFrame()
	if err != nil {
		return 0, err
	}
	return copy(buf, f), nil
}

func (i *chanInterface) Close() error { return nil }

func TestParseFrame(t *testing.T) {
	f, err := ParseFrame(frame(t, deviceMAC, ethernet.Broadcast, ethernet.EtherTypeARP))
	require.NoError(t, err)
	assert.Equal(t, deviceMAC, f.Source)
	assert.Equal(t, ethernet.EtherTypeARP, f.EtherType)

	_, err = ParseFrame([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestFrameAttrs(t *testing.T) {
	attrs := FrameAttrs(frame(t, hostMAC, deviceMAC, ethernet.EtherTypeIPv4))
	assert.Contains(t, attrs, hostMAC.String())
	assert.Contains(t, attrs, deviceMAC.String())
	assert.Contains(t, attrs, "ethertype")

	attrs = FrameAttrs(make([]byte, 5))
	assert.Equal(t, "len", attrs[0])
	assert.Equal(t, 5, attrs[1])
	assert.Equal(t, "error", attrs[2])
}

func TestBridgeForwardsBothWays(t *testing.T) {
	dev := newChanConn()
	host := &chanInterface{chanConn: newChanConn(), name: "tap-test"}
	b := NewBridge(dev, host, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	fromDevice := frame(t, hostMAC, ethernet.Broadcast, ethernet.EtherTypeARP)
	dev.in <- fromDevice
	select {
	case got := <-host.out:
		assert.Equal(t, fromDevice, got)
	case <-time.After(time.Second):
		t.Fatal("frame not forwarded to host")
	}

	fromHost := frame(t, deviceMAC, hostMAC, ethernet.EtherTypeIPv6)
	host.in <- fromHost
	select {
	case got := <-dev.out:
		assert.Equal(t, fromHost, got)
	case <-time.After(time.Second):
		t.Fatal("frame not forwarded to device")
	}

	// Runts are dropped, the pump keeps going.
	dev.in <- []byte{0xff, 0xff}
	dev.in <- fromDevice
	select {
	case got := <-host.out:
		assert.Equal(t, fromDevice, got)
	case <-time.After(time.Second):
		t.Fatal("frame after runt not forwarded")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return on cancel")
	}
	want := BridgeStats{ToHost: 2, ToDevice: 1, Dropped: 1}
	assert.Eventually(t, func() bool { return b.Stats() == want }, time.Second, 5*time.Millisecond)
}

func TestBridgeStopsOnStreamError(t *testing.T) {
	dev := newChanConn()
	dev.readErr = errors.New("stream reset")
	host := &chanInterface{chanConn: newChanConn(), name: "tap-test"}
	b := NewBridge(dev, host, slog.Default())

	close(dev.in)
	err := b.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream reset")
}

func TestBridgeTraceLogging(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.Level(-8)}))
	dev := newChanConn()
	host := &chanInterface{chanConn: newChanConn(), name: "tap-test"}
	b := NewBridge(dev, host, logger)

	assert.True(t, b.admit(context.Background(), "to host", frame(t, hostMAC, deviceMAC, ethernet.EtherTypeIPv4)))
	assert.Contains(t, buf.String(), "interface=tap-test")
	assert.Contains(t, buf.String(), "src="+hostMAC.String())
}

func TestOpenValidation(t *testing.T) {
	_, err := Open(Config{Backend: "vxlan"})
	assert.ErrorContains(t, err, "unknown backend")

	_, err = Open(Config{Backend: BackendRaw})
	assert.ErrorContains(t, err, "needs an interface name")
}
