package netif

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/Alia5/VNETIP/internal/log"
)

// maxFrameSize is the largest frame the device stream can carry.
const maxFrameSize = 0xFFFF

// FrameConn is the device end of a bridge, usually an apiclient.FrameStream.
type FrameConn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte) error
}

// BridgeStats counts frames forwarded in each direction and frames dropped
// because they did not parse as Ethernet.
type BridgeStats struct {
	ToHost   uint64
	ToDevice uint64
	Dropped  uint64
}

// Bridge forwards frames between a device stream and a local interface.
type Bridge struct {
	dev    FrameConn
	host   Interface
	logger *slog.Logger

	toHost   atomic.Uint64
	toDevice atomic.Uint64
	dropped  atomic.Uint64
}

func NewBridge(dev FrameConn, host Interface, logger *slog.Logger) *Bridge {
	return &Bridge{dev: dev, host: host, logger: logger.With("interface", host.Name())}
}

// Run pumps frames both ways until ctx is done or one side fails. Pumps
// blocked in a read stay blocked until the caller closes both ends.
func (b *Bridge) Run(ctx context.Context) error {
	errCh := make(chan error, 2)
	go func() { errCh <- b.deviceToHost(ctx) }()
	go func() { errCh <- b.hostToDevice(ctx) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
}

func (b *Bridge) Stats() BridgeStats {
	return BridgeStats{
		ToHost:   b.toHost.Load(),
		ToDevice: b.toDevice.Load(),
		Dropped:  b.dropped.Load(),
	}
}

func (b *Bridge) deviceToHost(ctx context.Context) error {
	for {
		frame, err := b.dev.ReadFrame()
		if err != nil {
			return fmt.Errorf("device stream: %w", err)
		}
		if !b.admit(ctx, "to host", frame) {
			continue
		}
		if err := b.host.WriteFrame(frame); err != nil {
			return fmt.Errorf("write %s: %w", b.host.Name(), err)
		}
		b.toHost.Add(1)
	}
}

func (b *Bridge) hostToDevice(ctx context.Context) error {
	buf := make([]byte, maxFrameSize)
	for {
		n, err := b.host.ReadFrame(buf)
		if err != nil {
			return fmt.Errorf("read %s: %w", b.host.Name(), err)
		}
		frame := buf[:n]
		if !b.admit(ctx, "to device", frame) {
			continue
		}
		if err := b.dev.WriteFrame(frame); err != nil {
			return fmt.Errorf("device stream: %w", err)
		}
		b.toDevice.Add(1)
	}
}

// admit reports whether frame is a well-formed Ethernet frame.
func (b *Bridge) admit(ctx context.Context, dir string, frame []byte) bool {
	if _, err := ParseFrame(frame); err != nil {
		b.dropped.Add(1)
		b.logger.Debug("dropping frame", "dir", dir, "len", len(frame), "error", err)
		return false
	}
	if b.logger.Enabled(ctx, log.LevelTrace) {
		b.logger.Log(ctx, log.LevelTrace, "frame", append([]any{"dir", dir}, FrameAttrs(frame)...)...)
	}
	return true
}
