package usb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/Alia5/VNETIP/usb"
	"github.com/Alia5/VNETIP/usbip"
	"github.com/Alia5/VNETIP/virtualbus"
)

// urbStream serves the URB traffic of one imported device. Replies are
// written by the reader goroutine for synchronous transfers and by one
// goroutine per pending asynchronous IN transfer, so every write goes
// through writeMu.
type urbStream struct {
	s      *Server
	conn   net.Conn
	dev    usb.Device
	async  usb.AsyncTransferer
	logger *slog.Logger

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint32]context.CancelFunc
	wg        sync.WaitGroup
}

func (s *Server) handleUrbStream(conn net.Conn, m virtualbus.DeviceMeta, logger *slog.Logger) error {
	_ = conn.SetDeadline(time.Time{})

	devCtx := s.deviceContext(m.Dev)
	if devCtx == nil {
		return fmt.Errorf("device does not belong to any bus")
	}
	ctx, cancel := context.WithCancel(devCtx)
	defer cancel()
	// Unblock the reader when the device is removed.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	u := &urbStream{
		s:       s,
		conn:    conn,
		dev:     m.Dev,
		logger:  logger.With("busid", m.Meta.BusID()),
		pending: make(map[uint32]context.CancelFunc),
	}
	u.async, _ = m.Dev.(usb.AsyncTransferer)

	err := u.run(ctx)
	cancel()
	u.wg.Wait()
	if devCtx.Err() != nil {
		u.logger.Info("device removed, closing URB stream")
		return nil
	}
	return err
}

func (u *urbStream) run(ctx context.Context) error {
	var hdr [usbip.URBHeaderSize]byte
	for {
		if err := usbip.ReadExactly(u.conn, hdr[:]); err != nil {
			return fmt.Errorf("read URB header: %w", err)
		}
		var basic usbip.HeaderBasic
		if err := usbip.DecodeHeader(hdr[:20], &basic); err != nil {
			return fmt.Errorf("decode URB header: %w", err)
		}
		switch basic.Command {
		case usbip.CmdSubmitCode:
			var cmd usbip.CmdSubmit
			if err := usbip.DecodeHeader(hdr[:], &cmd); err != nil {
				return fmt.Errorf("decode CMD_SUBMIT: %w", err)
			}
			if err := u.submit(ctx, cmd); err != nil {
				return err
			}
		case usbip.CmdUnlinkCode:
			var cmd usbip.CmdUnlink
			if err := usbip.DecodeHeader(hdr[:], &cmd); err != nil {
				return fmt.Errorf("decode CMD_UNLINK: %w", err)
			}
			if err := u.unlink(cmd); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unsupported cmd %d (seq=%d, devid=%d)", basic.Command, basic.Seqnum, basic.Devid)
		}
	}
}

func (u *urbStream) submit(ctx context.Context, cmd usbip.CmdSubmit) error {
	seq, ep, dir := cmd.Basic.Seqnum, cmd.Basic.Ep, cmd.Basic.Dir

	var out []byte
	if dir == usbip.DirOut && cmd.TransferBufferLen > 0 {
		out = make([]byte, cmd.TransferBufferLen)
		if err := usbip.ReadExactly(u.conn, out); err != nil {
			return fmt.Errorf("read OUT payload: %w", err)
		}
	}

	if ep != 0 && dir == usbip.DirIn && u.async != nil {
		u.submitAsync(ctx, seq, ep, cmd.TransferBufferLen)
		return nil
	}

	var (
		data   []byte
		status = usbip.StatusOK
	)
	if ep == 0 {
		data, status = u.s.processControl(u.dev, cmd.Setup, out, u.logger)
	} else {
		data = u.dev.HandleTransfer(ep, dir, out)
	}
	if dir == usbip.DirOut {
		return u.writeSubmit(seq, status, uint32(len(out)), nil)
	}
	data = truncate(data, cmd.TransferBufferLen)
	return u.writeSubmit(seq, status, uint32(len(data)), data)
}

// submitAsync completes an IN transfer from its own goroutine. The URB stays
// in pending until it completes or is unlinked; whichever removes it first
// owns the reply.
func (u *urbStream) submitAsync(ctx context.Context, seq, ep, length uint32) {
	urbCtx, cancel := context.WithCancel(ctx)
	u.pendingMu.Lock()
	u.pending[seq] = cancel
	u.pendingMu.Unlock()

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		defer cancel()
		data, err := u.async.HandleTransferContext(urbCtx, ep, usbip.DirIn, nil)

		u.pendingMu.Lock()
		_, owned := u.pending[seq]
		delete(u.pending, seq)
		u.pendingMu.Unlock()
		if !owned || ctx.Err() != nil {
			if err == nil && len(data) > 0 {
				if r, ok := u.async.(usb.TransferReclaimer); ok {
					r.ReclaimTransfer(ep, data)
				}
			}
			return
		}

		status := usbip.StatusOK
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				u.logger.Debug("IN transfer failed", "ep", ep, "seq", seq, "error", err)
			}
			status, data = usbip.StatusEPIPE, nil
		}
		data = truncate(data, length)
		if werr := u.writeSubmit(seq, status, uint32(len(data)), data); werr != nil {
			u.logger.Debug("write RET_SUBMIT", "seq", seq, "error", werr)
		}
	}()
}

func (u *urbStream) unlink(cmd usbip.CmdUnlink) error {
	u.pendingMu.Lock()
	cancel, found := u.pending[cmd.UnlinkSeqnum]
	delete(u.pending, cmd.UnlinkSeqnum)
	u.pendingMu.Unlock()

	status := usbip.StatusOK
	if found {
		cancel()
		status = usbip.StatusECONNRESET
	}
	u.logger.Debug("USBIP_CMD_UNLINK", "seq", cmd.Basic.Seqnum, "unlink", cmd.UnlinkSeqnum, "pending", found)

	ret := usbip.RetUnlink{
		Basic:  usbip.HeaderBasic{Command: usbip.RetUnlinkCode, Seqnum: cmd.Basic.Seqnum},
		Status: status,
	}
	var out bytes.Buffer
	if err := ret.Write(&out); err != nil {
		return fmt.Errorf("build RET_UNLINK: %w", err)
	}
	return u.write(out.Bytes())
}

func (u *urbStream) writeSubmit(seq uint32, status int32, actual uint32, data []byte) error {
	ret := usbip.RetSubmit{
		Basic:        usbip.HeaderBasic{Command: usbip.RetSubmitCode, Seqnum: seq},
		Status:       status,
		ActualLength: actual,
	}
	var out bytes.Buffer
	if err := ret.Write(&out); err != nil {
		return fmt.Errorf("build RET_SUBMIT header: %w", err)
	}
	out.Write(data)
	if err := u.write(out.Bytes()); err != nil {
		return fmt.Errorf("write RET_SUBMIT: %w", err)
	}
	return nil
}

func (u *urbStream) write(b []byte) error {
	u.writeMu.Lock()
	defer u.writeMu.Unlock()
	_, err := u.conn.Write(b)
	return err
}

func truncate(data []byte, length uint32) []byte {
	if uint32(len(data)) > length {
		return data[:length]
	}
	return data
}
