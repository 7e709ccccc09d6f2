package proxy

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Alia5/VNETIP/internal/netif"
	core "github.com/Alia5/VNETIP/rndis"
	"github.com/Alia5/VNETIP/usb"
	"github.com/Alia5/VNETIP/usbip"
)

const (
	mgmtHeaderSize = 8
	// deviceEntrySize is usbip_usb_device without interface triplets.
	deviceEntrySize = 312
	// maxBuffered bounds what a parser holds while waiting for the rest of a
	// message before it gives up on the stream.
	maxBuffered = 256 * 1024
)

type urbInfo struct {
	ep    uint32
	dir   uint32
	setup [8]byte
}

// urbTable remembers submitted URBs so their replies, which carry no
// endpoint or direction, can be decoded. Both directions of a connection
// share one table.
type urbTable struct {
	mu      sync.Mutex
	urbs    map[uint32]urbInfo
	unlinks map[uint32]uint32
}

func newURBTable() *urbTable {
	return &urbTable{urbs: make(map[uint32]urbInfo), unlinks: make(map[uint32]uint32)}
}

func (t *urbTable) submit(seq uint32, u urbInfo) {
	t.mu.Lock()
	t.urbs[seq] = u
	t.mu.Unlock()
}

func (t *urbTable) lookup(seq uint32) (urbInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u, ok := t.urbs[seq]
	return u, ok
}

func (t *urbTable) complete(seq uint32) {
	t.mu.Lock()
	delete(t.urbs, seq)
	t.mu.Unlock()
}

func (t *urbTable) unlink(seq, target uint32) {
	t.mu.Lock()
	t.unlinks[seq] = target
	t.mu.Unlock()
}

// unlinked drops the URB an unlink targeted when the unlink cancelled it.
func (t *urbTable) unlinked(seq uint32, cancelled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if target, ok := t.unlinks[seq]; ok && cancelled {
		delete(t.urbs, target)
	}
	delete(t.unlinks, seq)
}

// Parser reassembles one direction of a proxied USB/IP connection and logs
// each management op and URB. RNDIS control messages on EP0 and data packets
// on bulk endpoints are decoded as well.
type Parser struct {
	logger   *slog.Logger
	toServer bool
	urbs     *urbTable
	buf      bytes.Buffer
}

// NewConnParsers returns the parsers for both directions of one connection.
func NewConnParsers(logger *slog.Logger) (toServer, toClient *Parser) {
	urbs := newURBTable()
	return &Parser{logger: logger, toServer: true, urbs: urbs},
		&Parser{logger: logger, toServer: false, urbs: urbs}
}

// Parse consumes the next chunk read from the connection.
func (p *Parser) Parse(data []byte) {
	p.buf.Write(data)
	for p.buf.Len() > 0 {
		n := p.next(p.buf.Bytes())
		if n == 0 {
			break
		}
		p.buf.Next(n)
	}
	if p.buf.Len() > maxBuffered {
		p.logger.Warn("parser lost sync, resetting", "dir", p.dir(), "buffered", p.buf.Len())
		p.buf.Reset()
	}
}

// next logs the message at the head of b and returns its size, or 0 while b
// holds only part of it.
func (p *Parser) next(b []byte) int {
	if len(b) < mgmtHeaderSize {
		return 0
	}
	if binary.BigEndian.Uint16(b[0:2]) == usbip.Version {
		return p.mgmt(b)
	}
	if len(b) < usbip.URBHeaderSize {
		return 0
	}
	switch binary.BigEndian.Uint32(b[0:4]) {
	case usbip.CmdSubmitCode:
		return p.cmdSubmit(b)
	case usbip.RetSubmitCode:
		return p.retSubmit(b)
	case usbip.CmdUnlinkCode:
		var cmd usbip.CmdUnlink
		_ = usbip.DecodeHeader(b[:usbip.URBHeaderSize], &cmd)
		p.urbs.unlink(cmd.Basic.Seqnum, cmd.UnlinkSeqnum)
		p.log("CMD_UNLINK", "seq", cmd.Basic.Seqnum, "unlink_seq", cmd.UnlinkSeqnum)
		return usbip.URBHeaderSize
	case usbip.RetUnlinkCode:
		var ret usbip.RetUnlink
		_ = usbip.DecodeHeader(b[:usbip.URBHeaderSize], &ret)
		p.urbs.unlinked(ret.Basic.Seqnum, ret.Status == usbip.StatusECONNRESET)
		p.log("RET_UNLINK", "seq", ret.Basic.Seqnum, "status", ret.Status)
		return usbip.URBHeaderSize
	}
	p.logger.Warn("unrecognised USB/IP data, skipping", "dir", p.dir(), "bytes", len(b))
	return len(b)
}

func (p *Parser) mgmt(b []byte) int {
	h, _ := usbip.ReadMgmtHeader(bytes.NewReader(b[:mgmtHeaderSize]))
	switch h.Command {
	case usbip.OpReqDevlist:
		p.log("OP_REQ_DEVLIST")
		return mgmtHeaderSize
	case usbip.OpReqImport:
		n := mgmtHeaderSize + usbip.BusIDSize
		if len(b) < n {
			return 0
		}
		meta := usbip.ExportMeta{}
		copy(meta.USBBusId[:], b[mgmtHeaderSize:n])
		p.log("OP_REQ_IMPORT", "busid", meta.BusID())
		return n
	case usbip.OpRepImport:
		if h.Status != 0 {
			p.log("OP_REP_IMPORT", "status", h.Status)
			return mgmtHeaderSize
		}
		n := mgmtHeaderSize + deviceEntrySize
		if len(b) < n {
			return 0
		}
		dev, err := usbip.ReadExportedDevice(bytes.NewReader(b[mgmtHeaderSize:n]), false)
		if err != nil {
			return n
		}
		p.log("OP_REP_IMPORT", deviceAttrs(dev)...)
		return n
	case usbip.OpRepDevlist:
		return p.repDevlist(b)
	}
	p.logger.Warn("unknown management op", "dir", p.dir(), "code", fmt.Sprintf("0x%04x", h.Command))
	return len(b)
}

func (p *Parser) repDevlist(b []byte) int {
	if len(b) < mgmtHeaderSize+4 {
		return 0
	}
	count := binary.BigEndian.Uint32(b[mgmtHeaderSize:])
	end := mgmtHeaderSize + 4
	for range count {
		if len(b) < end+deviceEntrySize {
			return 0
		}
		end += deviceEntrySize + 4*int(b[end+deviceEntrySize-1])
	}
	if len(b) < end {
		return 0
	}

	p.log("OP_REP_DEVLIST", "devices", count)
	r := bytes.NewReader(b[mgmtHeaderSize+4 : end])
	for range count {
		dev, err := usbip.ReadExportedDevice(r, true)
		if err != nil {
			break
		}
		attrs := deviceAttrs(dev)
		for i, iface := range dev.Interfaces {
			attrs = append(attrs, fmt.Sprintf("if%d", i), fmt.Sprintf("%02x/%02x/%02x", iface.Class, iface.SubClass, iface.Protocol))
		}
		p.logger.Info("  device", attrs...)
	}
	return end
}

func (p *Parser) cmdSubmit(b []byte) int {
	var cmd usbip.CmdSubmit
	_ = usbip.DecodeHeader(b[:usbip.URBHeaderSize], &cmd)
	n := usbip.URBHeaderSize
	if cmd.Basic.Dir == usbip.DirOut {
		n += int(cmd.TransferBufferLen)
	}
	if len(b) < n {
		return 0
	}

	info := urbInfo{ep: cmd.Basic.Ep, dir: cmd.Basic.Dir, setup: cmd.Setup}
	p.urbs.submit(cmd.Basic.Seqnum, info)

	attrs := []any{
		"seq", cmd.Basic.Seqnum,
		"devid", cmd.Basic.Devid,
		"ep", cmd.Basic.Ep,
		"urb_dir", urbDirString(cmd.Basic.Dir),
		"len", cmd.TransferBufferLen,
	}
	if cmd.Basic.Ep == 0 {
		attrs = append(attrs, "setup", fmt.Sprintf("% x", cmd.Setup[:]))
	}
	attrs = append(attrs, payloadAttrs(info, b[usbip.URBHeaderSize:n])...)
	p.log("CMD_SUBMIT", attrs...)
	return n
}

func (p *Parser) retSubmit(b []byte) int {
	var ret usbip.RetSubmit
	_ = usbip.DecodeHeader(b[:usbip.URBHeaderSize], &ret)
	info, known := p.urbs.lookup(ret.Basic.Seqnum)
	n := usbip.URBHeaderSize
	if known && info.dir == usbip.DirIn {
		n += int(ret.ActualLength)
	}
	if len(b) < n {
		return 0
	}
	p.urbs.complete(ret.Basic.Seqnum)

	attrs := []any{
		"seq", ret.Basic.Seqnum,
		"status", ret.Status,
		"actual_len", ret.ActualLength,
	}
	if !known {
		attrs = append(attrs, "unmatched", true)
	} else if ret.Status == usbip.StatusOK {
		attrs = append(attrs, payloadAttrs(info, b[usbip.URBHeaderSize:n])...)
	}
	p.log("RET_SUBMIT", attrs...)
	return n
}

func (p *Parser) log(op string, args ...any) {
	p.logger.Info("USBIP packet", append([]any{"dir", p.dir(), "op", op}, args...)...)
}

func (p *Parser) dir() string {
	if p.toServer {
		return "C->S"
	}
	return "S->C"
}

// payloadAttrs decodes what an RNDIS function carries in a transfer buffer.
func payloadAttrs(u urbInfo, payload []byte) []any {
	if len(payload) == 0 {
		return nil
	}
	if u.ep == 0 {
		encapsulated := (u.setup[0] == 0x21 && u.setup[1] == usb.CDCReqSendEncapsulatedCommand) ||
			(u.setup[0] == 0xA1 && u.setup[1] == usb.CDCReqGetEncapsulatedResponse)
		if !encapsulated || len(payload) < core.HeaderSize {
			return nil
		}
		return controlAttrs(payload)
	}
	if len(payload) == 8 && payload[0] == usb.CDCNotifyResponseAvailable {
		return []any{"notify", "RESPONSE_AVAILABLE"}
	}
	if len(payload) >= core.PacketHeaderSize && binary.LittleEndian.Uint32(payload) == core.MsgPacket {
		_, frame, err := core.DecodePacket(payload)
		if err != nil {
			return []any{"rndis", "PACKET", "error", err}
		}
		return append([]any{"rndis", "PACKET"}, netif.FrameAttrs(frame)...)
	}
	return nil
}

func controlAttrs(msg []byte) []any {
	h, err := core.PeekHeader(msg)
	if err != nil {
		return []any{"rndis_error", err}
	}
	attrs := []any{"rndis", core.MessageName(h.Type)}
	switch h.Type {
	case core.MsgInitialize:
		if m, err := core.DecodeInitialize(msg); err == nil {
			attrs = append(attrs, "request_id", m.RequestID, "version", fmt.Sprintf("%d.%d", m.MajorVersion, m.MinorVersion), "max_transfer", m.MaxTransferSize)
		}
	case core.MsgQuery, core.MsgSet:
		decode := core.DecodeQuery
		if h.Type == core.MsgSet {
			decode = core.DecodeSet
		}
		if r, err := decode(msg); err == nil {
			attrs = append(attrs, "request_id", r.RequestID, "oid", r.OID.String(), "info_len", len(r.InfoBuffer))
			if h.Type == core.MsgSet && len(r.InfoBuffer) == 4 {
				attrs = append(attrs, "value", fmt.Sprintf("0x%08x", binary.LittleEndian.Uint32(r.InfoBuffer)))
			}
		}
	case core.MsgHalt, core.MsgKeepalive:
		if r, err := core.DecodeRequest(msg, h.Type); err == nil {
			attrs = append(attrs, "request_id", r.RequestID)
		}
	case core.MsgInitializeCmplt:
		if c, err := core.DecodeInitializeCmplt(msg); err == nil {
			attrs = append(attrs, "request_id", c.RequestID, "status", statusString(c.Status), "max_transfer", c.MaxTransferSize)
		}
	case core.MsgQueryCmplt:
		if c, err := core.DecodeQueryCmplt(msg); err == nil {
			attrs = append(attrs, "request_id", c.RequestID, "status", statusString(c.Status), "info_len", len(c.InfoBuffer))
		}
	case core.MsgSetCmplt:
		if c, err := core.DecodeSetCmplt(msg); err == nil {
			attrs = append(attrs, "request_id", c.RequestID, "status", statusString(c.Status))
		}
	case core.MsgKeepaliveCmplt:
		if c, err := core.DecodeKeepaliveCmplt(msg); err == nil {
			attrs = append(attrs, "request_id", c.RequestID, "status", statusString(c.Status))
		}
	case core.MsgResetCmplt:
		if c, err := core.DecodeResetCmplt(msg); err == nil {
			attrs = append(attrs, "status", statusString(c.Status))
		}
	case core.MsgIndicateStatus:
		if m, err := core.DecodeIndicateStatus(msg); err == nil {
			attrs = append(attrs, "status", statusString(m.Status))
		}
	}
	return attrs
}

func statusString(s uint32) string {
	switch s {
	case core.StatusSuccess:
		return "SUCCESS"
	case core.StatusFailure:
		return "FAILURE"
	case core.StatusInvalidData:
		return "INVALID_DATA"
	case core.StatusNotSupported:
		return "NOT_SUPPORTED"
	case core.StatusMediaConnect:
		return "MEDIA_CONNECT"
	case core.StatusMediaDisconnect:
		return "MEDIA_DISCONNECT"
	}
	return fmt.Sprintf("0x%08x", s)
}

func deviceAttrs(d usbip.ExportedDevice) []any {
	return []any{
		"path", d.SysPath(),
		"busid", d.BusID(),
		"speed", d.Speed,
		"vid", fmt.Sprintf("%04x", d.IDVendor),
		"pid", fmt.Sprintf("%04x", d.IDProduct),
		"class", fmt.Sprintf("%02x/%02x/%02x", d.BDeviceClass, d.BDeviceSubClass, d.BDeviceProtocol),
		"interfaces", d.BNumInterfaces,
	}
}

func urbDirString(dir uint32) string {
	if dir == usbip.DirOut {
		return "OUT"
	}
	return "IN"
}
