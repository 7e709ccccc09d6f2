package rndis

import (
	"fmt"
	"log/slog"

	"github.com/looplab/fsm"
)

// MaxControlMessageSize is the largest control message the adapter accepts.
// Longer requests are answered with StatusInvalidData when they carry a
// RequestId, and dropped otherwise.
const MaxControlMessageSize = 1024

// Transport carries RNDIS messages to the host. The byte slices passed to it
// are only valid for the duration of the call.
type Transport interface {
	// Report delivers one encoded control response.
	Report(response []byte)
	// Transmit delivers one framed data packet.
	Transmit(packet []byte)
	// RearmReceive prepares the transport for the next inbound data packet.
	RearmReceive()
}

// NetStack is the Ethernet side of the adapter.
type NetStack interface {
	// DeliverFrame receives a decapsulated Ethernet frame. frame aliases the
	// inbound packet and must be copied to be retained.
	DeliverFrame(frame []byte)
	// CollectOutboundFrame returns the next frame to send as segments whose
	// lengths sum to total, or ok=false when nothing is pending.
	CollectOutboundFrame() (segments [][]byte, total int, ok bool)
}

// Adapter is the device side of one RNDIS function: the control message
// dispatcher, the OID table and the data packet framer over one explicit
// device state.
type Adapter struct {
	cfg       Config
	transport Transport
	netstack  NetStack
	logger    *slog.Logger

	state      *fsm.FSM
	filter     uint32
	mediaState uint32
	stats      counters

	scratch []byte
	txSlot  []byte
	txReady bool

	// OnConfigParameter, when set, receives every parameter the host pushes
	// through OIDGenRNDISConfigParameter.
	OnConfigParameter func(ConfigParameter)
}

// NewAdapter returns an Uninitialized adapter with an open transmit gate.
// A nil logger discards.
func NewAdapter(cfg Config, t Transport, ns NetStack, logger *slog.Logger) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rndis config: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	a := &Adapter{
		cfg:        cfg,
		transport:  t,
		netstack:   ns,
		logger:     logger,
		mediaState: MediaStateConnected,
		txSlot:     make([]byte, cfg.MaxTransferSize),
		txReady:    true,
	}
	a.state = newStateMachine(func(from, to State) {
		a.logger.Debug("rndis state change", "from", from, "to", to)
	})
	scratch := max(QueryCmpltHeaderSize+maxQuerySize(cfg), InitializeCmpltSize, MaxControlMessageSize)
	a.scratch = make([]byte, scratch)
	return a, nil
}

func (a *Adapter) Config() Config { return a.cfg }

func (a *Adapter) State() State { return State(a.state.Current()) }

func (a *Adapter) PacketFilter() uint32 { return a.filter }

func (a *Adapter) Stats() Stats { return a.stats.Stats }

func (a *Adapter) MediaConnected() bool { return a.mediaState == MediaStateConnected }

// HandleControlMessage runs one request/response cycle for a message
// received through SEND_ENCAPSULATED_COMMAND. The message is copied into the
// scratch buffer, decoded completely, and the response is encoded over it and
// passed to Transport.Report before returning.
func (a *Adapter) HandleControlMessage(msg []byte) {
	if len(msg) < RequestMsgSize {
		a.logger.Debug("dropping control message", "size", len(msg))
		return
	}
	if len(msg) > len(a.scratch) {
		a.rejectOversized(msg)
		return
	}
	buf := a.scratch[:copy(a.scratch, msg)]
	msgType := le.Uint32(buf[0:])

	switch msgType {
	case MsgInitialize:
		a.handleInitialize(buf)
	case MsgQuery:
		a.handleQuery(buf)
	case MsgSet:
		a.handleSet(buf)
	case MsgReset:
		a.handleReset()
	case MsgKeepalive:
		a.handleKeepalive(buf)
	case MsgHalt:
		a.handleHalt()
	default:
		a.logger.Debug("ignoring control message", "type", fmt.Sprintf("0x%08x", msgType), "size", len(msg))
	}
}

// rejectOversized fails a request too large for the scratch buffer. Only the
// type and RequestId are read.
func (a *Adapter) rejectOversized(msg []byte) {
	msgType, requestID := le.Uint32(msg[0:]), le.Uint32(msg[8:])
	a.logger.Debug("control message too large", "type", fmt.Sprintf("0x%08x", msgType), "size", len(msg))
	switch msgType {
	case MsgInitialize:
		a.report(InitializeCmplt{RequestID: requestID, Status: StatusInvalidData}.Encode(a.scratch))
	case MsgQuery:
		a.report(QueryCmplt{RequestID: requestID, Status: StatusInvalidData}.Encode(a.scratch))
	case MsgSet:
		a.report(SetCmplt{RequestID: requestID, Status: StatusInvalidData}.Encode(a.scratch))
	case MsgKeepalive:
		a.report(KeepaliveCmplt{RequestID: requestID, Status: StatusInvalidData}.Encode(a.scratch))
	}
}

func (a *Adapter) report(n int, err error) {
	if err != nil {
		panic("rndis: scratch buffer too small for response: " + err.Error())
	}
	a.transport.Report(a.scratch[:n])
}

func (a *Adapter) handleInitialize(buf []byte) {
	requestID := le.Uint32(buf[8:])
	m, err := DecodeInitialize(buf)
	if err != nil {
		a.logger.Debug("invalid initialize message", "error", err)
		a.report(InitializeCmplt{RequestID: requestID, Status: StatusInvalidData}.Encode(a.scratch))
		return
	}
	a.logger.Debug("rndis initialize",
		"requestID", m.RequestID,
		"hostVersion", fmt.Sprintf("%d.%d", m.MajorVersion, m.MinorVersion),
		"hostMaxTransferSize", m.MaxTransferSize,
	)
	fire(a.state, eventInitialize)
	if a.filter != 0 {
		fire(a.state, eventSetFilter)
	}
	a.report(InitializeCmplt{
		RequestID:             m.RequestID,
		Status:                StatusSuccess,
		MajorVersion:          MajorVersion,
		MinorVersion:          MinorVersion,
		DeviceFlags:           DeviceFlagsConnectionless,
		Medium:                Medium8023,
		MaxPacketsPerTransfer: 1,
		MaxTransferSize:       a.cfg.MaxTransferSize,
	}.Encode(a.scratch))
}

func (a *Adapter) handleQuery(buf []byte) {
	req, err := DecodeQuery(buf)
	if err != nil {
		a.logger.Debug("invalid query message", "error", err)
		a.report(QueryCmplt{RequestID: le.Uint32(buf[8:]), Status: StatusInvalidData}.Encode(a.scratch))
		return
	}
	// The payload is written in place after the completion header; the
	// request's own information buffer is not read past this point.
	n, status, err := a.queryInto(req.OID, a.scratch[QueryCmpltHeaderSize:])
	if err != nil {
		a.logger.Debug("query failed", "oid", req.OID, "error", err)
	}
	putHeader(a.scratch, MsgQueryCmplt, QueryCmpltHeaderSize+n)
	var off uint32
	if n > 0 {
		off = queryCmpltInfoOffset
	}
	putFields(a.scratch, req.RequestID, status, uint32(n), off)
	a.report(QueryCmpltHeaderSize+n, nil)
}

func (a *Adapter) handleSet(buf []byte) {
	req, err := DecodeSet(buf)
	status := StatusInvalidData
	if err == nil {
		status, err = a.set(req)
	}
	if err != nil {
		a.logger.Debug("set failed", "oid", req.OID, "error", err)
	}
	a.report(SetCmplt{RequestID: le.Uint32(buf[8:]), Status: status}.Encode(a.scratch))
}

// set applies req. It must not keep references to req.InfoBuffer, which is
// overwritten by the completion.
func (a *Adapter) set(req OIDRequest) (uint32, error) {
	switch req.OID {
	case OIDGenCurrentPacketFilter:
		if len(req.InfoBuffer) < 4 {
			return StatusInvalidData, fmt.Errorf("%w: packet filter of %d bytes", ErrMalformedMessage, len(req.InfoBuffer))
		}
		a.setPacketFilter(le.Uint32(req.InfoBuffer))
		return StatusSuccess, nil
	case OIDGenRNDISConfigParameter:
		p, err := DecodeConfigParameter(req.InfoBuffer)
		if err != nil {
			return StatusInvalidData, err
		}
		a.logger.Debug("rndis config parameter", "name", p.Name, "value", p.Value)
		if a.OnConfigParameter != nil {
			a.OnConfigParameter(p)
		}
		return StatusSuccess, nil
	case OIDGenCurrentLookahead, OIDGenProtocolOptions, OID8023MulticastList:
		return StatusSuccess, nil
	default:
		return StatusFailure, fmt.Errorf("%w: set %v", ErrUnsupportedOperation, req.OID)
	}
}

func (a *Adapter) setPacketFilter(v uint32) {
	a.filter = v
	event := eventSetFilter
	if v == 0 {
		event = eventClearFilter
	}
	if !fire(a.state, event) && a.State() == StateUninitialized && v != 0 {
		a.logger.Debug("packet filter stored before initialize", "filter", fmt.Sprintf("0x%08x", v))
	}
}

func (a *Adapter) handleReset() {
	a.filter = 0
	fire(a.state, eventReset)
	a.report(ResetCmplt{Status: StatusSuccess, AddressingReset: 1}.Encode(a.scratch))
}

func (a *Adapter) handleKeepalive(buf []byte) {
	status := StatusSuccess
	if _, err := DecodeRequest(buf, MsgKeepalive); err != nil {
		a.logger.Debug("invalid keepalive message", "error", err)
		status = StatusInvalidData
	}
	a.report(KeepaliveCmplt{RequestID: le.Uint32(buf[8:]), Status: status}.Encode(a.scratch))
}

func (a *Adapter) handleHalt() {
	a.filter = 0
	fire(a.state, eventReset)
}

// SetMediaConnected changes the state reported by OIDGenMediaConnectStatus
// and, once the host has initialized the adapter, indicates the change with
// an unsolicited status message.
func (a *Adapter) SetMediaConnected(connected bool) {
	next, status := MediaStateDisconnected, StatusMediaDisconnect
	if connected {
		next, status = MediaStateConnected, StatusMediaConnect
	}
	if next == a.mediaState {
		return
	}
	a.mediaState = next
	if a.State() == StateUninitialized {
		return
	}
	a.report(IndicateStatus{Status: status}.Encode(a.scratch))
}
