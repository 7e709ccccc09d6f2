package rndis

import (
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"unicode/utf16"
)

// Wire sizes of the fixed message parts.
const (
	HeaderSize               = 8
	PacketHeaderSize         = 44
	InitializeMsgSize        = 24
	InitializeCmpltSize      = 52
	OIDRequestHeaderSize     = 28
	QueryCmpltHeaderSize     = 24
	SetCmpltSize             = 16
	ResetCmpltSize           = 16
	RequestMsgSize           = 12
	KeepaliveCmpltSize       = 16
	IndicateStatusHeaderSize = 20
	ConfigParameterSize      = 20

	// Offsets in Query/Set messages are counted from the RequestId field,
	// the data packet DataOffset from the DataOffset field. Both sit at byte 8.
	anchorOffset = 8

	queryCmpltInfoOffset = QueryCmpltHeaderSize - anchorOffset
	packetDataOffset     = PacketHeaderSize - anchorOffset
)

var le = binary.LittleEndian

// Header is the generic prefix of every RNDIS message.
type Header struct {
	Type   uint32
	Length uint32
}

// PeekHeader decodes the generic header and checks the declared length
// against the received size.
func PeekHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformedMessage, len(b))
	}
	h := Header{Type: le.Uint32(b[0:4]), Length: le.Uint32(b[4:8])}
	if h.Length < HeaderSize || int64(h.Length) > int64(len(b)) {
		return h, fmt.Errorf("%w: message length %d, received %d", ErrMalformedMessage, h.Length, len(b))
	}
	return h, nil
}

func checkMessage(b []byte, msgType uint32, fixed int) (Header, error) {
	h, err := PeekHeader(b)
	if err != nil {
		return h, err
	}
	if h.Type != msgType {
		return h, fmt.Errorf("%w: type 0x%08x, want 0x%08x", ErrMalformedMessage, h.Type, msgType)
	}
	if int(h.Length) < fixed {
		return h, fmt.Errorf("%w: type 0x%08x needs %d bytes, message length %d", ErrMalformedMessage, msgType, fixed, h.Length)
	}
	return h, nil
}

func putHeader(b []byte, msgType uint32, length int) {
	le.PutUint32(b[0:4], msgType)
	le.PutUint32(b[4:8], uint32(length))
}

func putFields(b []byte, fields ...uint32) {
	for i, f := range fields {
		le.PutUint32(b[HeaderSize+4*i:], f)
	}
}

// InitializeMsg is REMOTE_NDIS_INITIALIZE_MSG.
type InitializeMsg struct {
	RequestID       uint32
	MajorVersion    uint32
	MinorVersion    uint32
	MaxTransferSize uint32
}

func DecodeInitialize(b []byte) (InitializeMsg, error) {
	if _, err := checkMessage(b, MsgInitialize, InitializeMsgSize); err != nil {
		return InitializeMsg{}, err
	}
	return InitializeMsg{
		RequestID:       le.Uint32(b[8:]),
		MajorVersion:    le.Uint32(b[12:]),
		MinorVersion:    le.Uint32(b[16:]),
		MaxTransferSize: le.Uint32(b[20:]),
	}, nil
}

func (m InitializeMsg) Encode(b []byte) (int, error) {
	if len(b) < InitializeMsgSize {
		return 0, io.ErrShortBuffer
	}
	putHeader(b, MsgInitialize, InitializeMsgSize)
	putFields(b, m.RequestID, m.MajorVersion, m.MinorVersion, m.MaxTransferSize)
	return InitializeMsgSize, nil
}

// InitializeCmplt is REMOTE_NDIS_INITIALIZE_CMPLT.
type InitializeCmplt struct {
	RequestID             uint32
	Status                uint32
	MajorVersion          uint32
	MinorVersion          uint32
	DeviceFlags           uint32
	Medium                uint32
	MaxPacketsPerTransfer uint32
	MaxTransferSize       uint32
	PacketAlignmentFactor uint32
	AfListOffset          uint32
	AfListSize            uint32
}

func (c InitializeCmplt) Encode(b []byte) (int, error) {
	if len(b) < InitializeCmpltSize {
		return 0, io.ErrShortBuffer
	}
	putHeader(b, MsgInitializeCmplt, InitializeCmpltSize)
	putFields(b,
		c.RequestID, c.Status, c.MajorVersion, c.MinorVersion, c.DeviceFlags, c.Medium,
		c.MaxPacketsPerTransfer, c.MaxTransferSize, c.PacketAlignmentFactor, c.AfListOffset, c.AfListSize,
	)
	return InitializeCmpltSize, nil
}

func DecodeInitializeCmplt(b []byte) (InitializeCmplt, error) {
	if _, err := checkMessage(b, MsgInitializeCmplt, InitializeCmpltSize); err != nil {
		return InitializeCmplt{}, err
	}
	f := func(i int) uint32 { return le.Uint32(b[HeaderSize+4*i:]) }
	return InitializeCmplt{
		RequestID:             f(0),
		Status:                f(1),
		MajorVersion:          f(2),
		MinorVersion:          f(3),
		DeviceFlags:           f(4),
		Medium:                f(5),
		MaxPacketsPerTransfer: f(6),
		MaxTransferSize:       f(7),
		PacketAlignmentFactor: f(8),
		AfListOffset:          f(9),
		AfListSize:            f(10),
	}, nil
}

// OIDRequest is the shared layout of REMOTE_NDIS_QUERY_MSG and
// REMOTE_NDIS_SET_MSG. InfoBuffer aliases the decoded buffer.
type OIDRequest struct {
	RequestID  uint32
	OID        OID
	InfoBuffer []byte
}

func DecodeQuery(b []byte) (OIDRequest, error) { return decodeOIDRequest(b, MsgQuery) }

func DecodeSet(b []byte) (OIDRequest, error) { return decodeOIDRequest(b, MsgSet) }

func decodeOIDRequest(b []byte, msgType uint32) (OIDRequest, error) {
	h, err := checkMessage(b, msgType, OIDRequestHeaderSize)
	if err != nil {
		return OIDRequest{}, err
	}
	r := OIDRequest{
		RequestID: le.Uint32(b[8:]),
		OID:       OID(le.Uint32(b[12:])),
	}
	infoLen := uint64(le.Uint32(b[16:]))
	infoOff := uint64(le.Uint32(b[20:]))
	if infoLen == 0 {
		return r, nil
	}
	start := anchorOffset + infoOff
	end := start + infoLen
	if start < OIDRequestHeaderSize || end > uint64(h.Length) {
		return r, fmt.Errorf("%w: information buffer [%d:%d] outside message of %d bytes", ErrMalformedMessage, start, end, h.Length)
	}
	r.InfoBuffer = b[start:end]
	return r, nil
}

// Encode writes the request as a message of the given type, placing the
// information buffer directly after the fixed header.
func (r OIDRequest) Encode(b []byte, msgType uint32) (int, error) {
	n := OIDRequestHeaderSize + len(r.InfoBuffer)
	if len(b) < n {
		return 0, io.ErrShortBuffer
	}
	var infoOff uint32
	if len(r.InfoBuffer) > 0 {
		infoOff = OIDRequestHeaderSize - anchorOffset
	}
	putHeader(b, msgType, n)
	putFields(b, r.RequestID, uint32(r.OID), uint32(len(r.InfoBuffer)), infoOff, 0)
	copy(b[OIDRequestHeaderSize:], r.InfoBuffer)
	return n, nil
}

// QueryCmplt is REMOTE_NDIS_QUERY_CMPLT.
type QueryCmplt struct {
	RequestID  uint32
	Status     uint32
	InfoBuffer []byte
}

func (c QueryCmplt) Encode(b []byte) (int, error) {
	n := QueryCmpltHeaderSize + len(c.InfoBuffer)
	if len(b) < n {
		return 0, io.ErrShortBuffer
	}
	putHeader(b, MsgQueryCmplt, n)
	putFields(b, c.RequestID, c.Status, uint32(len(c.InfoBuffer)), queryCmpltInfoOffset)
	copy(b[QueryCmpltHeaderSize:], c.InfoBuffer)
	return n, nil
}

func DecodeQueryCmplt(b []byte) (QueryCmplt, error) {
	h, err := checkMessage(b, MsgQueryCmplt, QueryCmpltHeaderSize)
	if err != nil {
		return QueryCmplt{}, err
	}
	c := QueryCmplt{RequestID: le.Uint32(b[8:]), Status: le.Uint32(b[12:])}
	infoLen := uint64(le.Uint32(b[16:]))
	infoOff := uint64(le.Uint32(b[20:]))
	if infoLen == 0 {
		return c, nil
	}
	start := anchorOffset + infoOff
	end := start + infoLen
	if start < QueryCmpltHeaderSize || end > uint64(h.Length) {
		return c, fmt.Errorf("%w: information buffer [%d:%d] outside message of %d bytes", ErrMalformedMessage, start, end, h.Length)
	}
	c.InfoBuffer = b[start:end]
	return c, nil
}

// SetCmplt is REMOTE_NDIS_SET_CMPLT.
type SetCmplt struct {
	RequestID uint32
	Status    uint32
}

func (c SetCmplt) Encode(b []byte) (int, error) {
	if len(b) < SetCmpltSize {
		return 0, io.ErrShortBuffer
	}
	putHeader(b, MsgSetCmplt, SetCmpltSize)
	putFields(b, c.RequestID, c.Status)
	return SetCmpltSize, nil
}

func DecodeSetCmplt(b []byte) (SetCmplt, error) {
	if _, err := checkMessage(b, MsgSetCmplt, SetCmpltSize); err != nil {
		return SetCmplt{}, err
	}
	return SetCmplt{RequestID: le.Uint32(b[8:]), Status: le.Uint32(b[12:])}, nil
}

// ResetCmplt is REMOTE_NDIS_RESET_CMPLT. It carries no RequestId.
type ResetCmplt struct {
	Status          uint32
	AddressingReset uint32
}

func (c ResetCmplt) Encode(b []byte) (int, error) {
	if len(b) < ResetCmpltSize {
		return 0, io.ErrShortBuffer
	}
	putHeader(b, MsgResetCmplt, ResetCmpltSize)
	putFields(b, c.Status, c.AddressingReset)
	return ResetCmpltSize, nil
}

func DecodeResetCmplt(b []byte) (ResetCmplt, error) {
	if _, err := checkMessage(b, MsgResetCmplt, ResetCmpltSize); err != nil {
		return ResetCmplt{}, err
	}
	return ResetCmplt{Status: le.Uint32(b[8:]), AddressingReset: le.Uint32(b[12:])}, nil
}

// RequestMsg is the 12-byte layout shared by Halt, Keepalive and Reset. For
// Reset the third field is reserved rather than a RequestId.
type RequestMsg struct {
	Type      uint32
	RequestID uint32
}

func DecodeRequest(b []byte, msgType uint32) (RequestMsg, error) {
	if _, err := checkMessage(b, msgType, RequestMsgSize); err != nil {
		return RequestMsg{}, err
	}
	return RequestMsg{Type: msgType, RequestID: le.Uint32(b[8:])}, nil
}

func (m RequestMsg) Encode(b []byte) (int, error) {
	if len(b) < RequestMsgSize {
		return 0, io.ErrShortBuffer
	}
	putHeader(b, m.Type, RequestMsgSize)
	putFields(b, m.RequestID)
	return RequestMsgSize, nil
}

// KeepaliveCmplt is REMOTE_NDIS_KEEPALIVE_CMPLT.
type KeepaliveCmplt struct {
	RequestID uint32
	Status    uint32
}

func (c KeepaliveCmplt) Encode(b []byte) (int, error) {
	if len(b) < KeepaliveCmpltSize {
		return 0, io.ErrShortBuffer
	}
	putHeader(b, MsgKeepaliveCmplt, KeepaliveCmpltSize)
	putFields(b, c.RequestID, c.Status)
	return KeepaliveCmpltSize, nil
}

func DecodeKeepaliveCmplt(b []byte) (KeepaliveCmplt, error) {
	if _, err := checkMessage(b, MsgKeepaliveCmplt, KeepaliveCmpltSize); err != nil {
		return KeepaliveCmplt{}, err
	}
	return KeepaliveCmplt{RequestID: le.Uint32(b[8:]), Status: le.Uint32(b[12:])}, nil
}

// IndicateStatus is REMOTE_NDIS_INDICATE_STATUS_MSG, sent unsolicited by the device.
type IndicateStatus struct {
	Status uint32
	Buffer []byte
}

func (m IndicateStatus) Encode(b []byte) (int, error) {
	n := IndicateStatusHeaderSize + len(m.Buffer)
	if len(b) < n {
		return 0, io.ErrShortBuffer
	}
	var off uint32
	if len(m.Buffer) > 0 {
		off = IndicateStatusHeaderSize - anchorOffset
	}
	putHeader(b, MsgIndicateStatus, n)
	putFields(b, m.Status, uint32(len(m.Buffer)), off)
	copy(b[IndicateStatusHeaderSize:], m.Buffer)
	return n, nil
}

func DecodeIndicateStatus(b []byte) (IndicateStatus, error) {
	h, err := checkMessage(b, MsgIndicateStatus, IndicateStatusHeaderSize)
	if err != nil {
		return IndicateStatus{}, err
	}
	m := IndicateStatus{Status: le.Uint32(b[8:])}
	bufLen := uint64(le.Uint32(b[12:]))
	if bufLen == 0 {
		return m, nil
	}
	start := anchorOffset + uint64(le.Uint32(b[16:]))
	end := start + bufLen
	if start < IndicateStatusHeaderSize || end > uint64(h.Length) {
		return m, fmt.Errorf("%w: status buffer [%d:%d] outside message of %d bytes", ErrMalformedMessage, start, end, h.Length)
	}
	m.Buffer = b[start:end]
	return m, nil
}

// PacketHeader is the fixed part of REMOTE_NDIS_PACKET_MSG. Out-of-band data,
// per-packet info and VC handles are always zero.
type PacketHeader struct {
	MessageLength uint32
	DataOffset    uint32
	DataLength    uint32
}

func (h PacketHeader) Encode(b []byte) (int, error) {
	if len(b) < PacketHeaderSize {
		return 0, io.ErrShortBuffer
	}
	clear(b[:PacketHeaderSize])
	le.PutUint32(b[0:], MsgPacket)
	le.PutUint32(b[4:], h.MessageLength)
	le.PutUint32(b[8:], h.DataOffset)
	le.PutUint32(b[12:], h.DataLength)
	return PacketHeaderSize, nil
}

// DecodePacket validates a data packet and returns its payload, which aliases b.
// Checks run in order: size, type, message length, data bounds.
func DecodePacket(b []byte) (PacketHeader, []byte, error) {
	if len(b) < PacketHeaderSize {
		return PacketHeader{}, nil, fmt.Errorf("%w: %d bytes is shorter than the packet header", ErrReceiveValidation, len(b))
	}
	if t := le.Uint32(b[0:]); t != MsgPacket {
		return PacketHeader{}, nil, fmt.Errorf("%w: message type 0x%08x", ErrReceiveValidation, t)
	}
	h := PacketHeader{
		MessageLength: le.Uint32(b[4:]),
		DataOffset:    le.Uint32(b[8:]),
		DataLength:    le.Uint32(b[12:]),
	}
	if int64(h.MessageLength) > int64(len(b)) {
		return h, nil, fmt.Errorf("%w: message length %d exceeds %d received", ErrReceiveValidation, h.MessageLength, len(b))
	}
	start := uint64(anchorOffset) + uint64(h.DataOffset)
	end := start + uint64(h.DataLength)
	if end > uint64(len(b)) {
		return h, nil, fmt.Errorf("%w: data [%d:%d] exceeds %d received", ErrReceiveValidation, start, end, len(b))
	}
	return h, b[start:end], nil
}

// EncodePacket frames payload into b, which must hold PacketHeaderSize+len(payload) bytes.
func EncodePacket(b []byte, payload []byte) (int, error) {
	n := PacketHeaderSize + len(payload)
	if len(b) < n {
		return 0, io.ErrShortBuffer
	}
	h := PacketHeader{MessageLength: uint32(n), DataOffset: packetDataOffset, DataLength: uint32(len(payload))}
	if _, err := h.Encode(b); err != nil {
		return 0, err
	}
	copy(b[PacketHeaderSize:], payload)
	return n, nil
}

// ConfigParameter is one key/value pair from the host's advanced adapter
// properties, delivered through OIDGenRNDISConfigParameter.
type ConfigParameter struct {
	Name  string
	Type  uint32
	Value string
}

// DecodeConfigParameter parses the parameter structure. Offsets inside it are
// relative to its own start, strings are UTF-16LE. Integer values carried as
// four raw bytes are rendered in decimal.
func DecodeConfigParameter(b []byte) (ConfigParameter, error) {
	if len(b) < ConfigParameterSize {
		return ConfigParameter{}, fmt.Errorf("%w: config parameter of %d bytes", ErrMalformedMessage, len(b))
	}
	nameOff, nameLen := uint64(le.Uint32(b[0:])), uint64(le.Uint32(b[4:]))
	typ := le.Uint32(b[8:])
	valOff, valLen := uint64(le.Uint32(b[12:])), uint64(le.Uint32(b[16:]))
	if nameOff+nameLen > uint64(len(b)) || valOff+valLen > uint64(len(b)) {
		return ConfigParameter{}, fmt.Errorf("%w: config parameter fields outside %d bytes", ErrMalformedMessage, len(b))
	}
	p := ConfigParameter{
		Name: decodeUTF16(b[nameOff : nameOff+nameLen]),
		Type: typ,
	}
	val := b[valOff : valOff+valLen]
	if typ == ConfigParamInteger && len(val) == 4 {
		p.Value = strconv.FormatUint(uint64(le.Uint32(val)), 10)
	} else {
		p.Value = decodeUTF16(val)
	}
	return p, nil
}

// Encode returns the parameter structure with name and value appended as UTF-16LE.
func (p ConfigParameter) Encode() []byte {
	name := encodeUTF16(p.Name)
	val := encodeUTF16(p.Value)
	b := make([]byte, ConfigParameterSize+len(name)+len(val))
	le.PutUint32(b[0:], ConfigParameterSize)
	le.PutUint32(b[4:], uint32(len(name)))
	le.PutUint32(b[8:], p.Type)
	le.PutUint32(b[12:], uint32(ConfigParameterSize+len(name)))
	le.PutUint32(b[16:], uint32(len(val)))
	copy(b[ConfigParameterSize:], name)
	copy(b[ConfigParameterSize+len(name):], val)
	return b
}

func decodeUTF16(b []byte) string {
	u := make([]uint16, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		c := le.Uint16(b[i:])
		if c == 0 {
			break
		}
		u = append(u, c)
	}
	return string(utf16.Decode(u))
}

func encodeUTF16(s string) []byte {
	u := utf16.Encode([]rune(s))
	b := make([]byte, 2*len(u))
	for i, c := range u {
		le.PutUint16(b[2*i:], c)
	}
	return b
}
