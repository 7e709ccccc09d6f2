// Package rndis implements the device side of the Remote NDIS protocol:
// the control message dispatcher, the OID table and the data packet framer.
//
// An Adapter is not safe for concurrent use. The USB function that carries
// it must serialize every call, which mirrors the run-to-completion callback
// model RNDIS devices are written against.
package rndis

import "fmt"

// Message types.
const (
	MsgPacket         uint32 = 0x00000001
	MsgInitialize     uint32 = 0x00000002
	MsgHalt           uint32 = 0x00000003
	MsgQuery          uint32 = 0x00000004
	MsgSet            uint32 = 0x00000005
	MsgReset          uint32 = 0x00000006
	MsgIndicateStatus uint32 = 0x00000007
	MsgKeepalive      uint32 = 0x00000008

	MsgInitializeCmplt uint32 = 0x80000002
	MsgQueryCmplt      uint32 = 0x80000004
	MsgSetCmplt        uint32 = 0x80000005
	MsgResetCmplt      uint32 = 0x80000006
	MsgKeepaliveCmplt  uint32 = 0x80000008
)

// Status codes.
const (
	StatusSuccess         uint32 = 0x00000000
	StatusFailure         uint32 = 0xC0000001
	StatusInvalidData     uint32 = 0xC0010015
	StatusNotSupported    uint32 = 0xC00000BB
	StatusMediaConnect    uint32 = 0x4001000B
	StatusMediaDisconnect uint32 = 0x4001000C
)

// Protocol version and capability values reported by Initialize.
const (
	MajorVersion uint32 = 1
	MinorVersion uint32 = 0

	DeviceFlagsConnectionless uint32 = 0x00000001
	Medium8023                uint32 = 0x00000000

	MediaStateConnected    uint32 = 0
	MediaStateDisconnected uint32 = 1
)

// Packet filter bits carried by OIDGenCurrentPacketFilter.
const (
	FilterDirected     uint32 = 0x00000001
	FilterMulticast    uint32 = 0x00000002
	FilterAllMulticast uint32 = 0x00000004
	FilterBroadcast    uint32 = 0x00000008
	FilterPromiscuous  uint32 = 0x00000020
)

// OID is an NDIS object identifier.
type OID uint32

// General OIDs.
const (
	OIDGenSupportedList        OID = 0x00010101
	OIDGenHardwareStatus       OID = 0x00010102
	OIDGenMediaSupported       OID = 0x00010103
	OIDGenMediaInUse           OID = 0x00010104
	OIDGenMaximumLookahead     OID = 0x00010105
	OIDGenMaximumFrameSize     OID = 0x00010106
	OIDGenLinkSpeed            OID = 0x00010107
	OIDGenTransmitBlockSize    OID = 0x0001010A
	OIDGenReceiveBlockSize     OID = 0x0001010B
	OIDGenVendorID             OID = 0x0001010C
	OIDGenVendorDescription    OID = 0x0001010D
	OIDGenCurrentPacketFilter  OID = 0x0001010E
	OIDGenCurrentLookahead     OID = 0x0001010F
	OIDGenDriverVersion        OID = 0x00010110
	OIDGenMaximumTotalSize     OID = 0x00010111
	OIDGenProtocolOptions      OID = 0x00010112
	OIDGenMACOptions           OID = 0x00010113
	OIDGenMediaConnectStatus   OID = 0x00010114
	OIDGenMaximumSendPackets   OID = 0x00010115
	OIDGenVendorDriverVersion  OID = 0x00010116
	OIDGenPhysicalMedium       OID = 0x00010202
	OIDGenRNDISConfigParameter OID = 0x0001021B
	OIDGenXmitOK               OID = 0x00020101
	OIDGenRcvOK                OID = 0x00020102
	OIDGenXmitError            OID = 0x00020103
	OIDGenRcvError             OID = 0x00020104
	OIDGenRcvNoBuffer          OID = 0x00020105
)

// 802.3 OIDs.
const (
	OID8023PermanentAddress   OID = 0x01010101
	OID8023CurrentAddress     OID = 0x01010102
	OID8023MulticastList      OID = 0x01010103
	OID8023MaximumListSize    OID = 0x01010104
	OID8023MACOptions         OID = 0x01010105
	OID8023RcvErrorAlignment  OID = 0x01020101
	OID8023XmitOneCollision   OID = 0x01020102
	OID8023XmitMoreCollisions OID = 0x01020103
)

// Power management OIDs. Sets on these are always rejected.
const (
	OIDPnPCapabilities        OID = 0xFD010100
	OIDPnPSetPower            OID = 0xFD010101
	OIDPnPQueryPower          OID = 0xFD010102
	OIDPnPAddWakeUpPattern    OID = 0xFD010103
	OIDPnPRemoveWakeUpPattern OID = 0xFD010104
	OIDPnPEnableWakeUp        OID = 0xFD010106
)

// Config parameter value types.
const (
	ConfigParamInteger uint32 = 0
	ConfigParamString  uint32 = 2
)

const ethHeaderSize = 14

var messageNames = map[uint32]string{
	MsgPacket:          "PACKET",
	MsgInitialize:      "INITIALIZE",
	MsgHalt:            "HALT",
	MsgQuery:           "QUERY",
	MsgSet:             "SET",
	MsgReset:           "RESET",
	MsgIndicateStatus:  "INDICATE_STATUS",
	MsgKeepalive:       "KEEPALIVE",
	MsgInitializeCmplt: "INITIALIZE_CMPLT",
	MsgQueryCmplt:      "QUERY_CMPLT",
	MsgSetCmplt:        "SET_CMPLT",
	MsgResetCmplt:      "RESET_CMPLT",
	MsgKeepaliveCmplt:  "KEEPALIVE_CMPLT",
}

// MessageName returns the short name of an RNDIS message type, e.g. "SET_CMPLT".
func MessageName(t uint32) string {
	if name, ok := messageNames[t]; ok {
		return name
	}
	return fmt.Sprintf("0x%08x", t)
}
