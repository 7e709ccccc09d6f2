package rndis

import "fmt"

// queryFunc writes the value of an OID into dst and returns its length.
type queryFunc func(a *Adapter, dst []byte) int

type oidEntry struct {
	oid OID
	// width is the documented payload size, 0 when it varies.
	width  int
	status uint32
	query  queryFunc
}

func u32(f func(a *Adapter) uint32) queryFunc {
	return func(a *Adapter, dst []byte) int {
		le.PutUint32(dst, f(a))
		return 4
	}
}

func constant(v uint32) queryFunc {
	return u32(func(*Adapter) uint32 { return v })
}

func value(oid OID, f func(a *Adapter) uint32) oidEntry {
	return oidEntry{oid: oid, width: 4, status: StatusSuccess, query: u32(f)}
}

func fixed(oid OID, v uint32) oidEntry {
	return oidEntry{oid: oid, width: 4, status: StatusSuccess, query: constant(v)}
}

func notSupported(oid OID) oidEntry {
	return oidEntry{oid: oid, status: StatusNotSupported}
}

// oidTable lists every OID the adapter recognizes, in the order the
// supported list reports them.
var oidTable = []oidEntry{
	{oid: OIDGenSupportedList, status: StatusSuccess, query: querySupportedList},
	fixed(OIDGenHardwareStatus, 0),
	fixed(OIDGenMediaSupported, Medium8023),
	fixed(OIDGenMediaInUse, Medium8023),
	value(OIDGenMaximumFrameSize, func(a *Adapter) uint32 { return a.cfg.MTU }),
	value(OIDGenLinkSpeed, func(a *Adapter) uint32 { return a.cfg.LinkSpeed / 100 }),
	value(OIDGenTransmitBlockSize, func(a *Adapter) uint32 { return a.cfg.maxTotalSize() }),
	value(OIDGenReceiveBlockSize, func(a *Adapter) uint32 { return a.cfg.maxTotalSize() }),
	value(OIDGenVendorID, func(a *Adapter) uint32 { return a.cfg.VendorID }),
	{oid: OIDGenVendorDescription, status: StatusSuccess, query: queryVendorDescription},
	value(OIDGenVendorDriverVersion, func(a *Adapter) uint32 { return a.cfg.DriverVersion }),
	value(OIDGenCurrentPacketFilter, func(a *Adapter) uint32 { return a.filter }),
	value(OIDGenMaximumTotalSize, func(a *Adapter) uint32 { return a.cfg.maxTotalSize() }),
	fixed(OIDGenMACOptions, 0),
	value(OIDGenMediaConnectStatus, func(a *Adapter) uint32 { return a.mediaState }),
	fixed(OIDGenMaximumSendPackets, 1),
	fixed(OIDGenPhysicalMedium, 0),
	fixed(OIDGenRNDISConfigParameter, 0),
	value(OIDGenXmitOK, func(a *Adapter) uint32 { return a.stats.FramesSent }),
	value(OIDGenRcvOK, func(a *Adapter) uint32 { return a.stats.FramesReceived }),
	value(OIDGenXmitError, func(a *Adapter) uint32 { return a.stats.TransmitErrors }),
	value(OIDGenRcvError, func(a *Adapter) uint32 { return a.stats.ReceiveErrors }),
	fixed(OIDGenRcvNoBuffer, 0),
	{oid: OID8023PermanentAddress, width: 6, status: StatusSuccess, query: queryHardwareAddr},
	{oid: OID8023CurrentAddress, width: 6, status: StatusSuccess, query: queryHardwareAddr},
	notSupported(OID8023MulticastList),
	fixed(OID8023MaximumListSize, 1),
	notSupported(OID8023MACOptions),
	fixed(OID8023RcvErrorAlignment, 0),
	fixed(OID8023XmitOneCollision, 0),
	fixed(OID8023XmitMoreCollisions, 0),
}

var (
	oidIndex      map[OID]int
	supportedOIDs []OID
)

func init() {
	oidIndex = make(map[OID]int, len(oidTable))
	for i, e := range oidTable {
		if _, dup := oidIndex[e.oid]; dup {
			panic(fmt.Sprintf("rndis: duplicate oid 0x%08x in table", uint32(e.oid)))
		}
		oidIndex[e.oid] = i
		if e.status == StatusSuccess {
			supportedOIDs = append(supportedOIDs, e.oid)
		}
	}
}

func querySupportedList(_ *Adapter, dst []byte) int {
	for i, oid := range supportedOIDs {
		le.PutUint32(dst[4*i:], uint32(oid))
	}
	return 4 * len(supportedOIDs)
}

func queryVendorDescription(a *Adapter, dst []byte) int {
	n := copy(dst, a.cfg.VendorDescription)
	dst[n] = 0
	return n + 1
}

func queryHardwareAddr(a *Adapter, dst []byte) int {
	return copy(dst, a.cfg.HardwareAddr)
}

// SupportedOIDs returns the OIDs answered with StatusSuccess, in the order
// OIDGenSupportedList reports them.
func SupportedOIDs() []OID {
	return append([]OID(nil), supportedOIDs...)
}

// maxQuerySize is the largest payload any OID can produce for cfg.
func maxQuerySize(cfg Config) int {
	n := 4 * len(supportedOIDs)
	n = max(n, len(cfg.VendorDescription)+1)
	n = max(n, len(cfg.HardwareAddr))
	return max(n, 4)
}

// queryInto answers oid into dst. Unknown OIDs yield StatusFailure, a zero
// length and ErrUnsupportedOID.
func (a *Adapter) queryInto(oid OID, dst []byte) (int, uint32, error) {
	i, ok := oidIndex[oid]
	if !ok {
		return 0, StatusFailure, fmt.Errorf("%w: 0x%08x", ErrUnsupportedOID, uint32(oid))
	}
	e := oidTable[i]
	if e.query == nil {
		return 0, e.status, nil
	}
	return e.query(a, dst), e.status, nil
}

// Query answers oid the way a Query message would, returning a copy of the
// payload.
func (a *Adapter) Query(oid OID) (uint32, []byte) {
	buf := make([]byte, maxQuerySize(a.cfg))
	n, status, _ := a.queryInto(oid, buf)
	return status, buf[:n]
}

func (o OID) String() string {
	if name, ok := oidNames[o]; ok {
		return name
	}
	return fmt.Sprintf("OID(0x%08x)", uint32(o))
}

var oidNames = map[OID]string{
	OIDGenSupportedList:        "OID_GEN_SUPPORTED_LIST",
	OIDGenHardwareStatus:       "OID_GEN_HARDWARE_STATUS",
	OIDGenMediaSupported:       "OID_GEN_MEDIA_SUPPORTED",
	OIDGenMediaInUse:           "OID_GEN_MEDIA_IN_USE",
	OIDGenMaximumLookahead:     "OID_GEN_MAXIMUM_LOOKAHEAD",
	OIDGenMaximumFrameSize:     "OID_GEN_MAXIMUM_FRAME_SIZE",
	OIDGenLinkSpeed:            "OID_GEN_LINK_SPEED",
	OIDGenTransmitBlockSize:    "OID_GEN_TRANSMIT_BLOCK_SIZE",
	OIDGenReceiveBlockSize:     "OID_GEN_RECEIVE_BLOCK_SIZE",
	OIDGenVendorID:             "OID_GEN_VENDOR_ID",
	OIDGenVendorDescription:    "OID_GEN_VENDOR_DESCRIPTION",
	OIDGenCurrentPacketFilter:  "OID_GEN_CURRENT_PACKET_FILTER",
	OIDGenCurrentLookahead:     "OID_GEN_CURRENT_LOOKAHEAD",
	OIDGenDriverVersion:        "OID_GEN_DRIVER_VERSION",
	OIDGenMaximumTotalSize:     "OID_GEN_MAXIMUM_TOTAL_SIZE",
	OIDGenProtocolOptions:      "OID_GEN_PROTOCOL_OPTIONS",
	OIDGenMACOptions:           "OID_GEN_MAC_OPTIONS",
	OIDGenMediaConnectStatus:   "OID_GEN_MEDIA_CONNECT_STATUS",
	OIDGenMaximumSendPackets:   "OID_GEN_MAXIMUM_SEND_PACKETS",
	OIDGenVendorDriverVersion:  "OID_GEN_VENDOR_DRIVER_VERSION",
	OIDGenPhysicalMedium:       "OID_GEN_PHYSICAL_MEDIUM",
	OIDGenRNDISConfigParameter: "OID_GEN_RNDIS_CONFIG_PARAMETER",
	OIDGenXmitOK:               "OID_GEN_XMIT_OK",
	OIDGenRcvOK:                "OID_GEN_RCV_OK",
	OIDGenXmitError:            "OID_GEN_XMIT_ERROR",
	OIDGenRcvError:             "OID_GEN_RCV_ERROR",
	OIDGenRcvNoBuffer:          "OID_GEN_RCV_NO_BUFFER",
	OID8023PermanentAddress:    "OID_802_3_PERMANENT_ADDRESS",
	OID8023CurrentAddress:      "OID_802_3_CURRENT_ADDRESS",
	OID8023MulticastList:       "OID_802_3_MULTICAST_LIST",
	OID8023MaximumListSize:     "OID_802_3_MAXIMUM_LIST_SIZE",
	OID8023MACOptions:          "OID_802_3_MAC_OPTIONS",
	OID8023RcvErrorAlignment:   "OID_802_3_RCV_ERROR_ALIGNMENT",
	OID8023XmitOneCollision:    "OID_802_3_XMIT_ONE_COLLISION",
	OID8023XmitMoreCollisions:  "OID_802_3_XMIT_MORE_COLLISIONS",
	OIDPnPCapabilities:         "OID_PNP_CAPABILITIES",
	OIDPnPSetPower:             "OID_PNP_SET_POWER",
	OIDPnPQueryPower:           "OID_PNP_QUERY_POWER",
	OIDPnPAddWakeUpPattern:     "OID_PNP_ADD_WAKE_UP_PATTERN",
	OIDPnPRemoveWakeUpPattern:  "OID_PNP_REMOVE_WAKE_UP_PATTERN",
	OIDPnPEnableWakeUp:         "OID_PNP_ENABLE_WAKE_UP",
}
