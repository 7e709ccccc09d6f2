package usb

import (
	"bytes"
	"encoding/binary"
)

// Class codes used by the communications device class.
const (
	ClassCDCData  = 0x0A
	ClassWireless = 0xE0
	SubclassRF    = 0x01
	ProtocolRNDIS = 0x03
)

// Class-specific descriptor types and functional descriptor subtypes.
const (
	CSInterfaceDescType = 0x24

	CDCSubtypeHeader         = 0x00
	CDCSubtypeCallManagement = 0x01
	CDCSubtypeACM            = 0x02
	CDCSubtypeUnion          = 0x06
)

// CDC class requests and notifications.
const (
	CDCReqSendEncapsulatedCommand = 0x00
	CDCReqGetEncapsulatedResponse = 0x01

	CDCNotifyResponseAvailable = 0x01
)

// CDCHeader is the header functional descriptor (5 bytes).
type CDCHeader struct {
	BcdCDC uint16
}

func (h CDCHeader) Write(b *bytes.Buffer) {
	b.WriteByte(5)
	b.WriteByte(CSInterfaceDescType)
	b.WriteByte(CDCSubtypeHeader)
	_ = binary.Write(b, binary.LittleEndian, h.BcdCDC)
}

// CDCCallManagement is the call management functional descriptor (5 bytes).
type CDCCallManagement struct {
	BmCapabilities uint8
	BDataInterface uint8
}

func (c CDCCallManagement) Write(b *bytes.Buffer) {
	b.WriteByte(5)
	b.WriteByte(CSInterfaceDescType)
	b.WriteByte(CDCSubtypeCallManagement)
	b.WriteByte(c.BmCapabilities)
	b.WriteByte(c.BDataInterface)
}

// CDCACM is the abstract control management functional descriptor (4 bytes).
type CDCACM struct {
	BmCapabilities uint8
}

func (a CDCACM) Write(b *bytes.Buffer) {
	b.WriteByte(4)
	b.WriteByte(CSInterfaceDescType)
	b.WriteByte(CDCSubtypeACM)
	b.WriteByte(a.BmCapabilities)
}

// CDCUnion is the union functional descriptor with one subordinate interface (5 bytes).
type CDCUnion struct {
	BControlInterface     uint8
	BSubordinateInterface uint8
}

func (u CDCUnion) Write(b *bytes.Buffer) {
	b.WriteByte(5)
	b.WriteByte(CSInterfaceDescType)
	b.WriteByte(CDCSubtypeUnion)
	b.WriteByte(u.BControlInterface)
	b.WriteByte(u.BSubordinateInterface)
}
