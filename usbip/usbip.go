// Package usbip implements the USB/IP wire format: management requests
// (devlist, import) and the URB command stream. All fields are big-endian.
package usbip

import (
	"bytes"
	"encoding/binary"
	"io"
)

// Wire constants (network byte order / big-endian)
const (
	Version = 0x0111

	// Management commands
	OpReqDevlist = 0x8005
	OpRepDevlist = 0x0005
	OpReqImport  = 0x8003
	OpRepImport  = 0x0003

	// URB transfer commands
	CmdSubmitCode = 0x00000001
	CmdUnlinkCode = 0x00000002
	RetSubmitCode = 0x00000003
	RetUnlinkCode = 0x00000004

	// Directions used in usbip_header_basic.direction
	DirOut = 0x00000000
	DirIn  = 0x00000001

	// URBHeaderSize is the size of every URB command and reply header.
	URBHeaderSize = 0x30
	// BusIDSize is the size of the busid field of OP_REQ_IMPORT.
	BusIDSize = 32
)

// URB completion status values (negated Linux errno).
const (
	StatusOK         int32 = 0
	StatusENOENT     int32 = -2
	StatusEPIPE      int32 = -32
	StatusECONNRESET int32 = -104
)

// USB speeds as reported in device entries.
const (
	SpeedLow   = 1
	SpeedFull  = 2
	SpeedHigh  = 3
	SpeedSuper = 5
)

// MgmtHeader is the 8-byte header for management ops (devlist/import).
type MgmtHeader struct {
	Version uint16
	Command uint16
	Status  uint32
}

func (h *MgmtHeader) Write(w io.Writer) error {
	return binary.Write(w, binary.BigEndian, h)
}

// ReadMgmtHeader reads a management header.
func ReadMgmtHeader(r io.Reader) (MgmtHeader, error) {
	var h MgmtHeader
	err := binary.Read(r, binary.BigEndian, &h)
	return h, err
}

// DevListReplyHeader is the header after MgmtHeader for OP_REP_DEVLIST.
type DevListReplyHeader struct {
	NDevices uint32
}

func (d *DevListReplyHeader) Write(w io.Writer) error {
	return binary.Write(w, binary.BigEndian, d)
}

// ExportMeta carries USB-IP bus identity for an emulated device.
// Uses fixed-size arrays matching the wire protocol format.
type ExportMeta struct {
	Path     [256]byte
	USBBusId [32]byte
	BusId    uint32
	DevId    uint32
}

// NewExportMeta fills the fixed-size string fields from path and busID.
func NewExportMeta(path, busID string, busNum, devNum uint32) ExportMeta {
	m := ExportMeta{BusId: busNum, DevId: devNum}
	copy(m.Path[:len(m.Path)-1], path)
	copy(m.USBBusId[:len(m.USBBusId)-1], busID)
	return m
}

// BusID returns USBBusId up to its NUL terminator.
func (m *ExportMeta) BusID() string { return cString(m.USBBusId[:]) }

// SysPath returns Path up to its NUL terminator.
func (m *ExportMeta) SysPath() string { return cString(m.Path[:]) }

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// ExportedDevice describes one exported device in devlist/import replies.
// Layout matches kernel doc, strings are fixed-size, remaining numbers are BE.
type ExportedDevice struct {
	ExportMeta
	Speed uint32

	IDVendor            uint16
	IDProduct           uint16
	BcdDevice           uint16
	BDeviceClass        uint8
	BDeviceSubClass     uint8
	BDeviceProtocol     uint8
	BConfigurationValue uint8
	BNumConfigurations  uint8
	BNumInterfaces      uint8

	// Interfaces: for each interface: class, subclass, protocol, pad
	Interfaces []InterfaceDesc
}

type InterfaceDesc struct {
	Class    uint8
	SubClass uint8
	Protocol uint8
	_        uint8
}

// deviceWire is the 312-byte usbip_usb_device layout.
type deviceWire struct {
	ExportMeta
	Speed               uint32
	IDVendor            uint16
	IDProduct           uint16
	BcdDevice           uint16
	BDeviceClass        uint8
	BDeviceSubClass     uint8
	BDeviceProtocol     uint8
	BConfigurationValue uint8
	BNumConfigurations  uint8
	BNumInterfaces      uint8
}

func (d *ExportedDevice) wire() deviceWire {
	return deviceWire{
		ExportMeta:          d.ExportMeta,
		Speed:               d.Speed,
		IDVendor:            d.IDVendor,
		IDProduct:           d.IDProduct,
		BcdDevice:           d.BcdDevice,
		BDeviceClass:        d.BDeviceClass,
		BDeviceSubClass:     d.BDeviceSubClass,
		BDeviceProtocol:     d.BDeviceProtocol,
		BConfigurationValue: d.BConfigurationValue,
		BNumConfigurations:  d.BNumConfigurations,
		BNumInterfaces:      d.BNumInterfaces,
	}
}

// WriteDevlist writes the device entry for OP_REP_DEVLIST (includes interface triplets).
func (d *ExportedDevice) WriteDevlist(w io.Writer) error {
	if err := d.WriteImport(w); err != nil {
		return err
	}
	for _, iface := range d.Interfaces {
		if err := binary.Write(w, binary.BigEndian, iface); err != nil {
			return err
		}
	}
	return nil
}

// WriteImport writes the device entry for OP_REP_IMPORT (ends at bNumInterfaces).
func (d *ExportedDevice) WriteImport(w io.Writer) error {
	wire := d.wire()
	return binary.Write(w, binary.BigEndian, &wire)
}

// ReadExportedDevice reads one device entry. withInterfaces selects the
// devlist layout, which is followed by BNumInterfaces interface triplets.
func ReadExportedDevice(r io.Reader, withInterfaces bool) (ExportedDevice, error) {
	var wire deviceWire
	if err := binary.Read(r, binary.BigEndian, &wire); err != nil {
		return ExportedDevice{}, err
	}
	d := ExportedDevice{
		ExportMeta:          wire.ExportMeta,
		Speed:               wire.Speed,
		IDVendor:            wire.IDVendor,
		IDProduct:           wire.IDProduct,
		BcdDevice:           wire.BcdDevice,
		BDeviceClass:        wire.BDeviceClass,
		BDeviceSubClass:     wire.BDeviceSubClass,
		BDeviceProtocol:     wire.BDeviceProtocol,
		BConfigurationValue: wire.BConfigurationValue,
		BNumConfigurations:  wire.BNumConfigurations,
		BNumInterfaces:      wire.BNumInterfaces,
	}
	if !withInterfaces {
		return d, nil
	}
	d.Interfaces = make([]InterfaceDesc, d.BNumInterfaces)
	if err := binary.Read(r, binary.BigEndian, d.Interfaces); err != nil {
		return ExportedDevice{}, err
	}
	return d, nil
}

// HeaderBasic is common to all URB cmds and replies.
type HeaderBasic struct {
	Command uint32
	Seqnum  uint32
	Devid   uint32
	Dir     uint32
	Ep      uint32
}

// CmdSubmit header (before payload) length is 0x30.
type CmdSubmit struct {
	Basic             HeaderBasic
	TransferFlags     uint32
	TransferBufferLen uint32
	StartFrame        uint32
	NumberOfPackets   uint32
	Interval          uint32
	Setup             [8]byte
}

func (c *CmdSubmit) Write(w io.Writer) error {
	return binary.Write(w, binary.BigEndian, c)
}

// RetSubmit header (before payload) length is 0x30.
type RetSubmit struct {
	Basic           HeaderBasic
	Status          int32
	ActualLength    uint32
	StartFrame      uint32
	NumberOfPackets uint32
	ErrorCount      uint32
	Padding         [8]byte
}

func (r *RetSubmit) Write(w io.Writer) error {
	return binary.Write(w, binary.BigEndian, r)
}

// CmdUnlink and RetUnlink
type CmdUnlink struct {
	Basic        HeaderBasic
	UnlinkSeqnum uint32
	Padding      [24]byte
}

type RetUnlink struct {
	Basic   HeaderBasic
	Status  int32
	Padding [24]byte
}

func (c *CmdUnlink) Write(w io.Writer) error {
	return binary.Write(w, binary.BigEndian, c)
}

func (r *RetUnlink) Write(w io.Writer) error {
	return binary.Write(w, binary.BigEndian, r)
}

// DecodeHeader decodes a URB header of URBHeaderSize bytes into v, which must
// be a pointer to CmdSubmit, CmdUnlink, RetSubmit or RetUnlink.
func DecodeHeader(hdr []byte, v any) error {
	return binary.Read(bytes.NewReader(hdr), binary.BigEndian, v)
}

// ReadExactly fills buf from r.
func ReadExactly(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	return err
}
