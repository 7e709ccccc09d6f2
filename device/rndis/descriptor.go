package rndis

import (
	"bytes"

	"github.com/Alia5/VNETIP/usb"
	"github.com/Alia5/VNETIP/usbip"
)

// Endpoint numbers, without the direction bit.
const (
	epNotify = 1 // interrupt IN 0x81
	epData   = 2 // bulk OUT 0x02, bulk IN 0x82
)

const (
	defaultVendorID  = 0x1d6b
	defaultProductID = 0x0104

	notifyPacketSize = 8
	bulkPacketSize   = 64
)

// Control interface functional descriptors: CDC 1.10 header, call
// management without capabilities, ACM without capabilities, union of
// interface 0 (control) and 1 (data).
func cdcFunctionalDescriptors() []byte {
	var b bytes.Buffer
	usb.CDCHeader{BcdCDC: 0x0110}.Write(&b)
	usb.CDCCallManagement{BmCapabilities: 0x00, BDataInterface: 0x01}.Write(&b)
	usb.CDCACM{BmCapabilities: 0x00}.Write(&b)
	usb.CDCUnion{BControlInterface: 0x00, BSubordinateInterface: 0x01}.Write(&b)
	return b.Bytes()
}

func newDescriptor(product, serial string) usb.Descriptor {
	return usb.Descriptor{
		Device: usb.DeviceDescriptor{
			BcdUSB: 0x0200,
			// Miscellaneous / common class / IAD: the function is described
			// by its interface association.
			BDeviceClass:       0xEF,
			BDeviceSubClass:    0x02,
			BDeviceProtocol:    0x01,
			BMaxPacketSize0:    0x40,
			IDVendor:           defaultVendorID,
			IDProduct:          defaultProductID,
			BcdDevice:          0x0100,
			IManufacturer:      0x01,
			IProduct:           0x02,
			ISerialNumber:      0x03,
			BNumConfigurations: 0x01,
			Speed:              usbip.SpeedFull,
		},
		Interfaces: []usb.InterfaceConfig{
			{
				Association: &usb.InterfaceAssociation{
					BFirstInterface:   0x00,
					BInterfaceCount:   0x02,
					BFunctionClass:    usb.ClassWireless,
					BFunctionSubClass: usb.SubclassRF,
					BFunctionProtocol: usb.ProtocolRNDIS,
				},
				Descriptor: usb.InterfaceDescriptor{
					BInterfaceNumber:   0x00,
					BNumEndpoints:      0x01,
					BInterfaceClass:    usb.ClassWireless,
					BInterfaceSubClass: usb.SubclassRF,
					BInterfaceProtocol: usb.ProtocolRNDIS,
				},
				ClassDescriptors: cdcFunctionalDescriptors(),
				Endpoints: []usb.EndpointDescriptor{
					{BEndpointAddress: 0x80 | epNotify, BMAttributes: usb.EndpointInterrupt, WMaxPacketSize: notifyPacketSize, BInterval: 0x01},
				},
			},
			{
				Descriptor: usb.InterfaceDescriptor{
					BInterfaceNumber: 0x01,
					BNumEndpoints:    0x02,
					BInterfaceClass:  usb.ClassCDCData,
				},
				Endpoints: []usb.EndpointDescriptor{
					{BEndpointAddress: epData, BMAttributes: usb.EndpointBulk, WMaxPacketSize: bulkPacketSize},
					{BEndpointAddress: 0x80 | epData, BMAttributes: usb.EndpointBulk, WMaxPacketSize: bulkPacketSize},
				},
			},
		},
		Strings: map[uint8]string{
			1: "VNETIP",
			2: product,
			3: serial,
		},
	}
}
