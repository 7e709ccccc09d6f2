package usb_test

import (
	"bytes"
	"testing"

	"github.com/Alia5/VNETIP/usb"
	"github.com/stretchr/testify/assert"
)

func TestEncodeStringDescriptor(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []byte
	}{
		{name: "empty", in: "", want: []byte{0x02, 0x03}},
		{name: "ascii", in: "AB", want: []byte{0x06, 0x03, 'A', 0x00, 'B', 0x00}},
		{name: "surrogate pair", in: "\U0001F600", want: []byte{0x06, 0x03, 0x3D, 0xD8, 0x00, 0xDE}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, usb.EncodeStringDescriptor(tc.in))
		})
	}
}

func TestConfigBytes(t *testing.T) {
	var cdc bytes.Buffer
	usb.CDCHeader{BcdCDC: 0x0110}.Write(&cdc)
	usb.CDCUnion{BControlInterface: 0, BSubordinateInterface: 1}.Write(&cdc)

	desc := usb.Descriptor{
		Interfaces: []usb.InterfaceConfig{
			{
				Association:      &usb.InterfaceAssociation{BFirstInterface: 0, BInterfaceCount: 2, BFunctionClass: usb.ClassWireless, BFunctionSubClass: usb.SubclassRF, BFunctionProtocol: usb.ProtocolRNDIS},
				Descriptor:       usb.InterfaceDescriptor{BInterfaceNumber: 0, BNumEndpoints: 1, BInterfaceClass: usb.ClassWireless, BInterfaceSubClass: usb.SubclassRF, BInterfaceProtocol: usb.ProtocolRNDIS},
				ClassDescriptors: cdc.Bytes(),
				Endpoints:        []usb.EndpointDescriptor{
					{BEndpointAddress: 0x81, BMAttributes: usb.EndpointInterrupt, WMaxPacketSize: 8, BInterval: 1},
				},
			},
			{
				Descriptor: usb.InterfaceDescriptor{BInterfaceNumber: 1, BNumEndpoints: 0, BInterfaceClass: usb.ClassCDCData},
			},
		},
	}

	got := desc.ConfigBytes(usb.ConfigHeader{BConfigurationValue: 1, BMAttributes: 0x80, BMaxPower: 50})

	want := []byte{
		0x09, 0x02, 0x34, 0x00, 0x02, 0x01, 0x00, 0x80, 0x32,
		0x08, 0x0B, 0x00, 0x02, 0xE0, 0x01, 0x03, 0x00,
		0x09, 0x04, 0x00, 0x00, 0x01, 0xE0, 0x01, 0x03, 0x00,
		0x05, 0x24, 0x00, 0x10, 0x01,
		0x05, 0x24, 0x06, 0x00, 0x01,
		0x07, 0x05, 0x81, 0x03, 0x08, 0x00, 0x01,
		0x09, 0x04, 0x01, 0x00, 0x00, 0x0A, 0x00, 0x00, 0x00,
	}
	assert.Equal(t, want, got)
	assert.Equal(t, len(want), int(got[2]))
}
