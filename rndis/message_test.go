package rndis

import (
	"errors"
	"io"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Codec", func() {
	It("Initialize completion should decode to the encoded values", func() {
		in := InitializeCmplt{
			RequestID:             0x11223344,
			Status:                StatusSuccess,
			MajorVersion:          MajorVersion,
			MinorVersion:          MinorVersion,
			DeviceFlags:           DeviceFlagsConnectionless,
			Medium:                Medium8023,
			MaxPacketsPerTransfer: 1,
			MaxTransferSize:       1558,
			PacketAlignmentFactor: 3,
			AfListOffset:          5,
			AfListSize:            6,
		}
		b := make([]byte, InitializeCmpltSize)
		n, err := in.Encode(b)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(InitializeCmpltSize))
		Expect(le.Uint32(b[0:])).To(Equal(MsgInitializeCmplt))
		Expect(le.Uint32(b[4:])).To(Equal(uint32(52)))

		out, err := DecodeInitializeCmplt(b)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal(in))
	})

	It("Encoders should refuse short buffers", func() {
		_, err := InitializeCmplt{}.Encode(make([]byte, InitializeCmpltSize-1))
		Expect(err).To(Equal(io.ErrShortBuffer))
		_, err = QueryCmplt{InfoBuffer: []byte{1, 2, 3, 4}}.Encode(make([]byte, QueryCmpltHeaderSize+3))
		Expect(err).To(Equal(io.ErrShortBuffer))
		_, err = EncodePacket(make([]byte, PacketHeaderSize), []byte{1})
		Expect(err).To(Equal(io.ErrShortBuffer))
	})

	It("Query completion should place the information buffer at offset 16 from RequestId", func() {
		b := make([]byte, 64)
		n, err := QueryCmplt{RequestID: 1, InfoBuffer: []byte{0xAA, 0xBB}}.Encode(b)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(26))
		Expect(le.Uint32(b[16:])).To(Equal(uint32(2)))
		Expect(le.Uint32(b[20:])).To(Equal(uint32(16)))
		Expect(b[24:26]).To(Equal([]byte{0xAA, 0xBB}))
	})

	It("Reset completion should carry no RequestId", func() {
		b := make([]byte, ResetCmpltSize)
		_, err := ResetCmplt{Status: StatusSuccess, AddressingReset: 1}.Encode(b)
		Expect(err).NotTo(HaveOccurred())
		Expect(b).To(Equal([]byte{
			0x06, 0x00, 0x00, 0x80,
			0x10, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x00,
			0x01, 0x00, 0x00, 0x00,
		}))
	})

	Context("Decoding Query and Set", func() {
		It("should resolve the information buffer relative to RequestId", func() {
			msg := oidMsg(MsgSet, 3, OIDGenCurrentPacketFilter, u32Bytes(0x0F))
			Expect(le.Uint32(msg[20:])).To(Equal(uint32(20)))
			req, err := DecodeSet(msg)
			Expect(err).NotTo(HaveOccurred())
			Expect(req.RequestID).To(Equal(uint32(3)))
			Expect(req.OID).To(Equal(OIDGenCurrentPacketFilter))
			Expect(req.InfoBuffer).To(Equal(u32Bytes(0x0F)))
		})

		It("should reject an information buffer past the message end", func() {
			msg := oidMsg(MsgSet, 3, OIDGenCurrentPacketFilter, u32Bytes(1))
			le.PutUint32(msg[20:], 400)
			_, err := DecodeSet(msg)
			Expect(errors.Is(err, ErrMalformedMessage)).To(BeTrue())
		})

		It("should reject an information buffer overlapping the fixed header", func() {
			msg := oidMsg(MsgQuery, 3, OIDGenVendorID, u32Bytes(1))
			le.PutUint32(msg[20:], 4)
			_, err := DecodeQuery(msg)
			Expect(errors.Is(err, ErrMalformedMessage)).To(BeTrue())
		})

		It("should reject a message length larger than what was received", func() {
			msg := oidMsg(MsgQuery, 3, OIDGenVendorID, nil)
			le.PutUint32(msg[4:], 29)
			_, err := DecodeQuery(msg)
			Expect(errors.Is(err, ErrMalformedMessage)).To(BeTrue())
		})

		It("should reject a message of the wrong type", func() {
			_, err := DecodeQuery(oidMsg(MsgSet, 3, OIDGenVendorID, nil))
			Expect(errors.Is(err, ErrMalformedMessage)).To(BeTrue())
		})

		It("should reject a truncated buffer", func() {
			_, err := DecodeQuery([]byte{0x04, 0, 0})
			Expect(errors.Is(err, ErrMalformedMessage)).To(BeTrue())
		})
	})

	Context("Data packets", func() {
		It("should emit DataOffset 36 and zeroed out-of-band fields", func() {
			b := make([]byte, PacketHeaderSize+3)
			n, err := EncodePacket(b, []byte{1, 2, 3})
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(47))
			Expect(le.Uint32(b[0:])).To(Equal(MsgPacket))
			Expect(le.Uint32(b[4:])).To(Equal(uint32(47)))
			Expect(le.Uint32(b[8:])).To(Equal(uint32(36)))
			Expect(le.Uint32(b[12:])).To(Equal(uint32(3)))
			Expect(b[16:PacketHeaderSize]).To(Equal(make([]byte, 28)))
		})

		It("should return exactly the payload slice", func() {
			b := make([]byte, PacketHeaderSize+4)
			_, err := EncodePacket(b, []byte{9, 8, 7, 6})
			Expect(err).NotTo(HaveOccurred())
			h, payload, err := DecodePacket(b)
			Expect(err).NotTo(HaveOccurred())
			Expect(h.DataLength).To(Equal(uint32(4)))
			Expect(payload).To(Equal([]byte{9, 8, 7, 6}))
		})
	})

	Context("Config parameters", func() {
		It("should decode UTF-16 names and string values", func() {
			p, err := DecodeConfigParameter(ConfigParameter{Name: "NetworkAddress", Type: ConfigParamString, Value: "0200DEADBEEF"}.Encode())
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Name).To(Equal("NetworkAddress"))
			Expect(p.Type).To(Equal(ConfigParamString))
			Expect(p.Value).To(Equal("0200DEADBEEF"))
		})

		It("should render four-byte integer values in decimal", func() {
			b := ConfigParameter{Name: "MTU", Type: ConfigParamInteger}.Encode()
			b = append(b, u32Bytes(1400)...)
			le.PutUint32(b[16:], 4)
			p, err := DecodeConfigParameter(b)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Value).To(Equal("1400"))
		})

		It("should reject fields outside the structure", func() {
			b := ConfigParameter{Name: "X", Type: ConfigParamString, Value: "Y"}.Encode()
			le.PutUint32(b[16:], 100)
			_, err := DecodeConfigParameter(b)
			Expect(errors.Is(err, ErrMalformedMessage)).To(BeTrue())
		})
	})

	It("should name known message types and print unknown ones in hex", func() {
		Expect(MessageName(MsgSetCmplt)).To(Equal("SET_CMPLT"))
		Expect(MessageName(MsgPacket)).To(Equal("PACKET"))
		Expect(MessageName(0x1234)).To(Equal("0x00001234"))
	})
})
