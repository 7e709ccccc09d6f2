package rndis

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Framer", func() {
	var (
		a  *Adapter
		t  *fakeTransport
		ns *fakeNetStack
	)

	BeforeEach(func() {
		a, t, ns = newTestAdapter()
	})

	Context("Outbound", func() {
		It("should frame segments into one contiguous packet", func() {
			Expect(a.Transmit([][]byte{{1, 2}, {3}, {4, 5, 6}}, 6)).To(Succeed())
			Expect(t.transmits).To(HaveLen(1))
			h, payload, err := DecodePacket(t.transmits[0])
			Expect(err).NotTo(HaveOccurred())
			Expect(h.MessageLength).To(Equal(uint32(PacketHeaderSize + 6)))
			Expect(h.DataOffset).To(Equal(uint32(36)))
			Expect(payload).To(Equal([]byte{1, 2, 3, 4, 5, 6}))
			Expect(a.Stats().FramesSent).To(Equal(uint32(1)))
		})

		It("should truncate frames larger than the transfer size", func() {
			maxData := int(a.Config().MaxTransferSize) - PacketHeaderSize
			frame := bytes.Repeat([]byte{0xEE}, maxData+100)
			Expect(a.Transmit([][]byte{frame}, len(frame))).To(Succeed())
			h, payload, err := DecodePacket(t.transmits[0])
			Expect(err).NotTo(HaveOccurred())
			Expect(h.DataLength).To(Equal(uint32(maxData)))
			Expect(payload).To(HaveLen(maxData))
			Expect(t.transmits[0]).To(HaveLen(int(a.Config().MaxTransferSize)))
		})

		It("should send an empty packet for a negative total", func() {
			Expect(a.Transmit([][]byte{{1, 2, 3}}, -5)).To(Succeed())
			Expect(t.transmits).To(HaveLen(1))
			h, payload, err := DecodePacket(t.transmits[0])
			Expect(err).NotTo(HaveOccurred())
			Expect(payload).To(BeEmpty())
			Expect(h.MessageLength).To(Equal(uint32(PacketHeaderSize)))
		})

		It("should allow one outstanding transmit", func() {
			Expect(a.Transmit([][]byte{{1}}, 1)).To(Succeed())
			Expect(a.IsTransmitReady()).To(BeFalse())
			Expect(a.Transmit([][]byte{{2}}, 1)).To(MatchError(ErrTransmitNotReady))
			Expect(t.transmits).To(HaveLen(1))

			a.TransmitComplete()
			Expect(a.IsTransmitReady()).To(BeTrue())
			Expect(a.Transmit([][]byte{{3}}, 1)).To(Succeed())
			Expect(a.Transmit([][]byte{{4}}, 1)).To(MatchError(ErrTransmitNotReady))
			Expect(t.transmits).To(HaveLen(2))
			_, payload, err := DecodePacket(t.transmits[1])
			Expect(err).NotTo(HaveOccurred())
			Expect(payload).To(Equal([]byte{3}))
		})

		It("should only poll the network stack once the host set a filter", func() {
			ns.outbound = [][]byte{{0xAA}, {0xBB}}
			Expect(a.Poll()).To(BeFalse())

			a.HandleControlMessage(initializeMsg(1))
			Expect(a.Poll()).To(BeFalse())

			setVia(a, t, OIDGenCurrentPacketFilter, u32Bytes(FilterDirected))
			Expect(a.Poll()).To(BeTrue())
			Expect(a.Poll()).To(BeFalse())
			Expect(ns.outbound).To(HaveLen(1))

			a.TransmitComplete()
			Expect(a.Poll()).To(BeTrue())
			Expect(a.Poll()).To(BeFalse())
			Expect(t.transmits).To(HaveLen(2))
		})
	})

	Context("Inbound", func() {
		var packet []byte

		BeforeEach(func() {
			packet = make([]byte, PacketHeaderSize+6)
			_, err := EncodePacket(packet, []byte{1, 2, 3, 4, 5, 6})
			Expect(err).NotTo(HaveOccurred())
		})

		It("should deliver exactly the payload", func() {
			a.HandleDataPacket(packet)
			Expect(ns.delivered).To(Equal([][]byte{{1, 2, 3, 4, 5, 6}}))
			Expect(a.Stats().FramesReceived).To(Equal(uint32(1)))
			Expect(t.rearms).To(BeZero())
		})

		DescribeTable("should reject invalid packets",
			func(mutate func(p []byte) []byte) {
				a.HandleDataPacket(mutate(packet))
				Expect(ns.delivered).To(BeEmpty())
				Expect(a.Stats().ReceiveErrors).To(Equal(uint32(1)))
				Expect(a.Stats().FramesReceived).To(BeZero())
				Expect(t.rearms).To(Equal(1))
			},
			Entry("shorter than the header", func(p []byte) []byte { return p[:PacketHeaderSize-1] }),
			Entry("wrong message type", func(p []byte) []byte {
				le.PutUint32(p[0:], MsgQuery)
				return p
			}),
			Entry("message length past the received size", func(p []byte) []byte {
				le.PutUint32(p[4:], uint32(len(p)+1))
				return p
			}),
			Entry("data offset past the buffer end", func(p []byte) []byte {
				le.PutUint32(p[8:], uint32(len(p)))
				return p
			}),
			Entry("data length past the buffer end", func(p []byte) []byte {
				le.PutUint32(p[12:], 7)
				return p
			}),
			Entry("offset plus length overflowing 32 bits", func(p []byte) []byte {
				le.PutUint32(p[8:], 0xFFFFFFF0)
				le.PutUint32(p[12:], 0x20)
				return p
			}),
		)
	})

	It("should count frames dropped before the transmit slot", func() {
		a.DropOutbound()
		Expect(a.Stats().TransmitErrors).To(Equal(uint32(1)))
	})
})
