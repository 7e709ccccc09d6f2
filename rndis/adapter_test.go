package rndis

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Adapter", func() {
	var (
		a  *Adapter
		t  *fakeTransport
		ns *fakeNetStack
	)

	BeforeEach(func() {
		a, t, ns = newTestAdapter()
	})

	It("should start Uninitialized with an open transmit gate", func() {
		Expect(a.State()).To(Equal(StateUninitialized))
		Expect(a.IsTransmitReady()).To(BeTrue())
		Expect(a.Stats()).To(Equal(Stats{}))
	})

	It("should reject an invalid configuration", func() {
		cfg := DefaultConfig()
		cfg.HardwareAddr = cfg.HardwareAddr[:4]
		_, err := NewAdapter(cfg, t, ns, nil)
		Expect(err).To(HaveOccurred())
	})

	Context("Initialize", func() {
		It("should report the device capabilities and echo the RequestId", func() {
			a.HandleControlMessage(initializeMsg(0x42))
			Expect(t.reports).To(HaveLen(1))
			c, err := DecodeInitializeCmplt(t.lastReport())
			Expect(err).NotTo(HaveOccurred())
			Expect(c.RequestID).To(Equal(uint32(0x42)))
			Expect(c.Status).To(Equal(StatusSuccess))
			Expect(c.MajorVersion).To(Equal(uint32(1)))
			Expect(c.MinorVersion).To(Equal(uint32(0)))
			Expect(c.DeviceFlags).To(Equal(DeviceFlagsConnectionless))
			Expect(c.Medium).To(Equal(Medium8023))
			Expect(c.MaxPacketsPerTransfer).To(Equal(uint32(1)))
			Expect(c.MaxTransferSize).To(Equal(uint32(1558)))
			Expect(c.AfListOffset).To(BeZero())
			Expect(c.AfListSize).To(BeZero())
			Expect(a.State()).To(Equal(StateInitialized))
		})

		It("should answer a truncated initialize with INVALID_DATA", func() {
			msg := initializeMsg(5)[:16]
			le.PutUint32(msg[4:], 16)
			a.HandleControlMessage(msg)
			c, err := DecodeInitializeCmplt(t.lastReport())
			Expect(err).NotTo(HaveOccurred())
			Expect(c.RequestID).To(Equal(uint32(5)))
			Expect(c.Status).To(Equal(StatusInvalidData))
			Expect(a.State()).To(Equal(StateUninitialized))
		})
	})

	Context("OID table", func() {
		It("should answer every supported OID with success and its documented width", func() {
			for _, e := range oidTable {
				if e.status != StatusSuccess {
					continue
				}
				status, payload := a.Query(e.oid)
				Expect(status).To(Equal(StatusSuccess), e.oid.String())
				if e.width > 0 {
					Expect(payload).To(HaveLen(e.width), e.oid.String())
				}
			}
		})

		It("should list exactly the OIDs it answers successfully", func() {
			status, payload := a.Query(OIDGenSupportedList)
			Expect(status).To(Equal(StatusSuccess))
			Expect(len(payload) % 4).To(BeZero())

			var listed []OID
			for i := 0; i < len(payload); i += 4 {
				listed = append(listed, OID(le.Uint32(payload[i:])))
			}
			Expect(listed).To(ContainElement(OIDGenSupportedList))
			for _, oid := range listed {
				s, _ := a.Query(oid)
				Expect(s).To(Equal(StatusSuccess), oid.String())
			}
			for _, e := range oidTable {
				s, _ := a.Query(e.oid)
				if s == StatusSuccess {
					Expect(listed).To(ContainElement(e.oid))
				}
			}
			Expect(listed).To(Equal(SupportedOIDs()))
		})

		It("should fail unknown OIDs with an empty payload", func() {
			for _, oid := range []OID{0, OIDGenProtocolOptions, OIDGenDriverVersion, OIDPnPCapabilities, 0xDEADBEEF} {
				c := queryVia(a, t, oid)
				Expect(c.Status).To(Equal(StatusFailure), oid.String())
				Expect(c.InfoBuffer).To(BeEmpty())
				Expect(le.Uint32(t.lastReport()[4:])).To(Equal(uint32(QueryCmpltHeaderSize)))
			}
		})

		It("should answer multicast list and 802.3 MAC options as not supported", func() {
			for _, oid := range []OID{OID8023MulticastList, OID8023MACOptions} {
				c := queryVia(a, t, oid)
				Expect(c.Status).To(Equal(StatusNotSupported))
				Expect(c.InfoBuffer).To(BeEmpty())
			}
		})

		It("should return the same address as permanent and current", func() {
			perm := queryVia(a, t, OID8023PermanentAddress).InfoBuffer
			Expect(perm).To(Equal([]byte(DefaultConfig().HardwareAddr)))
			cur := queryVia(a, t, OID8023CurrentAddress).InfoBuffer
			Expect(cur).To(Equal(perm))
		})

		It("should terminate the vendor description", func() {
			c := queryVia(a, t, OIDGenVendorDescription)
			Expect(c.Status).To(Equal(StatusSuccess))
			Expect(string(c.InfoBuffer)).To(Equal(DefaultConfig().VendorDescription + "\x00"))
		})

		It("should report link speed in units of 100 bit/s", func() {
			c := queryVia(a, t, OIDGenLinkSpeed)
			Expect(le.Uint32(c.InfoBuffer)).To(Equal(uint32(120000)))
		})

		It("should read the statistics counters live", func() {
			a.HandleDataPacket([]byte{1, 2, 3})
			c := queryVia(a, t, OIDGenRcvError)
			Expect(le.Uint32(c.InfoBuffer)).To(Equal(uint32(1)))
		})

		It("should answer a query with an out of range buffer with INVALID_DATA", func() {
			msg := oidMsg(MsgQuery, 11, OIDGenVendorID, u32Bytes(0))
			le.PutUint32(msg[16:], 1000)
			a.HandleControlMessage(msg)
			c, err := DecodeQueryCmplt(t.lastReport())
			Expect(err).NotTo(HaveOccurred())
			Expect(c.RequestID).To(Equal(uint32(11)))
			Expect(c.Status).To(Equal(StatusInvalidData))
			Expect(c.InfoBuffer).To(BeEmpty())
		})
	})

	Context("Packet filter", func() {
		BeforeEach(func() {
			a.HandleControlMessage(initializeMsg(1))
		})

		It("should enter DataInitialized on a non-zero filter and read it back", func() {
			c := setVia(a, t, OIDGenCurrentPacketFilter, u32Bytes(0x00000001))
			Expect(c.Status).To(Equal(StatusSuccess))
			Expect(a.State()).To(Equal(StateDataInitialized))
			q := queryVia(a, t, OIDGenCurrentPacketFilter)
			Expect(q.Status).To(Equal(StatusSuccess))
			Expect(le.Uint32(q.InfoBuffer)).To(Equal(uint32(0x00000001)))
		})

		It("should return to Initialized on a zero filter", func() {
			setVia(a, t, OIDGenCurrentPacketFilter, u32Bytes(FilterDirected|FilterBroadcast))
			Expect(a.State()).To(Equal(StateDataInitialized))
			c := setVia(a, t, OIDGenCurrentPacketFilter, u32Bytes(0))
			Expect(c.Status).To(Equal(StatusSuccess))
			Expect(a.State()).To(Equal(StateInitialized))
			Expect(a.PacketFilter()).To(BeZero())
		})

		It("should answer a short filter value with INVALID_DATA", func() {
			c := setVia(a, t, OIDGenCurrentPacketFilter, []byte{1, 0})
			Expect(c.Status).To(Equal(StatusInvalidData))
			Expect(a.State()).To(Equal(StateInitialized))
		})
	})

	Context("Packet filter before Initialize", func() {
		It("should store a non-zero filter without entering DataInitialized", func() {
			c := setVia(a, t, OIDGenCurrentPacketFilter, u32Bytes(1))
			Expect(c.Status).To(Equal(StatusSuccess))
			Expect(a.PacketFilter()).To(Equal(uint32(1)))
			Expect(a.State()).To(Equal(StateUninitialized))
		})

		It("should apply the stored filter once initialized", func() {
			setVia(a, t, OIDGenCurrentPacketFilter, u32Bytes(FilterDirected))
			a.HandleControlMessage(initializeMsg(2))
			Expect(a.State()).To(Equal(StateDataInitialized))
			q := queryVia(a, t, OIDGenCurrentPacketFilter)
			Expect(q.Status).To(Equal(StatusSuccess))
			Expect(le.Uint32(q.InfoBuffer)).To(Equal(FilterDirected))
		})

		It("should move to Initialized on a zero filter", func() {
			c := setVia(a, t, OIDGenCurrentPacketFilter, u32Bytes(0))
			Expect(c.Status).To(Equal(StatusSuccess))
			Expect(a.State()).To(Equal(StateInitialized))
			Expect(a.PacketFilter()).To(BeZero())
		})
	})

	It("should keep the filter across a repeated Initialize", func() {
		a.HandleControlMessage(initializeMsg(1))
		setVia(a, t, OIDGenCurrentPacketFilter, u32Bytes(FilterBroadcast))
		a.HandleControlMessage(initializeMsg(2))
		Expect(a.State()).To(Equal(StateDataInitialized))
		Expect(a.PacketFilter()).To(Equal(FilterBroadcast))
	})

	DescribeTable("Set on other OIDs",
		func(oid OID, info []byte, want uint32) {
			c := setVia(a, t, oid, info)
			Expect(c.Status).To(Equal(want))
		},
		Entry("current lookahead", OIDGenCurrentLookahead, u32Bytes(1514), StatusSuccess),
		Entry("protocol options", OIDGenProtocolOptions, u32Bytes(0), StatusSuccess),
		Entry("multicast list", OID8023MulticastList, make([]byte, 12), StatusSuccess),
		Entry("add wake up pattern", OIDPnPAddWakeUpPattern, u32Bytes(0), StatusFailure),
		Entry("remove wake up pattern", OIDPnPRemoveWakeUpPattern, u32Bytes(0), StatusFailure),
		Entry("enable wake up", OIDPnPEnableWakeUp, u32Bytes(0), StatusFailure),
		Entry("set power", OIDPnPSetPower, u32Bytes(0), StatusFailure),
		Entry("vendor id", OIDGenVendorID, u32Bytes(0), StatusFailure),
	)

	It("should hand config parameters to the hook", func() {
		var got []ConfigParameter
		a.OnConfigParameter = func(p ConfigParameter) { got = append(got, p) }
		param := ConfigParameter{Name: "NetworkAddress", Type: ConfigParamString, Value: "001122334455"}
		c := setVia(a, t, OIDGenRNDISConfigParameter, param.Encode())
		Expect(c.Status).To(Equal(StatusSuccess))
		Expect(got).To(Equal([]ConfigParameter{param}))
	})

	Context("Reset, keepalive and halt", func() {
		for _, filter := range []uint32{0, 1} {
			filter := filter
			It("should return to Uninitialized on reset", func() {
				a.HandleControlMessage(initializeMsg(1))
				setVia(a, t, OIDGenCurrentPacketFilter, u32Bytes(filter))
				a.HandleControlMessage(resetMsg())
				c, err := DecodeResetCmplt(t.lastReport())
				Expect(err).NotTo(HaveOccurred())
				Expect(c.Status).To(Equal(StatusSuccess))
				Expect(c.AddressingReset).To(Equal(uint32(1)))
				Expect(a.State()).To(Equal(StateUninitialized))
				Expect(a.PacketFilter()).To(BeZero())
			})
		}

		It("should reset from Uninitialized too", func() {
			a.HandleControlMessage(resetMsg())
			Expect(t.reports).To(HaveLen(1))
			Expect(a.State()).To(Equal(StateUninitialized))
		})

		It("should answer keepalive with the same RequestId", func() {
			a.HandleControlMessage(initializeMsg(1))
			b := make([]byte, RequestMsgSize)
			_, err := RequestMsg{Type: MsgKeepalive, RequestID: 0xCAFE}.Encode(b)
			Expect(err).NotTo(HaveOccurred())
			a.HandleControlMessage(b)
			c, err := DecodeKeepaliveCmplt(t.lastReport())
			Expect(err).NotTo(HaveOccurred())
			Expect(c.RequestID).To(Equal(uint32(0xCAFE)))
			Expect(c.Status).To(Equal(StatusSuccess))
			Expect(a.State()).To(Equal(StateInitialized))
		})

		It("should halt without a response", func() {
			a.HandleControlMessage(initializeMsg(1))
			b := make([]byte, RequestMsgSize)
			_, err := RequestMsg{Type: MsgHalt, RequestID: 2}.Encode(b)
			Expect(err).NotTo(HaveOccurred())
			a.HandleControlMessage(b)
			Expect(t.reports).To(HaveLen(1))
			Expect(a.State()).To(Equal(StateUninitialized))
		})
	})

	It("should silently ignore unknown message types", func() {
		b := make([]byte, 16)
		le.PutUint32(b[0:], 0x00000099)
		le.PutUint32(b[4:], 16)
		a.HandleControlMessage(b)
		Expect(t.reports).To(BeEmpty())
	})

	It("should drop messages without a readable RequestId", func() {
		a.HandleControlMessage([]byte{0x04, 0, 0, 0, 8, 0, 0, 0})
		Expect(t.reports).To(BeEmpty())
	})

	It("should ignore oversized messages of unknown type", func() {
		a.HandleControlMessage(make([]byte, MaxControlMessageSize+1))
		Expect(t.reports).To(BeEmpty())
	})

	DescribeTable("oversized requests",
		func(msgType uint32, decode func([]byte) (uint32, uint32, error)) {
			b := oidMsg(msgType, 21, OIDGenCurrentPacketFilter, make([]byte, len(a.scratch)))
			a.HandleControlMessage(b)
			Expect(t.reports).To(HaveLen(1))
			id, status, err := decode(t.lastReport())
			Expect(err).NotTo(HaveOccurred())
			Expect(id).To(Equal(uint32(21)))
			Expect(status).To(Equal(StatusInvalidData))
			Expect(a.State()).To(Equal(StateUninitialized))
		},
		Entry("set", MsgSet, func(b []byte) (uint32, uint32, error) {
			c, err := DecodeSetCmplt(b)
			return c.RequestID, c.Status, err
		}),
		Entry("query", MsgQuery, func(b []byte) (uint32, uint32, error) {
			c, err := DecodeQueryCmplt(b)
			return c.RequestID, c.Status, err
		}),
	)

	Context("Media state", func() {
		It("should indicate a link change once initialized", func() {
			a.SetMediaConnected(false)
			Expect(t.reports).To(BeEmpty())
			Expect(le.Uint32(queryVia(a, t, OIDGenMediaConnectStatus).InfoBuffer)).To(Equal(MediaStateDisconnected))

			a.HandleControlMessage(initializeMsg(1))
			n := len(t.reports)
			a.SetMediaConnected(true)
			Expect(t.reports).To(HaveLen(n + 1))
			m, err := DecodeIndicateStatus(t.lastReport())
			Expect(err).NotTo(HaveOccurred())
			Expect(m.Status).To(Equal(StatusMediaConnect))
			Expect(a.MediaConnected()).To(BeTrue())

			a.SetMediaConnected(true)
			Expect(t.reports).To(HaveLen(n + 1))
		})
	})
})

func resetMsg() []byte {
	b := make([]byte, RequestMsgSize)
	_, err := RequestMsg{Type: MsgReset}.Encode(b)
	Expect(err).NotTo(HaveOccurred())
	return b
}

var _ = Describe("Errors", func() {
	It("should wrap unknown OIDs", func() {
		a, _, _ := newTestAdapter()
		_, status, err := a.queryInto(0x12345678, make([]byte, 8))
		Expect(status).To(Equal(StatusFailure))
		Expect(errors.Is(err, ErrUnsupportedOID)).To(BeTrue())
	})

	It("should wrap rejected sets", func() {
		a, _, _ := newTestAdapter()
		status, err := a.set(OIDRequest{OID: OIDPnPSetPower})
		Expect(status).To(Equal(StatusFailure))
		Expect(errors.Is(err, ErrUnsupportedOperation)).To(BeTrue())
	})
})
