package rndis

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestRNDIS(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "RNDIS Suite")
}

type fakeTransport struct {
	reports   [][]byte
	transmits [][]byte
	rearms    int
}

func (f *fakeTransport) Report(response []byte) {
	f.reports = append(f.reports, append([]byte(nil), response...))
}

func (f *fakeTransport) Transmit(packet []byte) {
	f.transmits = append(f.transmits, append([]byte(nil), packet...))
}

func (f *fakeTransport) RearmReceive() { f.rearms++ }

func (f *fakeTransport) lastReport() []byte {
	Expect(f.reports).NotTo(BeEmpty())
	return f.reports[len(f.reports)-1]
}

type fakeNetStack struct {
	delivered [][]byte
	outbound  [][]byte
}

func (f *fakeNetStack) DeliverFrame(frame []byte) {
	f.delivered = append(f.delivered, append([]byte(nil), frame...))
}

func (f *fakeNetStack) CollectOutboundFrame() ([][]byte, int, bool) {
	if len(f.outbound) == 0 {
		return nil, 0, false
	}
	frame := f.outbound[0]
	f.outbound = f.outbound[1:]
	return [][]byte{frame}, len(frame), true
}

func newTestAdapter() (*Adapter, *fakeTransport, *fakeNetStack) {
	t := &fakeTransport{}
	ns := &fakeNetStack{}
	a, err := NewAdapter(DefaultConfig(), t, ns, nil)
	Expect(err).NotTo(HaveOccurred())
	return a, t, ns
}

func initializeMsg(requestID uint32) []byte {
	b := make([]byte, InitializeMsgSize)
	_, err := InitializeMsg{RequestID: requestID, MajorVersion: 1, MaxTransferSize: 16384}.Encode(b)
	Expect(err).NotTo(HaveOccurred())
	return b
}

func oidMsg(msgType uint32, requestID uint32, oid OID, info []byte) []byte {
	b := make([]byte, OIDRequestHeaderSize+len(info))
	_, err := OIDRequest{RequestID: requestID, OID: oid, InfoBuffer: info}.Encode(b, msgType)
	Expect(err).NotTo(HaveOccurred())
	return b
}

func u32Bytes(v uint32) []byte {
	b := make([]byte, 4)
	le.PutUint32(b, v)
	return b
}

func queryVia(a *Adapter, t *fakeTransport, oid OID) QueryCmplt {
	a.HandleControlMessage(oidMsg(MsgQuery, 7, oid, nil))
	c, err := DecodeQueryCmplt(t.lastReport())
	Expect(err).NotTo(HaveOccurred())
	Expect(c.RequestID).To(Equal(uint32(7)))
	return c
}

func setVia(a *Adapter, t *fakeTransport, oid OID, info []byte) SetCmplt {
	a.HandleControlMessage(oidMsg(MsgSet, 9, oid, info))
	c, err := DecodeSetCmplt(t.lastReport())
	Expect(err).NotTo(HaveOccurred())
	Expect(c.RequestID).To(Equal(uint32(9)))
	return c
}
