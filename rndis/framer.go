package rndis

// IsTransmitReady reports whether the transmit slot is free.
func (a *Adapter) IsTransmitReady() bool { return a.txReady }

// TransmitComplete reopens the transmit gate after the transport has sent the
// packet handed to Transport.Transmit.
func (a *Adapter) TransmitComplete() { a.txReady = true }

// Transmit frames one outbound frame, given as segments whose lengths sum to
// total, and hands it to the transport. Frames longer than MaxTransferSize
// minus the packet header are truncated, not fragmented; a negative total
// sends an empty packet. When the previous
// packet has not completed the frame is dropped and ErrTransmitNotReady is
// returned.
func (a *Adapter) Transmit(segments [][]byte, total int) error {
	if !a.txReady {
		return ErrTransmitNotReady
	}
	size := max(min(total, int(a.cfg.MaxTransferSize)-PacketHeaderSize), 0)
	if size < total {
		a.logger.Debug("truncating outbound frame", "size", total, "sent", size)
	}

	body := a.txSlot[PacketHeaderSize : PacketHeaderSize+size]
	n := 0
	for _, seg := range segments {
		if n == len(body) {
			break
		}
		n += copy(body[n:], seg)
	}
	hdr := PacketHeader{
		MessageLength: uint32(PacketHeaderSize + n),
		DataOffset:    packetDataOffset,
		DataLength:    uint32(n),
	}
	if _, err := hdr.Encode(a.txSlot); err != nil {
		panic("rndis: transmit slot too small: " + err.Error())
	}

	a.txReady = false
	a.stats.sent()
	a.transport.Transmit(a.txSlot[:PacketHeaderSize+n])
	return nil
}

// Poll moves the next frame from the network stack into the transmit slot
// when the gate is open and the host has set a packet filter. It reports
// whether a packet was handed to the transport.
func (a *Adapter) Poll() bool {
	if !a.txReady || a.State() != StateDataInitialized {
		return false
	}
	segments, total, ok := a.netstack.CollectOutboundFrame()
	if !ok {
		return false
	}
	return a.Transmit(segments, total) == nil
}

// DropOutbound counts a frame the surrounding function discarded before it
// reached the transmit slot.
func (a *Adapter) DropOutbound() { a.stats.transmitError() }

// HandleDataPacket validates one packet received on the bulk OUT pipe and
// delivers its payload. Invalid packets are counted and the receive path is
// rearmed without delivering anything.
func (a *Adapter) HandleDataPacket(packet []byte) {
	_, payload, err := DecodePacket(packet)
	if err != nil {
		a.stats.receiveError()
		a.logger.Debug("dropping data packet", "error", err)
		a.transport.RearmReceive()
		return
	}
	a.stats.received()
	a.netstack.DeliverFrame(payload)
}
