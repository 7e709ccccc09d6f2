// Package rndis provides a virtual USB RNDIS network adapter. The host sees a
// CDC RNDIS function; the other side is a stream of raw Ethernet frames.
package rndis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/Alia5/VNETIP/apitypes"
	"github.com/Alia5/VNETIP/device"
	core "github.com/Alia5/VNETIP/rndis"
	"github.com/Alia5/VNETIP/usb"
	"github.com/Alia5/VNETIP/usbip"
)

const (
	maxQueuedResponses = 8
	outboundQueueLen   = 64
	inboundQueueLen    = 64

	ethHeaderLen = 14
)

// Class request types on EP0: class, recipient interface.
const (
	reqTypeClassOut = 0x21
	reqTypeClassIn  = 0xA1
)

var (
	ErrClosed          = errors.New("rndis device closed")
	ErrQueueFull       = errors.New("outbound queue full")
	ErrUnknownEndpoint = errors.New("unknown endpoint")
)

// responseAvailable is the CDC RESPONSE_AVAILABLE notification.
var responseAvailable = []byte{usb.CDCNotifyResponseAvailable, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}

// Device is a USB RNDIS function around one core.Adapter. Every adapter call
// happens with mu held; the adapter calls back into the Transport and
// NetStack methods below from inside those calls.
type Device struct {
	descriptor usb.Descriptor
	logger     *slog.Logger

	mu        sync.Mutex
	adapter   *core.Adapter
	responses [][]byte
	outbound  [][]byte
	dropped   uint32

	notify  chan struct{}
	tx      chan []byte
	held    chan []byte
	rx      chan []byte
	done    chan struct{}
	closeMu sync.Once
}

// Stats is a snapshot of the adapter state and counters.
type Stats struct {
	core.Stats
	State         core.State
	PacketFilter  uint32
	LinkUp        bool
	FramesDropped uint32
}

// New returns an RNDIS device configured from o, falling back to
// core.DefaultConfig for unset options. The link starts down.
func New(o *device.CreateOptions) (*Device, error) {
	cfg, err := configFromOptions(o)
	if err != nil {
		return nil, err
	}
	d := &Device{
		descriptor: newDescriptor(cfg.VendorDescription, strings.ToUpper(strings.ReplaceAll(cfg.HardwareAddr.String(), ":", ""))),
		logger:     slog.Default().With("device", "rndis", "mac", cfg.HardwareAddr.String()),
		notify:     make(chan struct{}, maxQueuedResponses),
		tx:         make(chan []byte, 1),
		held:       make(chan []byte, 1),
		rx:         make(chan []byte, inboundQueueLen),
		done:       make(chan struct{}),
	}
	if o != nil {
		if o.IdVendor != nil {
			d.descriptor.Device.IDVendor = *o.IdVendor
		}
		if o.IdProduct != nil {
			d.descriptor.Device.IDProduct = *o.IdProduct
		}
	}
	d.adapter, err = core.NewAdapter(cfg, (*transport)(d), (*netStack)(d), d.logger)
	if err != nil {
		return nil, err
	}
	d.adapter.OnConfigParameter = func(p core.ConfigParameter) {
		d.logger.Debug("host config parameter", "name", p.Name, "value", p.Value)
	}
	d.adapter.SetMediaConnected(false)
	return d, nil
}

func configFromOptions(o *device.CreateOptions) (core.Config, error) {
	cfg := core.DefaultConfig()
	if o == nil {
		return cfg, nil
	}
	if o.HardwareAddr != nil {
		mac, err := net.ParseMAC(*o.HardwareAddr)
		if err != nil {
			return cfg, fmt.Errorf("hardware address: %w", err)
		}
		if len(mac) != 6 {
			return cfg, fmt.Errorf("hardware address %s is not an EUI-48", mac)
		}
		cfg.HardwareAddr = mac
	}
	if o.VendorDescription != nil && *o.VendorDescription != "" {
		cfg.VendorDescription = *o.VendorDescription
	}
	if o.LinkSpeed != nil {
		if *o.LinkSpeed == 0 {
			return cfg, fmt.Errorf("link speed must be non-zero")
		}
		cfg.LinkSpeed = *o.LinkSpeed
	}
	if o.MTU != nil {
		if *o.MTU < 576 || *o.MTU > 9000 {
			return cfg, fmt.Errorf("mtu %d outside 576..9000", *o.MTU)
		}
		cfg.MTU = *o.MTU
		cfg.MaxTransferSize = ethHeaderLen + cfg.MTU + core.PacketHeaderSize
	}
	return cfg, cfg.Validate()
}

func (d *Device) GetDescriptor() *usb.Descriptor { return &d.descriptor }

// Config returns the adapter configuration.
func (d *Device) Config() core.Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.adapter.Config()
}

// HandleControl answers the two CDC encapsulation requests on EP0.
func (d *Device) HandleControl(bmRequestType, bRequest uint8, wValue, wIndex, wLength uint16, data []byte) ([]byte, bool) {
	switch {
	case bmRequestType == reqTypeClassOut && bRequest == usb.CDCReqSendEncapsulatedCommand:
		d.mu.Lock()
		d.adapter.HandleControlMessage(data)
		d.mu.Unlock()
		return nil, true
	case bmRequestType == reqTypeClassIn && bRequest == usb.CDCReqGetEncapsulatedResponse:
		d.mu.Lock()
		defer d.mu.Unlock()
		if len(d.responses) == 0 {
			return []byte{0x00}, true
		}
		resp := d.responses[0]
		d.responses[0] = nil
		d.responses = d.responses[1:]
		if len(resp) > int(wLength) {
			resp = resp[:wLength]
		}
		return resp, true
	}
	return nil, false
}

// HandleTransfer serves bulk OUT data packets and non-blocking IN polls.
func (d *Device) HandleTransfer(ep uint32, dir uint32, out []byte) []byte {
	if dir == usbip.DirOut {
		if ep == epData {
			d.mu.Lock()
			d.adapter.HandleDataPacket(out)
			d.mu.Unlock()
		}
		return nil
	}
	switch ep {
	case epNotify:
		select {
		case <-d.notify:
			return responseAvailable
		default:
		}
	case epData:
		select {
		case pkt := <-d.held:
			return pkt
		default:
		}
		select {
		case pkt := <-d.tx:
			d.transmitDone()
			return pkt
		default:
		}
	}
	return nil
}

// HandleTransferContext completes IN transfers once the interrupt endpoint
// has a notification or the transmit slot holds a packet.
func (d *Device) HandleTransferContext(ctx context.Context, ep uint32, dir uint32, out []byte) ([]byte, error) {
	if dir == usbip.DirOut {
		return d.HandleTransfer(ep, dir, out), nil
	}
	switch ep {
	case epNotify:
		select {
		case <-d.notify:
			if err := ctx.Err(); err != nil {
				d.pushNotify()
				return nil, err
			}
			return responseAvailable, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-d.done:
			return nil, ErrClosed
		}
	case epData:
		select {
		case pkt := <-d.held:
			return pkt, nil
		default:
		}
		select {
		case pkt := <-d.held:
			return pkt, nil
		case pkt := <-d.tx:
			// The gate stays closed until the packet has really left.
			if err := ctx.Err(); err != nil {
				d.requeue(pkt)
				return nil, err
			}
			d.transmitDone()
			return pkt, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-d.done:
			return nil, ErrClosed
		}
	}
	return nil, fmt.Errorf("%w: IN %d", ErrUnknownEndpoint, ep)
}

// ReclaimTransfer takes back the data of an IN transfer whose URB was
// unlinked after it had already completed. A reclaimed packet goes out
// before anything else on the data endpoint.
func (d *Device) ReclaimTransfer(ep uint32, data []byte) {
	switch ep {
	case epNotify:
		d.pushNotify()
	case epData:
		select {
		case d.held <- data:
		default:
			d.logger.Warn("reclaimed packet lost, one already held", "size", len(data))
		}
	}
}

func (d *Device) pushNotify() {
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// requeue puts back a packet taken from the transmit slot before the gate
// was reopened. A configuration reset may have refilled the slot meanwhile,
// in which case the stale packet is dropped.
func (d *Device) requeue(pkt []byte) {
	select {
	case d.tx <- pkt:
	default:
		d.logger.Debug("transmit slot refilled, dropping cancelled packet", "size", len(pkt))
	}
}

func (d *Device) transmitDone() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.adapter.TransmitComplete()
	d.adapter.Poll()
}

// SetConfiguration resets the data path: a packet left in the transmit slot
// is discarded and the gate reopened.
func (d *Device) SetConfiguration(value uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	select {
	case <-d.tx:
	default:
	}
	select {
	case <-d.held:
	default:
	}
	d.adapter.TransmitComplete()
	(*transport)(d).RearmReceive()
	d.logger.Debug("usb configuration set", "value", value)
	d.adapter.Poll()
}

// SendFrame queues an Ethernet frame for the host. The frame is copied.
func (d *Device) SendFrame(frame []byte) error {
	select {
	case <-d.done:
		return ErrClosed
	default:
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.outbound) >= outboundQueueLen {
		d.adapter.DropOutbound()
		return ErrQueueFull
	}
	d.outbound = append(d.outbound, append([]byte(nil), frame...))
	d.adapter.Poll()
	return nil
}

// Frames delivers the Ethernet frames the host sent.
func (d *Device) Frames() <-chan []byte { return d.rx }

// Done is closed when the device is closed.
func (d *Device) Done() <-chan struct{} { return d.done }

// SetLinkState reports the media as connected or disconnected to the host.
func (d *Device) SetLinkState(up bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.adapter.SetMediaConnected(up)
}

func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Stats:         d.adapter.Stats(),
		State:         d.adapter.State(),
		PacketFilter:  d.adapter.PacketFilter(),
		LinkUp:        d.adapter.MediaConnected(),
		FramesDropped: d.dropped,
	}
}

// DeviceStats reports Stats through the management API.
func (d *Device) DeviceStats() apitypes.DeviceStatsResponse {
	s := d.Stats()
	return apitypes.DeviceStatsResponse{
		State:          s.State.String(),
		PacketFilter:   s.PacketFilter,
		LinkUp:         s.LinkUp,
		FramesSent:     s.FramesSent,
		FramesReceived: s.FramesReceived,
		ReceiveErrors:  s.ReceiveErrors,
		TransmitErrors: s.TransmitErrors,
		FramesDropped:  s.FramesDropped,
	}
}

// Close releases blocked transfers. It is called when the device is removed
// from its bus.
func (d *Device) Close() error {
	d.closeMu.Do(func() { close(d.done) })
	return nil
}

// transport and netStack are the adapter-facing views of Device. Their
// methods run inside adapter calls, with mu already held.
type (
	transport Device
	netStack  Device
)

func (t *transport) Report(response []byte) {
	d := (*Device)(t)
	if len(d.responses) >= maxQueuedResponses {
		d.logger.Warn("response queue full, dropping oldest response")
		d.responses[0] = nil
		d.responses = d.responses[1:]
	}
	d.responses = append(d.responses, append([]byte(nil), response...))
	d.pushNotify()
}

func (t *transport) Transmit(packet []byte) {
	d := (*Device)(t)
	select {
	case d.tx <- append([]byte(nil), packet...):
	default:
		// The adapter gate admits one packet at a time.
		d.logger.Error("transmit slot occupied, packet lost")
	}
}

// RearmReceive has nothing to prepare: every bulk OUT URB carries its own
// buffer.
func (t *transport) RearmReceive() {}

func (n *netStack) DeliverFrame(frame []byte) {
	d := (*Device)(n)
	select {
	case d.rx <- append([]byte(nil), frame...):
	default:
		d.dropped++
		d.logger.Debug("receive queue full, dropping frame", "size", len(frame))
	}
}

func (n *netStack) CollectOutboundFrame() ([][]byte, int, bool) {
	d := (*Device)(n)
	if len(d.outbound) == 0 {
		return nil, 0, false
	}
	frame := d.outbound[0]
	d.outbound[0] = nil
	d.outbound = d.outbound[1:]
	return [][]byte{frame}, len(frame), true
}
