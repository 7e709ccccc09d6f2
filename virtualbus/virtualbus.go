// Package virtualbus manages USB bus topology and auto-assigns device addresses.
package virtualbus

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/Alia5/VNETIP/device"
	"github.com/Alia5/VNETIP/usb"
	"github.com/Alia5/VNETIP/usbip"
)

// Exported devices report a sysfs-like path below this prefix; usbip clients
// only display it.
const basepath = "/sys/devices/platform/vnetip_hcd.0/usb"

var (
	busNumbers = struct {
		sync.Mutex
		next      uint32
		allocated map[uint32]bool
	}{next: 1, allocated: make(map[uint32]bool)}
)

// VirtualBus manages USB bus topology and auto-assigns device addresses.
type VirtualBus struct {
	mutex   sync.Mutex
	busId   uint32
	devices []busDevice
}

type busDevice struct {
	dev    usb.Device
	meta   usbip.ExportMeta
	ctx    context.Context
	cancel context.CancelFunc
}

// DeviceMeta exposes a registered device and its metadata for external queries.
type DeviceMeta struct {
	Dev  usb.Device
	Meta usbip.ExportMeta
}

// New creates a new VirtualBus instance with the lowest free bus number at or
// above the last one handed out.
func New() *VirtualBus {
	busNumbers.Lock()
	defer busNumbers.Unlock()

	id := busNumbers.next
	for busNumbers.allocated[id] || id == 0 {
		id++
	}
	busNumbers.allocated[id] = true
	busNumbers.next = id + 1
	return &VirtualBus{busId: id}
}

// NewWithBusId creates a new VirtualBus with a specific bus number.
// Returns an error if the bus number is already allocated.
func NewWithBusId(busId uint32) (*VirtualBus, error) {
	if busId == 0 {
		return nil, fmt.Errorf("bus number 0 is reserved")
	}
	busNumbers.Lock()
	defer busNumbers.Unlock()

	if busNumbers.allocated[busId] {
		return nil, fmt.Errorf("bus number %d already allocated", busId)
	}
	busNumbers.allocated[busId] = true
	return &VirtualBus{busId: busId}, nil
}

// Add registers a device on the lowest free device number and returns its
// lifecycle context, which carries the export metadata and the stream
// connection timer (see device.GetDeviceMeta and device.GetConnTimer). The
// context is cancelled when the device is removed or the bus is closed.
func (vb *VirtualBus) Add(dev usb.Device) (context.Context, error) {
	vb.mutex.Lock()
	defer vb.mutex.Unlock()

	used := make(map[uint32]bool, len(vb.devices))
	for _, d := range vb.devices {
		if d.dev == dev {
			return nil, fmt.Errorf("device already registered on bus %d", vb.busId)
		}
		used[d.meta.DevId] = true
	}
	devID := uint32(1)
	for used[devID] {
		devID++
	}

	busDevID := fmt.Sprintf("%d-%d", vb.busId, devID)
	meta := usbip.NewExportMeta(fmt.Sprintf("%s%d/%s", basepath, vb.busId, busDevID), busDevID, vb.busId, devID)

	// Stopped until the device's stream disconnects.
	connTimer := time.NewTimer(time.Hour)
	connTimer.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	ctx = context.WithValue(ctx, device.ExportMetaKey, &meta)
	ctx = context.WithValue(ctx, device.ConnTimerKey, connTimer)

	vb.devices = append(vb.devices, busDevice{dev: dev, meta: meta, ctx: ctx, cancel: cancel})
	return ctx, nil
}

// GetAllDeviceMetas returns a copy of all registered devices with their export metadata.
func (vb *VirtualBus) GetAllDeviceMetas() []DeviceMeta {
	vb.mutex.Lock()
	defer vb.mutex.Unlock()
	out := make([]DeviceMeta, 0, len(vb.devices))
	for _, d := range vb.devices {
		out = append(out, DeviceMeta{Dev: d.dev, Meta: d.meta})
	}
	return out
}

// BusID returns the bus number for this VirtualBus.
func (vb *VirtualBus) BusID() uint32 {
	vb.mutex.Lock()
	defer vb.mutex.Unlock()
	return vb.busId
}

// Devices returns all devices currently attached to this bus.
func (vb *VirtualBus) Devices() []usb.Device {
	vb.mutex.Lock()
	defer vb.mutex.Unlock()
	out := make([]usb.Device, 0, len(vb.devices))
	for _, d := range vb.devices {
		out = append(out, d.dev)
	}
	return out
}

// Device looks up a device by its device number (e.g. "1").
func (vb *VirtualBus) Device(deviceID string) (usb.Device, context.Context, bool) {
	id, err := strconv.ParseUint(deviceID, 10, 32)
	if err != nil {
		return nil, nil, false
	}
	vb.mutex.Lock()
	defer vb.mutex.Unlock()
	for _, d := range vb.devices {
		if d.meta.DevId == uint32(id) {
			return d.dev, d.ctx, true
		}
	}
	return nil, nil, false
}

// RemoveDeviceByID removes a device by its device number (e.g. "1").
func (vb *VirtualBus) RemoveDeviceByID(deviceID string) error {
	dev, _, ok := vb.Device(deviceID)
	if !ok {
		return fmt.Errorf("device with id %s not found on bus %d", deviceID, vb.BusID())
	}
	return vb.Remove(dev)
}

// Remove unregisters a device from the bus, cancels its context and closes
// it when it implements io.Closer.
func (vb *VirtualBus) Remove(dev usb.Device) error {
	vb.mutex.Lock()
	var removed *busDevice
	for i, d := range vb.devices {
		if d.dev == dev {
			removed = &d
			vb.devices = append(vb.devices[:i], vb.devices[i+1:]...)
			break
		}
	}
	vb.mutex.Unlock()

	if removed == nil {
		return fmt.Errorf("device not found")
	}
	removed.cancel()
	if c, ok := dev.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Close removes every device and frees the bus number for reuse. After
// calling Close, this VirtualBus instance should not be used.
func (vb *VirtualBus) Close() error {
	for _, dev := range vb.Devices() {
		_ = vb.Remove(dev)
	}

	busNumbers.Lock()
	defer busNumbers.Unlock()
	delete(busNumbers.allocated, vb.busId)
	if vb.busId < busNumbers.next {
		busNumbers.next = vb.busId
	}
	return nil
}

// GetDeviceContext returns the context for a specific device.
// Returns nil if the device is not found.
func (vb *VirtualBus) GetDeviceContext(dev usb.Device) context.Context {
	vb.mutex.Lock()
	defer vb.mutex.Unlock()
	for i := range vb.devices {
		if vb.devices[i].dev == dev {
			return vb.devices[i].ctx
		}
	}
	return nil
}
