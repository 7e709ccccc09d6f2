package api

import (
	"sort"
	"strings"
	"sync"

	"github.com/Alia5/VNETIP/apitypes"
	"github.com/Alia5/VNETIP/device"
	"github.com/Alia5/VNETIP/usb"
)

// DeviceRegistration describes a device type, providing both device creation
// and stream handler registration.
type DeviceRegistration interface {
	// CreateDevice returns a new device instance of this type.
	CreateDevice(o *device.CreateOptions) (usb.Device, error)
	// StreamHandler returns the handler function for long-lived connections.
	StreamHandler() StreamHandlerFunc
}

// StatsReporter is implemented by devices that expose link state and frame
// counters through the management API.
type StatsReporter interface {
	DeviceStats() apitypes.DeviceStatsResponse
}

var (
	deviceRegistry   = make(map[string]DeviceRegistration)
	deviceRegistryMu sync.RWMutex
)

// RegisterDevice registers a device type for dynamic creation and handler dispatch.
// This should be called from device package init() functions.
// The name is case-insensitive.
func RegisterDevice(name string, reg DeviceRegistration) {
	deviceRegistryMu.Lock()
	defer deviceRegistryMu.Unlock()
	deviceRegistry[strings.ToLower(name)] = reg
}

// GetRegistration retrieves a registered device type by name.
// Returns nil if not found. Name lookup is case-insensitive.
func GetRegistration(name string) DeviceRegistration {
	deviceRegistryMu.RLock()
	defer deviceRegistryMu.RUnlock()
	return deviceRegistry[strings.ToLower(name)]
}

// ListDeviceTypes returns the sorted names of all registered device types.
func ListDeviceTypes() []string {
	deviceRegistryMu.RLock()
	defer deviceRegistryMu.RUnlock()
	types := make([]string, 0, len(deviceRegistry))
	for name := range deviceRegistry {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

// GetStreamHandler retrieves the stream handler for a registered device type.
// Returns nil if not found.
func GetStreamHandler(name string) StreamHandlerFunc {
	reg := GetRegistration(name)
	if reg == nil {
		return nil
	}
	return reg.StreamHandler()
}
