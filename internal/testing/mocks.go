package testing

import (
	"testing"

	"github.com/Alia5/VNETIP/device"
	"github.com/Alia5/VNETIP/internal/server/api"
	"github.com/Alia5/VNETIP/usb"
)

type mockRegistration struct {
	deviceName  string
	handlerFunc api.StreamHandlerFunc

	createFunc func(o *device.CreateOptions) (usb.Device, error)
}

func (m *mockRegistration) CreateDevice(o *device.CreateOptions) (usb.Device, error) {
	return m.createFunc(o)
}

func (m *mockRegistration) StreamHandler() api.StreamHandlerFunc {
	return m.handlerFunc
}

func CreateMockRegistration(
	t *testing.T,
	name string,
	cf func(o *device.CreateOptions) (usb.Device, error),
	h api.StreamHandlerFunc,
) api.DeviceRegistration {
	t.Helper()
	return &mockRegistration{
		deviceName:  name,
		handlerFunc: h,
		createFunc:  cf,
	}
}

// MockDevice is a usb.Device with an empty descriptor that answers nothing.
type MockDevice struct {
	Descriptor usb.Descriptor
}

func (m *MockDevice) HandleTransfer(ep uint32, dir uint32, out []byte) []byte { return nil }
func (m *MockDevice) GetDescriptor() *usb.Descriptor                          { return &m.Descriptor }
