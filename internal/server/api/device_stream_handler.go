package api

import (
	"fmt"
	"log/slog"
	"net"
	"path"
	"reflect"
	"strings"

	"github.com/Alia5/VNETIP/internal/server/usb"
	pusb "github.com/Alia5/VNETIP/usb"
)

// DeviceStreamHandler returns a stream handler func that dispatches to the
// stream handler registered for the device's type.
func DeviceStreamHandler(srv *usb.Server) StreamHandlerFunc {
	return func(conn net.Conn, dev *pusb.Device, logger *slog.Logger) error {
		defer conn.Close()

		if dev == nil || *dev == nil {
			return fmt.Errorf("nil device")
		}
		deviceType := DeviceType(*dev)
		handler := GetStreamHandler(deviceType)
		if handler == nil {
			return fmt.Errorf("no handler for device type: %s", deviceType)
		}
		return handler(conn, dev, logger)
	}
}

// DeviceType derives the registered type name of a device from the last
// element of its package path (e.g. ".../device/rndis" is "rndis").
func DeviceType(dev any) string {
	if dev == nil {
		return ""
	}
	t := reflect.TypeOf(dev)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if pkg := t.PkgPath(); pkg != "" {
		return strings.ToLower(path.Base(pkg))
	}
	return strings.ToLower(t.Name())
}
