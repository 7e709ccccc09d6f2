// Package device holds what every virtual USB function shares: creation
// options and the per-device context a bus hands out.
package device

import (
	"context"
	"time"

	"github.com/Alia5/VNETIP/usbip"
)

type contextKey int

// Keys of the values a bus attaches to a device context.
const (
	// ExportMetaKey holds the *usbip.ExportMeta the device is exported under.
	ExportMetaKey contextKey = iota
	// ConnTimerKey holds the *time.Timer that removes the device when no
	// stream client connects in time.
	ConnTimerKey
)

func value[T any](ctx context.Context, key contextKey) T {
	v, _ := ctx.Value(key).(T)
	return v
}

// GetDeviceMeta returns the export metadata of the device, or nil outside a
// device context.
func GetDeviceMeta(ctx context.Context) *usbip.ExportMeta {
	return value[*usbip.ExportMeta](ctx, ExportMetaKey)
}

// GetConnTimer returns the pending stream connect timer, or nil.
func GetConnTimer(ctx context.Context) *time.Timer {
	return value[*time.Timer](ctx, ConnTimerKey)
}
