//go:build !linux

package api

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Alia5/VNETIP/usbip"
)

// AttachLocalhostClient is only implemented on Linux.
func AttachLocalhostClient(_ context.Context, _ *usbip.ExportMeta, _ uint16, _ *slog.Logger) error {
	return errors.New("auto-attach is only supported on linux")
}

// CheckAutoAttachPrerequisites always fails outside Linux.
func CheckAutoAttachPrerequisites(logger *slog.Logger) bool {
	logger.Warn("Auto-attach is only supported on linux")
	return false
}
