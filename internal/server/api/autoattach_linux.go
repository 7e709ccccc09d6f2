//go:build linux

package api

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"

	"github.com/Alia5/VNETIP/usbip"
)

// AttachLocalhostClient runs "usbip attach" against this server for the
// given device.
func AttachLocalhostClient(ctx context.Context, meta *usbip.ExportMeta, usbipServerPort uint16, logger *slog.Logger) error {
	logger.Info("Auto-attaching localhost client", "busid", meta.BusID())

	cmd := exec.CommandContext(
		ctx,
		"usbip",
		"--tcp-port", strconv.FormatUint(uint64(usbipServerPort), 10),
		"attach",
		"-r", "localhost",
		"-b", meta.BusID(),
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("usbip attach (port %d): %w: %s", usbipServerPort, err, bytes.TrimSpace(output))
	}
	logger.Debug("usbip attach output", "output", string(output))
	return nil
}

// CheckAutoAttachPrerequisites reports whether the usbip tool and the
// vhci-hcd module are available, logging how to fix what is missing.
func CheckAutoAttachPrerequisites(logger *slog.Logger) bool {
	allOk := true

	if _, err := exec.LookPath("usbip"); err != nil {
		logger.Warn("USB/IP tool 'usbip' not found in PATH")
		logger.Info("Install usbip:")
		logger.Info("  Ubuntu/Debian: sudo apt install linux-tools-generic")
		logger.Info("  Arch Linux:    sudo pacman -S usbip")
		allOk = false
	}

	data, err := os.ReadFile("/proc/modules")
	if err != nil {
		logger.Debug("Could not read /proc/modules", "error", err)
	} else if !bytes.Contains(data, []byte("vhci_hcd")) {
		logger.Warn("USB/IP kernel module 'vhci-hcd' is not loaded")
		logger.Info("Load it with: sudo modprobe vhci-hcd")
		logger.Info("Load it at boot with: echo 'vhci-hcd' | sudo tee /etc/modules-load.d/vnetip.conf")
		allOk = false
	}
	// The host side binds rndis_host to the attached adapter.
	if err == nil && !bytes.Contains(data, []byte("rndis_host")) {
		logger.Info("Kernel module 'rndis_host' is not loaded yet; it is loaded on attach when available")
	}

	return allOk
}
