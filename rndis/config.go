package rndis

import (
	"fmt"
	"net"
)

// Config holds the immutable identity and capabilities of an adapter.
type Config struct {
	VendorID          uint32
	VendorDescription string
	// HardwareAddr is reported as both the permanent and the current address.
	HardwareAddr  net.HardwareAddr
	LinkSpeed     uint32 // bits per second
	MTU           uint32
	DriverVersion uint32
	// MaxTransferSize bounds one data packet including its 44-byte header.
	MaxTransferSize uint32
}

// DefaultConfig returns the configuration of a 12 Mbit/s full-speed adapter
// with a 1500 byte MTU.
func DefaultConfig() Config {
	return Config{
		VendorID:          0x00FFFFFF,
		VendorDescription: "VNETIP RNDIS adapter",
		HardwareAddr:      net.HardwareAddr{0x20, 0x89, 0x84, 0x6A, 0x96, 0xAB},
		LinkSpeed:         12_000_000,
		MTU:               1500,
		DriverVersion:     0x00001000,
		MaxTransferSize:   ethHeaderSize + 1500 + PacketHeaderSize,
	}
}

// Validate reports configurations an adapter cannot be built from.
func (c Config) Validate() error {
	if len(c.HardwareAddr) != 6 {
		return fmt.Errorf("hardware address must be 6 bytes, got %d", len(c.HardwareAddr))
	}
	if c.MTU == 0 {
		return fmt.Errorf("mtu must be non-zero")
	}
	if c.MaxTransferSize <= PacketHeaderSize {
		return fmt.Errorf("max transfer size %d does not fit a %d byte packet header", c.MaxTransferSize, PacketHeaderSize)
	}
	return nil
}

func (c Config) maxTotalSize() uint32 { return c.MTU + ethHeaderSize }
