package usb

import "time"

// ServerConfig represents the USB-IP side of the server subcommand.
type ServerConfig struct {
	Addr              string        `help:"USB-IP server listen address" default:":3241" env:"VNETIP_USB_ADDR"`
	ConnectionTimeout time.Duration `kong:"-"`
	BusCleanupTimeout time.Duration `kong:"-"`
}
