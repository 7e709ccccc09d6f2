package api

import "time"

// ServerConfig represents the API side of the server subcommand.
type ServerConfig struct {
	Addr                        string        `help:"API server listen address" default:":3242" env:"VNETIP_API_ADDR"`
	DeviceHandlerConnectTimeout time.Duration `help:"Time before a device without a stream connection is removed" default:"5s" env:"VNETIP_API_DEVICE_HANDLER_TIMEOUT"`
	AutoAttachLocalClient       bool          `help:"Attach devices added to a bus with the local usbip client" default:"false" env:"VNETIP_API_AUTO_ATTACH_LOCAL_CLIENT"`
	RequireLocalAuth            bool          `help:"Require the password for connections from localhost too" default:"false" env:"VNETIP_API_REQUIRE_LOCAL_AUTH"`
	Password                    string        `kong:"-"`
	ConnectionTimeout           time.Duration `kong:"-"`
}
