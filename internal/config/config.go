// Package config defines the CLI structure and configuration for VNETIP.
package config

import (
	"github.com/Alia5/VNETIP/internal/cmd"
)

type Log struct {
	Level   string `help:"Log level: trace, debug, info, warn, error" default:"info" env:"VNETIP_LOG_LEVEL"`
	File    string `help:"Log file path (default: none; logs only to console)" env:"VNETIP_LOG_FILE"`
	RawFile string `help:"Raw packet log file path (default: none)" env:"VNETIP_LOG_RAW_FILE"`
}

// CLI is the root command structure for Kong CLI parsing.
type CLI struct {
	Log    `embed:"" prefix:"log."`
	Config string `help:"Explicit configuration file (json, yaml or toml)" type:"path" env:"VNETIP_CONFIG"`

	Server    cmd.Server        `cmd:"" help:"Start the VNETIP USB-IP and API servers"`
	Bridge    cmd.Bridge        `cmd:"" help:"Attach an RNDIS adapter and bridge it to a local interface"`
	Proxy     cmd.Proxy         `cmd:"" help:"Start a logging USB-IP proxy"`
	Configure cmd.ConfigCommand `cmd:"" name:"config" help:"Configuration helpers"`
	Install   cmd.Install       `cmd:"" help:"Install the server as a system service"`
	Uninstall cmd.Uninstall     `cmd:"" help:"Remove the system service"`
}
