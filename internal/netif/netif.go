// Package netif connects the frame stream of an RNDIS device to a network
// interface on the machine running the bridge.
package netif

import (
	"errors"
	"fmt"
)

// Backend selects how frames reach the local network.
type Backend string

const (
	// BackendTAP creates (or attaches to) a TAP interface.
	BackendTAP Backend = "tap"
	// BackendRaw binds an AF_PACKET socket to an existing interface.
	BackendRaw Backend = "raw"
)

// ErrUnsupported is returned when a backend is not available on this platform.
var ErrUnsupported = errors.New("backend not supported on this platform")

// Interface is the local end of a bridge. Frames are complete Ethernet
// frames without FCS.
type Interface interface {
	Name() string
	ReadFrame(buf []byte) (int, error)
	WriteFrame(frame []byte) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend Backend
	// Name is the TAP name to create, or the interface to bind for raw.
	// Empty lets the kernel pick a TAP name; raw requires it.
	Name        string
	Promiscuous bool
}

// Open creates the interface described by cfg.
func Open(cfg Config) (Interface, error) {
	switch cfg.Backend {
	case BackendTAP:
		return openTAP(cfg.Name)
	case BackendRaw:
		if cfg.Name == "" {
			return nil, fmt.Errorf("raw backend needs an interface name")
		}
		return openRaw(cfg.Name, cfg.Promiscuous)
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}
