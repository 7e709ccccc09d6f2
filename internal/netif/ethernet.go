package netif

import (
	"fmt"

	"github.com/mdlayher/ethernet"
)

// ParseFrame decodes an Ethernet II frame, including 802.1Q tags.
func ParseFrame(b []byte) (*ethernet.Frame, error) {
	var f ethernet.Frame
	if err := f.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("ethernet frame of %d bytes: %w", len(b), err)
	}
	return &f, nil
}

// FrameAttrs summarises a frame as slog attributes: addresses, EtherType,
// VLAN and size. Undecodable frames only report their size and the error.
func FrameAttrs(b []byte) []any {
	f, err := ParseFrame(b)
	if err != nil {
		return []any{"len", len(b), "error", err}
	}
	attrs := []any{
		"src", f.Source.String(),
		"dst", f.Destination.String(),
		"ethertype", f.EtherType.String(),
		"len", len(b),
	}
	if f.VLAN != nil {
		attrs = append(attrs, "vlan", f.VLAN.ID)
	}
	return attrs
}
