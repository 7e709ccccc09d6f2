//go:build !linux

package netif

import "fmt"

func openTAP(name string) (Interface, error) {
	return nil, fmt.Errorf("tap %q: %w", name, ErrUnsupported)
}

func openRaw(name string, _ bool) (Interface, error) {
	return nil, fmt.Errorf("raw %q: %w", name, ErrUnsupported)
}
