//go:build linux

package netif

import (
	"fmt"

	"github.com/songgao/water"
)

type tapInterface struct {
	ifce *water.Interface
}

func openTAP(name string) (Interface, error) {
	cfg := water.Config{DeviceType: water.TAP}
	cfg.Name = name
	ifce, err := water.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("create tap %q: %w", name, err)
	}
	return &tapInterface{ifce: ifce}, nil
}

func (t *tapInterface) Name() string { return t.ifce.Name() }

// ReadFrame returns one frame per call; the TAP device never splits or
// merges frames.
func (t *tapInterface) ReadFrame(buf []byte) (int, error) {
	return t.ifce.Read(buf)
}

func (t *tapInterface) WriteFrame(frame []byte) error {
	_, err := t.ifce.Write(frame)
	return err
}

func (t *tapInterface) Close() error { return t.ifce.Close() }
