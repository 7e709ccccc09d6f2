//go:build linux

package netif

import (
	"fmt"
	"net"
	"sync"

	"github.com/mdlayher/packet"
	"golang.org/x/sys/unix"
)

// rawInterface shares an existing interface through an AF_PACKET socket.
// The socket also sees the frames it sends; those are recognised by their
// source address and skipped.
type rawInterface struct {
	ifi  *net.Interface
	conn *packet.Conn

	mu      sync.Mutex
	written map[[6]byte]struct{}
}

func openRaw(name string, promiscuous bool) (Interface, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("interface %q: %w", name, err)
	}
	conn, err := packet.Listen(ifi, packet.Raw, unix.ETH_P_ALL, nil)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", name, err)
	}
	if promiscuous {
		if err := conn.SetPromiscuous(true); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("promiscuous mode on %s: %w", name, err)
		}
	}
	return &rawInterface{ifi: ifi, conn: conn, written: make(map[[6]byte]struct{})}, nil
}

func (r *rawInterface) Name() string { return r.ifi.Name }

func (r *rawInterface) ReadFrame(buf []byte) (int, error) {
	for {
		n, _, err := r.conn.ReadFrom(buf)
		if err != nil {
			return 0, err
		}
		if n >= 12 && r.isOwn(buf[6:12]) {
			continue
		}
		return n, nil
	}
}

func (r *rawInterface) WriteFrame(frame []byte) error {
	if len(frame) < 12 {
		return fmt.Errorf("frame of %d bytes has no addresses", len(frame))
	}
	var src [6]byte
	copy(src[:], frame[6:12])
	r.mu.Lock()
	r.written[src] = struct{}{}
	r.mu.Unlock()

	_, err := r.conn.WriteTo(frame, &packet.Addr{HardwareAddr: net.HardwareAddr(frame[0:6])})
	return err
}

func (r *rawInterface) isOwn(src []byte) bool {
	var key [6]byte
	copy(key[:], src)
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.written[key]
	return ok
}

func (r *rawInterface) Close() error { return r.conn.Close() }
