package auth

import (
	"bytes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

// maxRecordSize bounds one sealed record on the wire.
const maxRecordSize = 2 * 1024 * 1024

const (
	dirClient byte = 0x00
	dirServer byte = 0x01
)

// Conn seals every Write into one record: a big-endian u32 length, the
// 12-byte nonce and the ciphertext. Nonces are a direction byte followed by
// a per-direction counter, so both peers can share the session key.
type Conn struct {
	net.Conn
	aead cipher.AEAD
	dir  byte

	writeMu sync.Mutex
	sendCtr uint64

	readMu  sync.Mutex
	recvBuf bytes.Buffer
}

// ServerConn wraps the server end of an authenticated connection.
func ServerConn(conn net.Conn, sessionKey []byte) (*Conn, error) {
	return wrap(conn, sessionKey, dirServer)
}

// ClientConn wraps the client end of an authenticated connection.
func ClientConn(conn net.Conn, sessionKey []byte) (*Conn, error) {
	return wrap(conn, sessionKey, dirClient)
}

func wrap(conn net.Conn, key []byte, dir byte) (*Conn, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return &Conn{Conn: conn, aead: aead, dir: dir}, nil
}

func (c *Conn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ns := c.aead.NonceSize()
	rec := make([]byte, 4+ns, 4+ns+len(p)+c.aead.Overhead())
	nonce := rec[4 : 4+ns]
	nonce[0] = c.dir
	binary.BigEndian.PutUint64(nonce[ns-8:], c.sendCtr)
	c.sendCtr++

	rec = c.aead.Seal(rec, nonce, p, nil)
	binary.BigEndian.PutUint32(rec[:4], uint32(len(rec)-4))
	if _, err := c.Conn.Write(rec); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *Conn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	for c.recvBuf.Len() == 0 {
		var hdr [4]byte
		if _, err := io.ReadFull(c.Conn, hdr[:]); err != nil {
			return 0, err
		}
		length := binary.BigEndian.Uint32(hdr[:])
		ns := c.aead.NonceSize()
		if length > maxRecordSize || int(length) < ns+c.aead.Overhead() {
			return 0, fmt.Errorf("invalid record length %d", length)
		}
		rec := make([]byte, length)
		if _, err := io.ReadFull(c.Conn, rec); err != nil {
			return 0, err
		}
		if rec[0] == c.dir {
			return 0, fmt.Errorf("record nonce has own direction")
		}
		pt, err := c.aead.Open(rec[ns:ns], rec[:ns], rec[ns:], nil)
		if err != nil {
			return 0, err
		}
		c.recvBuf.Write(pt)
	}
	return c.recvBuf.Read(p)
}
