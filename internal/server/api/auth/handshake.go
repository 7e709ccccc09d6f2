package auth

import (
	"bufio"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/Alia5/VNETIP/apitypes"
	apierror "github.com/Alia5/VNETIP/internal/server/api/error"
)

const (
	// HandshakeMagic opens an authenticated connection. Plain requests never
	// start with a NUL-terminated four byte word, so the server can peek it.
	HandshakeMagic = "eVN1\x00"
	NonceSize      = 32

	authContext = "VNETIP-Auth-v1"
	okPrefix    = "OK\x00"
)

// IsAuthHandshake reports whether r starts with HandshakeMagic without
// consuming it.
func IsAuthHandshake(r *bufio.Reader) (bool, error) {
	b, err := r.Peek(len(HandshakeMagic))
	if err != nil {
		return false, err
	}
	return string(b) == HandshakeMagic, nil
}

func clientProof(key, clientNonce []byte) []byte {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(authContext))
	_, _ = mac.Write(clientNonce)
	return mac.Sum(nil)
}

// ServerHandshake consumes the client hello (magic, nonce, proof), verifies
// the proof against key and answers "OK\0" followed by the server nonce. It
// returns the session key. A wrong proof yields a 401 apitypes.ApiError and
// nothing is written.
func ServerHandshake(r *bufio.Reader, w io.Writer, key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("handshake: missing key")
	}
	if _, err := r.Discard(len(HandshakeMagic)); err != nil {
		return nil, fmt.Errorf("discard handshake magic: %w", err)
	}
	hello := make([]byte, NonceSize+sha256.Size)
	if _, err := io.ReadFull(r, hello); err != nil {
		return nil, fmt.Errorf("read client hello: %w", err)
	}
	clientNonce, proof := hello[:NonceSize], hello[NonceSize:]
	if !hmac.Equal(proof, clientProof(key, clientNonce)) {
		return nil, apierror.ErrUnauthorized("invalid password")
	}

	serverNonce := make([]byte, NonceSize)
	if _, err := rand.Read(serverNonce); err != nil {
		return nil, fmt.Errorf("generate server nonce: %w", err)
	}
	if _, err := w.Write(append([]byte(okPrefix), serverNonce...)); err != nil {
		return nil, fmt.Errorf("write handshake response: %w", err)
	}
	return DeriveSessionKey(key, serverNonce, clientNonce), nil
}

// ClientHandshake sends the client hello and reads the server's answer. A
// rejection sent by the server as problem JSON is returned as
// *apitypes.ApiError.
func ClientHandshake(r *bufio.Reader, w io.Writer, key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("handshake: missing key")
	}
	clientNonce := make([]byte, NonceSize)
	if _, err := rand.Read(clientNonce); err != nil {
		return nil, fmt.Errorf("generate client nonce: %w", err)
	}
	msg := append([]byte(HandshakeMagic), clientNonce...)
	msg = append(msg, clientProof(key, clientNonce)...)
	if _, err := w.Write(msg); err != nil {
		return nil, fmt.Errorf("write handshake: %w", err)
	}

	prefix := make([]byte, len(okPrefix))
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, fmt.Errorf("read handshake response: %w", err)
	}
	if string(prefix) != okPrefix {
		rest, _ := r.ReadString('\n')
		line := strings.TrimSpace(string(prefix) + rest)
		var apiErr apitypes.ApiError
		if err := json.Unmarshal([]byte(line), &apiErr); err == nil && apiErr.Status != 0 {
			return nil, &apiErr
		}
		return nil, fmt.Errorf("invalid handshake response from server: %q", line)
	}

	serverNonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(r, serverNonce); err != nil {
		return nil, fmt.Errorf("read server nonce: %w", err)
	}
	return DeriveSessionKey(key, serverNonce, clientNonce), nil
}
