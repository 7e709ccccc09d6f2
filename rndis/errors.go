package rndis

import "errors"

var (
	// ErrMalformedMessage reports a structural violation in a control message
	// or data packet: truncated buffer or inconsistent length/offset fields.
	ErrMalformedMessage = errors.New("rndis: malformed message")
	// ErrUnsupportedOID is returned by the OID table for OIDs it does not know.
	ErrUnsupportedOID = errors.New("rndis: unsupported oid")
	// ErrUnsupportedOperation is returned for Set requests on rejected OIDs.
	ErrUnsupportedOperation = errors.New("rndis: unsupported operation")
	// ErrTransmitNotReady is returned when a data packet is offered while the
	// previous one has not completed. The packet is dropped.
	ErrTransmitNotReady = errors.New("rndis: transmit not ready")
	// ErrReceiveValidation reports an inbound data packet that failed validation.
	ErrReceiveValidation = errors.New("rndis: receive validation failed")
)
