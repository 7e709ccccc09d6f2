package usb

import "context"

// Device is the minimal interface a device must implement.
// It only handles non-EP0 (interrupt/bulk) transfers.
type Device interface {
	// HandleTransfer processes a non-EP0 transfer (interrupt/bulk).
	// ep is the endpoint number (without direction). dir is usbip.DirIn or usbip.DirOut.
	// For IN transfers, return the payload to send; for OUT, consume 'out' and return nil.
	HandleTransfer(ep uint32, dir uint32, out []byte) []byte
	GetDescriptor() *Descriptor
}

// ControlHandler is implemented by devices answering class or vendor
// requests on EP0. ok=false stalls the request.
type ControlHandler interface {
	HandleControl(bmRequestType, bRequest uint8, wValue, wIndex, wLength uint16, data []byte) ([]byte, bool)
}

// AsyncTransferer is implemented by devices whose IN endpoints complete only
// when data becomes available. The server calls HandleTransferContext from
// its own goroutine per URB and cancels ctx when the URB is unlinked or the
// connection ends.
type AsyncTransferer interface {
	HandleTransferContext(ctx context.Context, ep uint32, dir uint32, out []byte) ([]byte, error)
}

// TransferReclaimer is implemented by async devices that want back the data
// of an IN transfer completed after its URB was unlinked or its connection
// closed. Without it that data is discarded.
type TransferReclaimer interface {
	ReclaimTransfer(ep uint32, data []byte)
}

// Configurable is notified of SET_CONFIGURATION requests.
type Configurable interface {
	SetConfiguration(value uint8)
}
