package log

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	core "github.com/Alia5/VNETIP/rndis"
	"github.com/Alia5/VNETIP/usbip"
)

// RawLogger dumps the bytes of a USB/IP connection as they are read.
// in is true for client to server.
type RawLogger interface {
	Log(in bool, data []byte)
}

type rawLogger struct {
	mu sync.Mutex
	w  io.Writer
}

// NewRaw returns a RawLogger writing one line per chunk to w. A nil w
// discards.
func NewRaw(w io.Writer) RawLogger {
	return &rawLogger{w: w}
}

// Log writes "<time> <dir> chunk: <n> bytes[, rndis=<msg>], hex: <bytes>".
// The rndis tag is added when the chunk starts with a submit URB whose
// payload is an RNDIS message.
func (r *rawLogger) Log(in bool, data []byte) {
	if r.w == nil || len(data) == 0 {
		return
	}
	dir := "S->C"
	if in {
		dir = "C->S"
	}
	tag := ""
	if name, ok := rndisPayload(data); ok {
		tag = ", rndis=" + name
	}
	line := fmt.Sprintf("%s %s chunk: %d bytes%s, hex: % x\n",
		time.Now().Format("2006/01/02 15:04:05"), dir, len(data), tag, data)

	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = io.WriteString(r.w, line)
}

func rndisPayload(data []byte) (string, bool) {
	if len(data) < usbip.URBHeaderSize+core.HeaderSize {
		return "", false
	}
	switch binary.BigEndian.Uint32(data[0:4]) {
	case usbip.CmdSubmitCode, usbip.RetSubmitCode:
	default:
		return "", false
	}
	h, err := core.PeekHeader(data[usbip.URBHeaderSize:])
	if err != nil {
		return "", false
	}
	name := core.MessageName(h.Type)
	if len(name) > 1 && name[:2] == "0x" {
		return "", false
	}
	return name, true
}
