package log

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "github.com/Alia5/VNETIP/rndis"
	"github.com/Alia5/VNETIP/usbip"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"trace", LevelTrace},
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestMultiHandlerWithLevelFilter(t *testing.T) {
	var low, high bytes.Buffer
	lowH := slog.NewTextHandler(&low, &slog.HandlerOptions{Level: slog.LevelDebug})
	highH := slog.NewTextHandler(&high, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewMultiHandler(
		NewLevelFilter(func(l slog.Level) bool { return l < slog.LevelError }, lowH),
		NewLevelFilter(func(l slog.Level) bool { return l >= slog.LevelError }, highH),
	)).With("busID", 3)

	logger.Debug("queued")
	logger.Error("failed")

	assert.Contains(t, low.String(), "msg=queued")
	assert.Contains(t, low.String(), "busID=3")
	assert.NotContains(t, low.String(), "failed")
	assert.Contains(t, high.String(), "msg=failed")
	assert.NotContains(t, high.String(), "queued")

	assert.False(t, logger.Enabled(t.Context(), LevelTrace))
}

func TestSetupLoggerWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vnetip.log")
	logger, closers, err := SetupLogger("debug", path)
	require.NoError(t, err)
	require.Len(t, closers, 1)

	logger.Debug("link up", "mac", "02:00:00:00:00:01")
	for _, c := range closers {
		require.NoError(t, c.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "link up"))
}

func TestSetupLoggerBadFile(t *testing.T) {
	_, _, err := SetupLogger("info", filepath.Join(t.TempDir(), "missing", "x.log"))
	assert.Error(t, err)
}

func TestRawLogger(t *testing.T) {
	var buf bytes.Buffer
	r := NewRaw(&buf)
	r.Log(true, []byte{0x00, 0xab})
	r.Log(false, nil)
	r.Log(false, []byte{0x10})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "C->S chunk: 2 bytes, hex: 00 ab")
	assert.Contains(t, lines[1], "S->C chunk: 1 bytes, hex: 10")

	NewRaw(nil).Log(true, []byte{1})
}

func TestRawLoggerTagsRNDISPayload(t *testing.T) {
	var hdr bytes.Buffer
	ret := usbip.RetSubmit{Basic: usbip.HeaderBasic{Command: usbip.RetSubmitCode, Seqnum: 3}, ActualLength: core.SetCmpltSize}
	require.NoError(t, ret.Write(&hdr))
	cmplt := make([]byte, core.SetCmpltSize)
	_, err := core.SetCmplt{RequestID: 1, Status: core.StatusSuccess}.Encode(cmplt)
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
		want string
	}{
		{name: "set complete", data: slices.Concat(hdr.Bytes(), cmplt), want: "chunk: 64 bytes, rndis=SET_CMPLT, hex: 00 00 00 03"},
		{name: "short payload", data: slices.Concat(hdr.Bytes(), cmplt[:4]), want: "chunk: 52 bytes, hex:"},
		{name: "management op", data: make([]byte, 64), want: "chunk: 64 bytes, hex:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			NewRaw(&buf).Log(false, tt.data)
			assert.Contains(t, buf.String(), tt.want)
		})
	}
}
