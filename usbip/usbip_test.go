package usbip

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMgmtHeaderLayout(t *testing.T) {
	var buf bytes.Buffer
	h := MgmtHeader{Version: Version, Command: OpReqImport, Status: 1}
	require.NoError(t, h.Write(&buf))
	assert.Equal(t, []byte{0x01, 0x11, 0x80, 0x03, 0, 0, 0, 1}, buf.Bytes())

	got, err := ReadMgmtHeader(&buf)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestExportMeta(t *testing.T) {
	m := NewExportMeta("/sys/devices/x/usb1/1-2", "1-2", 1, 2)
	assert.Equal(t, "1-2", m.BusID())
	assert.Equal(t, "/sys/devices/x/usb1/1-2", m.SysPath())

	long := bytes.Repeat([]byte{'a'}, 64)
	m = NewExportMeta("", string(long), 1, 1)
	assert.Len(t, m.BusID(), len(m.USBBusId)-1, "busid keeps its NUL terminator")
}

func exportedDevice() ExportedDevice {
	return ExportedDevice{
		ExportMeta:          NewExportMeta("/sys/devices/platform/hcd/usb7/7-1", "7-1", 7, 1),
		Speed:               SpeedFull,
		IDVendor:            0x1d6b,
		IDProduct:           0x0104,
		BcdDevice:           0x0100,
		BDeviceClass:        0xEF,
		BDeviceSubClass:     0x02,
		BDeviceProtocol:     0x01,
		BConfigurationValue: 1,
		BNumConfigurations:  1,
		BNumInterfaces:      2,
		Interfaces: []InterfaceDesc{
			{Class: 0xE0, SubClass: 0x01, Protocol: 0x03},
			{Class: 0x0A},
		},
	}
}

func TestExportedDeviceEncoding(t *testing.T) {
	d := exportedDevice()

	tests := []struct {
		name           string
		write          func(*bytes.Buffer) error
		withInterfaces bool
		wantLen        int
	}{
		{"import", func(b *bytes.Buffer) error { return d.WriteImport(b) }, false, 312},
		{"devlist", func(b *bytes.Buffer) error { return d.WriteDevlist(b) }, true, 312 + 2*4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, tt.write(&buf))
			require.Equal(t, tt.wantLen, buf.Len())
			raw := buf.Bytes()
			// busnum and devnum follow the two strings.
			assert.Equal(t, []byte{0, 0, 0, 7, 0, 0, 0, 1}, raw[288:296])
			assert.Equal(t, []byte{0x1d, 0x6b, 0x01, 0x04}, raw[300:304])

			got, err := ReadExportedDevice(&buf, tt.withInterfaces)
			require.NoError(t, err)
			assert.Equal(t, "7-1", got.BusID())
			assert.Equal(t, d.IDProduct, got.IDProduct)
			assert.Equal(t, d.BNumInterfaces, got.BNumInterfaces)
			if tt.withInterfaces {
				assert.Equal(t, d.Interfaces, got.Interfaces)
			} else {
				assert.Empty(t, got.Interfaces)
			}
			assert.Zero(t, buf.Len())
		})
	}
}

func TestReadExportedDeviceShort(t *testing.T) {
	var buf bytes.Buffer
	d := exportedDevice()
	require.NoError(t, d.WriteImport(&buf))
	_, err := ReadExportedDevice(bytes.NewReader(buf.Bytes()[:100]), false)
	assert.Error(t, err)

	// Devlist layout promises interfaces the import layout does not carry.
	_, err = ReadExportedDevice(&buf, true)
	assert.Error(t, err)
}

func TestURBHeaders(t *testing.T) {
	t.Run("cmd submit", func(t *testing.T) {
		cmd := CmdSubmit{
			Basic:             HeaderBasic{Command: CmdSubmitCode, Seqnum: 42, Devid: 0x00070001, Dir: DirIn, Ep: 2},
			TransferBufferLen: 512,
			Setup:             [8]byte{0x80, 0x06, 0x00, 0x01, 0, 0, 18, 0},
		}
		var buf bytes.Buffer
		require.NoError(t, cmd.Write(&buf))
		require.Equal(t, URBHeaderSize, buf.Len())
		raw := buf.Bytes()
		assert.Equal(t, []byte{0, 0, 0, 1, 0, 0, 0, 42}, raw[:8])
		assert.Equal(t, []byte{0, 0, 2, 0}, raw[24:28])
		assert.Equal(t, cmd.Setup[:], raw[40:48])

		var got CmdSubmit
		require.NoError(t, DecodeHeader(raw, &got))
		assert.Equal(t, cmd, got)
	})

	t.Run("ret submit", func(t *testing.T) {
		ret := RetSubmit{
			Basic:        HeaderBasic{Command: RetSubmitCode, Seqnum: 42},
			Status:       StatusEPIPE,
			ActualLength: 0,
		}
		var buf bytes.Buffer
		require.NoError(t, ret.Write(&buf))
		require.Equal(t, URBHeaderSize, buf.Len())
		assert.Equal(t, []byte{0xff, 0xff, 0xff, 0xe0}, buf.Bytes()[20:24])

		var got RetSubmit
		require.NoError(t, DecodeHeader(buf.Bytes(), &got))
		assert.Equal(t, StatusEPIPE, got.Status)
	})

	t.Run("unlink", func(t *testing.T) {
		cmd := CmdUnlink{Basic: HeaderBasic{Command: CmdUnlinkCode, Seqnum: 43}, UnlinkSeqnum: 42}
		var buf bytes.Buffer
		require.NoError(t, cmd.Write(&buf))
		require.Equal(t, URBHeaderSize, buf.Len())

		var got CmdUnlink
		require.NoError(t, DecodeHeader(buf.Bytes(), &got))
		assert.Equal(t, uint32(42), got.UnlinkSeqnum)

		ret := RetUnlink{Basic: HeaderBasic{Command: RetUnlinkCode, Seqnum: 43}, Status: StatusECONNRESET}
		buf.Reset()
		require.NoError(t, ret.Write(&buf))
		require.Equal(t, URBHeaderSize, buf.Len())
		var gotRet RetUnlink
		require.NoError(t, DecodeHeader(buf.Bytes(), &gotRet))
		assert.Equal(t, StatusECONNRESET, gotRet.Status)
	})
}

func TestDecodeHeaderShort(t *testing.T) {
	var h CmdSubmit
	assert.Error(t, DecodeHeader(make([]byte, 20), &h))
}
