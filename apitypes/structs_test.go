package apitypes_test

import (
	"encoding/json"
	"testing"

	"github.com/Alia5/VNETIP/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceCreateRequestUnmarshal(t *testing.T) {
	vid := uint16(0x1d6b)
	mac := "02:00:00:00:00:01"
	mtu := uint32(1400)
	cases := []struct {
		name    string
		in      string
		want    apitypes.DeviceCreateRequest
		wantErr bool
	}{
		{
			name: "hex string vendor",
			in:   `{"type":"rndis","idVendor":"0x1d6b"}`,
			want: apitypes.DeviceCreateRequest{IdVendor: &vid},
		},
		{
			name: "numeric vendor",
			in:   `{"type":"rndis","idVendor":7531}`,
			want: apitypes.DeviceCreateRequest{IdVendor: &vid},
		},
		{
			name: "network options",
			in:   `{"type":"rndis","hardwareAddr":"02:00:00:00:00:01","mtu":1400}`,
			want: apitypes.DeviceCreateRequest{HardwareAddr: &mac, MTU: &mtu},
		},
		{
			name:    "vendor out of range",
			in:      `{"type":"rndis","idVendor":70000}`,
			wantErr: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got apitypes.DeviceCreateRequest
			err := json.Unmarshal([]byte(tc.in), &got)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, got.Type)
			assert.Equal(t, "rndis", *got.Type)
			assert.Equal(t, tc.want.IdVendor, got.IdVendor)
			assert.Equal(t, tc.want.HardwareAddr, got.HardwareAddr)
			assert.Equal(t, tc.want.MTU, got.MTU)
		})
	}
}
