package handler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alia5/VNETIP/apiclient"
	"github.com/Alia5/VNETIP/internal/server/api"
	"github.com/Alia5/VNETIP/internal/server/api/handler"
	"github.com/Alia5/VNETIP/internal/server/usb"
	handlerTest "github.com/Alia5/VNETIP/internal/testing"
)

func TestBusCreate(t *testing.T) {
	tests := []struct {
		name             string
		setup            func(t *testing.T, s *usb.Server)
		payload          any
		expectedResponse string
	}{
		{
			name:             "valid create",
			payload:          "60001",
			expectedResponse: `{"busId":60001}`,
		},
		{
			name: "duplicate bus",
			setup: func(t *testing.T, s *usb.Server) {
				addBus(t, s, 60002)
			},
			payload:          "60002",
			expectedResponse: `{"status":409,"title":"Conflict","detail":"bus 60002 already exists"}`,
		},
		{
			name: "create after remove allows reuse",
			setup: func(t *testing.T, s *usb.Server) {
				addBus(t, s, 60003)
				if err := s.RemoveBus(60003); err != nil {
					t.Fatalf("remove bus failed: %v", err)
				}
			},
			payload:          "60003",
			expectedResponse: `{"busId":60003}`,
		},
		{
			name:             "reserved bus number",
			payload:          "0",
			expectedResponse: `{"status":400,"title":"Bad Request","detail":"invalid busId: 0 is reserved"}`,
		},
		{
			name:             "invalid bus number",
			payload:          "foo",
			expectedResponse: `{"status":400,"title":"Bad Request","detail":"invalid busId: strconv.ParseUint: parsing \"foo\": invalid syntax"}`,
		},
		{
			name:             "negative bus number",
			payload:          "-1",
			expectedResponse: `{"status":400,"title":"Bad Request","detail":"invalid busId: strconv.ParseUint: parsing \"-1\": invalid syntax"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, srv, done := handlerTest.StartAPIServer(t, func(r *api.Router, s *usb.Server, apiSrv *api.Server) {
				r.Register("bus/create", handler.BusCreate(s))
			})
			defer done()
			c := apiclient.NewTransport(addr)
			if tt.setup != nil {
				tt.setup(t, srv)
			}
			line, err := c.Do("bus/create", tt.payload, nil)
			assert.NoError(t, err)
			assert.JSONEq(t, tt.expectedResponse, line)
		})
	}
}

func TestBusCreateAutoAssign(t *testing.T) {
	addr, srv, done := handlerTest.StartAPIServer(t, func(r *api.Router, s *usb.Server, apiSrv *api.Server) {
		r.Register("bus/create", handler.BusCreate(s))
	})
	defer done()

	c := apiclient.New(addr)
	first, err := c.BusCreate(0)
	require.NoError(t, err)
	second, err := c.BusCreate(0)
	require.NoError(t, err)

	assert.NotZero(t, first.BusID)
	assert.NotEqual(t, first.BusID, second.BusID)
	assert.Equal(t, []uint32{min(first.BusID, second.BusID), max(first.BusID, second.BusID)}, srv.ListBuses())
}
