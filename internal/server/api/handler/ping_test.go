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

func TestPing(t *testing.T) {
	addr, _, done := handlerTest.StartAPIServer(t, func(r *api.Router, s *usb.Server, apiSrv *api.Server) {
		r.Register("ping", handler.Ping("1.2.3"))
	})
	defer done()

	resp, err := apiclient.New(addr).Ping()
	require.NoError(t, err)
	assert.Equal(t, handler.ServerName, resp.Server)
	assert.Equal(t, "1.2.3", resp.Version)
}
