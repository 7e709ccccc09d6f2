package handler

import (
	"log/slog"

	"github.com/Alia5/VNETIP/apitypes"
	"github.com/Alia5/VNETIP/internal/server/api"
	"github.com/Alia5/VNETIP/internal/server/usb"
)

// BusList returns a handler that lists registered busses.
func BusList(s *usb.Server) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		out, err := marshal(apitypes.BusListResponse{Buses: s.ListBuses()})
		if err != nil {
			return err
		}
		res.JSON = out
		return nil
	}
}
