package handler

import (
	"fmt"
	"log/slog"

	"github.com/Alia5/VNETIP/internal/server/api"
	apierror "github.com/Alia5/VNETIP/internal/server/api/error"
	"github.com/Alia5/VNETIP/internal/server/usb"
)

// BusDeviceStats returns a handler that reports the link state and frame
// counters of a network device.
func BusDeviceStats(s *usb.Server) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		b, err := lookupBus(s, req.Params)
		if err != nil {
			return err
		}
		if req.Payload == "" {
			return apierror.ErrBadRequest("missing device number")
		}
		dev, _, ok := b.Device(req.Payload)
		if !ok {
			return apierror.ErrNotFound(fmt.Sprintf("device %s not found on bus %d", req.Payload, b.BusID()))
		}
		sr, ok := dev.(api.StatsReporter)
		if !ok {
			return apierror.ErrBadRequest(fmt.Sprintf("device %s does not report statistics", req.Payload))
		}
		stats := sr.DeviceStats()
		stats.BusID = b.BusID()
		stats.DevId = req.Payload
		out, err := marshal(stats)
		if err != nil {
			return err
		}
		res.JSON = out
		return nil
	}
}
