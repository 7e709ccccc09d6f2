package handler

import (
	"log/slog"

	"github.com/Alia5/VNETIP/apitypes"
	"github.com/Alia5/VNETIP/internal/server/api"
	"github.com/Alia5/VNETIP/internal/server/usb"
)

// BusDevicesList returns a handler that lists devices on a bus.
func BusDevicesList(s *usb.Server) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		b, err := lookupBus(s, req.Params)
		if err != nil {
			return err
		}
		metas := b.GetAllDeviceMetas()
		devices := make([]apitypes.Device, 0, len(metas))
		for _, m := range metas {
			devices = append(devices, deviceInfo(m.Meta.BusId, m.Meta.DevId, m.Dev, api.DeviceType(m.Dev)))
		}
		out, err := marshal(apitypes.DevicesListResponse{Devices: devices})
		if err != nil {
			return err
		}
		res.JSON = out
		return nil
	}
}
