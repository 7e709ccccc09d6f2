package handler

import (
	"fmt"
	"log/slog"

	"github.com/Alia5/VNETIP/apitypes"
	"github.com/Alia5/VNETIP/internal/server/api"
	apierror "github.com/Alia5/VNETIP/internal/server/api/error"
	"github.com/Alia5/VNETIP/internal/server/usb"
)

// BusDeviceRemove returns a handler that removes a device by device number.
func BusDeviceRemove(s *usb.Server) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		b, err := lookupBus(s, req.Params)
		if err != nil {
			return err
		}
		if req.Payload == "" {
			return apierror.ErrBadRequest("missing device number")
		}
		deviceID := req.Payload
		if err := b.RemoveDeviceByID(deviceID); err != nil {
			return apierror.ErrNotFound(fmt.Sprintf("device %s not found on bus %d", deviceID, b.BusID()))
		}
		out, err := marshal(apitypes.DeviceRemoveResponse{BusID: b.BusID(), DevId: deviceID})
		if err != nil {
			return err
		}
		res.JSON = out
		return nil
	}
}
