package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Alia5/VNETIP/apitypes"
	"github.com/Alia5/VNETIP/device"
	"github.com/Alia5/VNETIP/internal/server/api"
	apierror "github.com/Alia5/VNETIP/internal/server/api/error"
	usbs "github.com/Alia5/VNETIP/internal/server/usb"
)

// BusDeviceAdd returns a handler to add devices to a bus. A device that no
// stream connects to within the configured timeout is removed again.
func BusDeviceAdd(s *usbs.Server, apiSrv *api.Server) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		b, err := lookupBus(s, req.Params)
		if err != nil {
			return err
		}
		if req.Payload == "" {
			return apierror.ErrBadRequest("missing payload")
		}
		var createReq apitypes.DeviceCreateRequest
		if err := json.Unmarshal([]byte(req.Payload), &createReq); err != nil {
			return apierror.ErrBadRequest(fmt.Sprintf("invalid JSON payload: %v", err))
		}
		if createReq.Type == nil {
			return apierror.ErrBadRequest("missing device type")
		}

		name := strings.ToLower(*createReq.Type)
		reg := api.GetRegistration(name)
		if reg == nil {
			return apierror.ErrBadRequest(fmt.Sprintf("unknown device type: %s", name))
		}

		dev, err := reg.CreateDevice(&device.CreateOptions{
			IdVendor:          createReq.IdVendor,
			IdProduct:         createReq.IdProduct,
			HardwareAddr:      createReq.HardwareAddr,
			VendorDescription: createReq.VendorDescription,
			LinkSpeed:         createReq.LinkSpeed,
			MTU:               createReq.MTU,
		})
		if err != nil {
			return apierror.ErrBadRequest(fmt.Sprintf("invalid device options: %v", err))
		}
		devCtx, err := b.Add(dev)
		if err != nil {
			return apierror.ErrInternal(fmt.Sprintf("failed to add device to bus: %v", err))
		}
		exportMeta := device.GetDeviceMeta(devCtx)
		if exportMeta == nil {
			return apierror.ErrInternal("failed to get device metadata from context")
		}

		if connTimer := device.GetConnTimer(devCtx); connTimer != nil {
			connTimer.Reset(apiSrv.Config().DeviceHandlerConnectTimeout)
			go func() {
				select {
				case <-devCtx.Done():
					connTimer.Stop()
				case <-connTimer.C:
					deviceID := fmt.Sprintf("%d", exportMeta.DevId)
					if err := b.RemoveDeviceByID(deviceID); err != nil {
						logger.Error("timeout: failed to remove device", "busID", b.BusID(), "deviceID", deviceID, "error", err)
					} else {
						logger.Info("timeout: removed device (no connection)", "busID", b.BusID(), "deviceID", deviceID)
					}
				}
			}()
		}

		if apiSrv.Config().AutoAttachLocalClient {
			if err := api.AttachLocalhostClient(req.Ctx, exportMeta, s.GetListenPort(), logger); err != nil {
				logger.Error("failed to auto-attach localhost client", "error", err)
				return apierror.ErrConflict(fmt.Sprintf("Failed to auto-attach device: %v", err))
			}
		}

		out, err := marshal(deviceInfo(exportMeta.BusId, exportMeta.DevId, dev, name))
		if err != nil {
			return err
		}
		res.JSON = out
		return nil
	}
}
