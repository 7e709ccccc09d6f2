package handler

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Alia5/VNETIP/apitypes"
	apierror "github.com/Alia5/VNETIP/internal/server/api/error"
	"github.com/Alia5/VNETIP/internal/server/usb"
	pusb "github.com/Alia5/VNETIP/usb"
	"github.com/Alia5/VNETIP/virtualbus"
)

func parseBusID(s string) (uint32, error) {
	busID, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, apierror.ErrBadRequest(fmt.Sprintf("invalid busId: %v", err))
	}
	return uint32(busID), nil
}

// lookupBus resolves the {id} route parameter to a registered bus.
func lookupBus(s *usb.Server, params map[string]string) (*virtualbus.VirtualBus, error) {
	idStr, ok := params["id"]
	if !ok {
		return nil, apierror.ErrBadRequest("missing id parameter")
	}
	busID, err := parseBusID(idStr)
	if err != nil {
		return nil, err
	}
	b := s.GetBus(busID)
	if b == nil {
		return nil, apierror.ErrNotFound(fmt.Sprintf("bus %d not found", busID))
	}
	return b, nil
}

func deviceInfo(busID, devID uint32, dev pusb.Device, deviceType string) apitypes.Device {
	desc := dev.GetDescriptor()
	return apitypes.Device{
		BusID: busID,
		DevId: strconv.FormatUint(uint64(devID), 10),
		Vid:   fmt.Sprintf("0x%04x", desc.Device.IDVendor),
		Pid:   fmt.Sprintf("0x%04x", desc.Device.IDProduct),
		Type:  deviceType,
	}
}

func marshal(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", apierror.ErrInternal(fmt.Sprintf("failed to marshal response: %v", err))
	}
	return string(b), nil
}
