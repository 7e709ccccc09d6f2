package handler

import (
	"fmt"
	"log/slog"

	"github.com/Alia5/VNETIP/apitypes"
	"github.com/Alia5/VNETIP/internal/server/api"
	apierror "github.com/Alia5/VNETIP/internal/server/api/error"
	"github.com/Alia5/VNETIP/internal/server/usb"
	"github.com/Alia5/VNETIP/virtualbus"
)

// BusCreate returns a handler that creates a new bus, with the bus number
// given as payload or the next free one.
// Error logging is centralized in the API server; this handler only returns errors.
func BusCreate(s *usb.Server) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		var b *virtualbus.VirtualBus
		if req.Payload != "" {
			busID, err := parseBusID(req.Payload)
			if err != nil {
				return err
			}
			if busID == 0 {
				return apierror.ErrBadRequest("invalid busId: 0 is reserved")
			}
			b, err = virtualbus.NewWithBusId(busID)
			if err != nil {
				return apierror.ErrConflict(fmt.Sprintf("bus %d already exists", busID))
			}
		} else {
			b = virtualbus.New()
		}
		if err := s.AddBus(b); err != nil {
			_ = b.Close()
			return apierror.ErrConflict(fmt.Sprintf("bus %d already exists", b.BusID()))
		}
		out, err := marshal(apitypes.BusCreateResponse{BusID: b.BusID()})
		if err != nil {
			return err
		}
		res.JSON = out
		return nil
	}
}
