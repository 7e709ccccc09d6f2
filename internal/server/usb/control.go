package usb

import (
	"log/slog"

	"github.com/Alia5/VNETIP/usb"
	"github.com/Alia5/VNETIP/usbip"
)

const (
	// USB standard request codes
	usbReqGetStatus        = 0x00
	usbReqClearFeature     = 0x01
	usbReqSetFeature       = 0x03
	usbReqSetAddress       = 0x05
	usbReqGetDescriptor    = 0x06
	usbReqGetConfiguration = 0x08
	usbReqSetConfiguration = 0x09
	usbReqGetInterface     = 0x0A
	usbReqSetInterface     = 0x0B

	// bmRequestType bits
	usbReqDirIn        = 0x80
	usbReqTypeMask     = 0x60
	usbReqTypeStandard = 0x00

	// USB configuration values
	usbConfigValueDefault   = 1
	usbConfigAttrBusPowered = 0x80
	usbConfigMaxPower100mA  = 50 // In units of 2mA

	// LANGID US English, reported when a device has no string 0.
	langIDEnglishUS = 0x0409
)

// processControl answers one EP0 transfer. Standard requests are served from
// the device descriptor, class and vendor requests go to a usb.ControlHandler.
// Anything unanswered stalls.
func (s *Server) processControl(dev usb.Device, setup [8]byte, out []byte, logger *slog.Logger) ([]byte, int32) {
	bm := setup[0]
	breq := setup[1]
	wValue := le.Uint16(setup[2:4])
	wIndex := le.Uint16(setup[4:6])
	wLength := le.Uint16(setup[6:8])

	if bm&usbReqTypeMask != usbReqTypeStandard {
		if h, ok := dev.(usb.ControlHandler); ok {
			if data, handled := h.HandleControl(bm, breq, wValue, wIndex, wLength, out); handled {
				return data, usbip.StatusOK
			}
		}
		logger.Debug("stalling control request", "bmRequestType", bm, "bRequest", breq, "wValue", wValue, "wIndex", wIndex)
		return nil, usbip.StatusEPIPE
	}

	switch breq {
	case usbReqSetAddress, usbReqClearFeature, usbReqSetFeature, usbReqSetInterface:
		return nil, usbip.StatusOK
	case usbReqSetConfiguration:
		if c, ok := dev.(usb.Configurable); ok {
			c.SetConfiguration(uint8(wValue))
		}
		return nil, usbip.StatusOK
	case usbReqGetConfiguration:
		return []byte{usbConfigValueDefault}, usbip.StatusOK
	case usbReqGetInterface:
		return []byte{0x00}, usbip.StatusOK
	case usbReqGetStatus:
		return []byte{0x00, 0x00}, usbip.StatusOK
	case usbReqGetDescriptor:
		if bm&usbReqDirIn == 0 {
			break
		}
		if data := descriptorBytes(dev.GetDescriptor(), uint8(wValue>>8), uint8(wValue)); len(data) > 0 {
			return truncate(data, uint32(wLength)), usbip.StatusOK
		}
	}
	logger.Debug("stalling standard request", "bmRequestType", bm, "bRequest", breq, "wValue", wValue)
	return nil, usbip.StatusEPIPE
}

func descriptorBytes(desc *usb.Descriptor, dtype, index uint8) []byte {
	switch dtype {
	case usb.DeviceDescType:
		return desc.Bytes()
	case usb.ConfigDescType:
		return desc.ConfigBytes(usb.ConfigHeader{
			BConfigurationValue: usbConfigValueDefault,
			BMAttributes:        usbConfigAttrBusPowered,
			BMaxPower:           usbConfigMaxPower100mA,
		})
	case usb.StringDescType:
		if str, ok := desc.Strings[index]; ok {
			return usb.EncodeStringDescriptor(str)
		}
		if index == 0 {
			return []byte{0x04, usb.StringDescType, langIDEnglishUS & 0xFF, langIDEnglishUS >> 8}
		}
	}
	return nil
}
