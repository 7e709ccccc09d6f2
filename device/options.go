package device

// CreateOptions carries the optional per-device settings of a device-add
// request. Unset fields keep the device type's defaults.
type CreateOptions struct {
	IdVendor  *uint16
	IdProduct *uint16

	// HardwareAddr is a colon separated MAC address, e.g. "02:00:00:00:00:01".
	HardwareAddr *string
	// VendorDescription is reported to the host as the adapter name.
	VendorDescription *string
	// LinkSpeed in bits per second.
	LinkSpeed *uint32
	MTU       *uint32
}
