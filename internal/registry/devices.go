// Package registry links the device handlers into the binary.
package registry

import (
	_ "github.com/Alia5/VNETIP/device/rndis" // Register rndis device handler
)
