package rndis

// Stats is a snapshot of the adapter counters.
type Stats struct {
	FramesSent     uint32 `json:"framesSent"`
	FramesReceived uint32 `json:"framesReceived"`
	ReceiveErrors  uint32 `json:"receiveErrors"`
	TransmitErrors uint32 `json:"transmitErrors"`
}

// Counters only grow. They wrap at 2^32 like the 32-bit NDIS statistics OIDs
// they are reported through.
type counters struct {
	Stats
}

func (c *counters) sent()          { c.FramesSent++ }
func (c *counters) received()      { c.FramesReceived++ }
func (c *counters) receiveError()  { c.ReceiveErrors++ }
func (c *counters) transmitError() { c.TransmitErrors++ }
