// Package cantp tunnels arbitrary byte streams over a shared CAN bus with
// 29-bit extended identifiers for constrained microcontroller nodes.
package cantp

// Frame is a single CAN frame. Only extended (29-bit), non-RTR frames are
// meaningful to this transport; anything else is discarded by the daemon.
type Frame struct {
	ID   uint32
	DLC  uint8
	Data [8]byte
	Ext  bool
	RTR  bool
}

func NewFrame(id uint32, dlc uint8) Frame {
	return Frame{ID: id, DLC: dlc, Ext: true}
}

// FrameListener handles a received CAN frame. Handle must not block;
// implementations that need to do more than constant-time work should
// hand the frame off to a buffered channel and return.
type FrameListener interface {
	Handle(frame Frame)
}

// Bus is the CAN controller driver collaborator. It is out of scope for
// this module (spec.md §1) and is implemented by concrete backends under
// pkg/can.
type Bus interface {
	Connect(...any) error
	Disconnect() error
	Send(frame Frame) error
	Subscribe(listener FrameListener) error
}

// Clock returns a monotonic microsecond timestamp, used by the ISO-TP
// adapter (spec.md §4.4) for its internal timers. Implemented over
// time.Now() in pkg/isotp, kept as an interface so tests can fake it.
type Clock interface {
	Microseconds() uint64
}
