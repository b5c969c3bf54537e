// Package isotp defines the daemon's view of an ISO 15765-2 transport
// protocol engine and the thin adapter gluing it to a CAN Bus (spec.md
// §4.4). The segmentation/reassembly engine itself is out of scope
// (spec.md §1); refengine ships a minimal one for tests.
//
// Ground: the driver-glue shape mirrors pkg/lss.LSSSlave's Handle/send
// split and pkg/node/controller.go's background-poll loop; random seeding
// is grounded on the original's isotp_user_send_can (h42_isotp.c), which
// ORs esp_random() into the arbitration ID's upper bits per frame.
package isotp

import "errors"

// SendStatus reflects the state of an in-progress or just-completed send.
type SendStatus int

const (
	SendIdle SendStatus = iota
	SendInProgress
	SendError
)

// Engine is the daemon's view of an ISO-TP stack (spec.md §4.4, §4.3
// step 4-7). A concrete implementation owns framing/flow-control/timers
// internally; the daemon only drives it through this surface.
type Engine interface {
	// Poll advances internal timers/state machines; called once per
	// daemon iteration (spec.md §4.3 step 4).
	Poll()

	// HandleFrame feeds a received ISO-TP frame (msg_type=0) to the
	// engine (spec.md §4.3 step 3).
	HandleFrame(data []byte)

	// Send starts transmitting payload. Returns an error if the engine
	// rejects it outright (e.g. already sending).
	Send(payload []byte) error

	// SendStatus reports the current state of the most recent Send.
	SendStatus() SendStatus

	// Receive returns a complete inbound message and true if one is
	// ready, consuming it (spec.md §4.3 step 5).
	Receive() ([]byte, bool)

	// Reset abandons any in-flight transfer and returns the engine to
	// idle (spec.md §4.2 step 1, on entering OBTAINING_ADDRESS). It
	// notifies no one of the abandoned send; the daemon fails its
	// in-flight caller itself when re-addressing begins.
	Reset()

	// SetArbitrationID reassigns the (src,dst) pair the engine emits
	// frames under, used after address acquisition completes (spec.md
	// §4.2 step c).
	SetArbitrationID(id uint32)
}

// ErrSendRejected is returned by Engine.Send when the engine cannot
// accept a new transfer (e.g. one already in progress).
var ErrSendRejected = errors.New("isotp: send rejected")

// FrameSender transmits one CAN frame carrying ISO-TP data under the
// engine's current arbitration ID, with a fresh random seed OR'd into
// the reserved upper bits (spec.md §4.4, ground: isotp_user_send_can).
type FrameSender interface {
	SendFrame(arbitrationID uint32, data []byte) error
}

// Clock supplies a monotonic microsecond timestamp for engine timers
// (spec.md §4.4, ground: isotp_user_get_us).
type Clock interface {
	Microseconds() uint64
}
