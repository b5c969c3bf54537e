package isotp

import (
	"math/rand"
	"time"

	cantp "github.com/samsamfire/cantp"
	"github.com/samsamfire/cantp/pkg/canid"
)

// Adapter implements FrameSender and Clock over a cantp.Bus, the
// entirety of spec.md §4.4: OR a fresh random seed into the arbitration
// ID's reserved upper bits, set extd=1/rtr=0/dlc=len(data), and hand the
// frame to the bus.
type Adapter struct {
	bus cantp.Bus
}

func NewAdapter(bus cantp.Bus) *Adapter {
	return &Adapter{bus: bus}
}

// SendFrame implements FrameSender.
func (a *Adapter) SendFrame(arbitrationID uint32, data []byte) error {
	frame := cantp.NewFrame(canid.WithSeed(arbitrationID, uint8(rand.Intn(256))), uint8(len(data)))
	copy(frame.Data[:], data)
	return a.bus.Send(frame)
}

// clockStart anchors Microseconds to a monotonic clock reading taken at
// package initialisation.
var clockStart = time.Now()

// Microseconds implements Clock: microseconds elapsed on the monotonic
// clock since package initialisation.
func (a *Adapter) Microseconds() uint64 {
	return uint64(time.Since(clockStart).Microseconds())
}
