// Package brutella wraps github.com/brutella/can, a netlink/SocketCAN
// backed bus, as an alternative to pkg/can/socketcan's raw-syscall backend.
// Ground: teacher's root socketcan.go and pkg/can/socketcan/socketcan.go.
package brutella

import (
	sockcan "github.com/brutella/can"

	cantp "github.com/samsamfire/cantp"
	"github.com/samsamfire/cantp/pkg/can"
)

func init() {
	can.RegisterInterface("brutella", NewBus)
}

type Bus struct {
	bus        *sockcan.Bus
	rxCallback cantp.FrameListener
}

// Connect implementation of cantp.Bus.
func (b *Bus) Connect(...any) error {
	go b.bus.ConnectAndPublish()
	return nil
}

// Disconnect implementation of cantp.Bus.
func (b *Bus) Disconnect() error {
	return b.bus.Disconnect()
}

// Send implementation of cantp.Bus. This transport only ever emits
// 29-bit extended, non-RTR frames, so Flags is always zero here; brutella/can
// sets the extended-ID wire bit itself from the ID's magnitude.
func (b *Bus) Send(frame cantp.Frame) error {
	return b.bus.Publish(sockcan.Frame{
		ID:     frame.ID,
		Length: frame.DLC,
		Data:   frame.Data,
	})
}

// Subscribe implementation of cantp.Bus.
func (b *Bus) Subscribe(rxCallback cantp.FrameListener) error {
	b.rxCallback = rxCallback
	// brutella/can defines its own Handle interface for received frames.
	b.bus.Subscribe(b)
	return nil
}

// Handle is brutella/can's callback interface, not cantp.FrameListener.
func (b *Bus) Handle(frame sockcan.Frame) {
	b.rxCallback.Handle(cantp.Frame{
		ID:   frame.ID,
		DLC:  frame.Length,
		Data: frame.Data,
		Ext:  true,
	})
}

func NewBus(name string) (cantp.Bus, error) {
	bus, err := sockcan.NewBusForInterfaceWithName(name)
	if err != nil {
		return nil, err
	}
	return &Bus{bus: bus}, nil
}
