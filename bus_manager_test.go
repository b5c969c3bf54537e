package cantp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingBus is a minimal Bus double recording every frame handed to
// Send and letting the test inject frames via its stored listener.
type recordingBus struct {
	sent     []Frame
	listener FrameListener
}

func (b *recordingBus) Connect(...any) error { return nil }
func (b *recordingBus) Disconnect() error    { return nil }

func (b *recordingBus) Send(frame Frame) error {
	b.sent = append(b.sent, frame)
	return nil
}

func (b *recordingBus) Subscribe(listener FrameListener) error {
	b.listener = listener
	return nil
}

type capturingListener struct {
	got []Frame
}

func (c *capturingListener) Handle(frame Frame) { c.got = append(c.got, frame) }

func TestBusManagerSendForwardsToBus(t *testing.T) {
	bus := &recordingBus{}
	bm := NewBusManager(bus, nil)

	err := bm.Send(NewFrame(0x123, 4))
	require.NoError(t, err)
	require.Len(t, bus.sent, 1)
	assert.EqualValues(t, 0x123, bus.sent[0].ID)
}

func TestBusManagerDispatchesToMatchingSubscription(t *testing.T) {
	bus := &recordingBus{}
	bm := NewBusManager(bus, nil)
	require.NoError(t, bus.Subscribe(bm))

	matching := &capturingListener{}
	other := &capturingListener{}
	_, err := bm.Subscribe(0x100, 0xFFF, false, matching)
	require.NoError(t, err)
	_, err = bm.Subscribe(0x200, 0xFFF, false, other)
	require.NoError(t, err)

	bus.listener.Handle(Frame{ID: 0x100, DLC: 1})

	assert.Len(t, matching.got, 1)
	assert.Empty(t, other.got)
}

func TestBusManagerSubscriptionIgnoresRandomSeedBits(t *testing.T) {
	bus := &recordingBus{}
	bm := NewBusManager(bus, nil)
	require.NoError(t, bus.Subscribe(bm))

	listener := &capturingListener{}
	// Mask covers only the low 8 bits, emulating an IdentMask-style match
	// that must ignore the seed bits above it.
	_, err := bm.Subscribe(0x42, 0xFF, false, listener)
	require.NoError(t, err)

	bus.listener.Handle(Frame{ID: 0x1FFFF42, DLC: 0})

	assert.Len(t, listener.got, 1)
}

func TestBusManagerCancelRemovesSubscription(t *testing.T) {
	bus := &recordingBus{}
	bm := NewBusManager(bus, nil)
	require.NoError(t, bus.Subscribe(bm))

	listener := &capturingListener{}
	cancel, err := bm.Subscribe(0x42, 0xFFF, false, listener)
	require.NoError(t, err)

	cancel()
	bus.listener.Handle(Frame{ID: 0x42, DLC: 0})

	assert.Empty(t, listener.got)
}

func TestBusManagerRTRFlagMustMatch(t *testing.T) {
	bus := &recordingBus{}
	bm := NewBusManager(bus, nil)
	require.NoError(t, bus.Subscribe(bm))

	listener := &capturingListener{}
	_, err := bm.Subscribe(0x42, 0xFFF, false, listener)
	require.NoError(t, err)

	bus.listener.Handle(Frame{ID: 0x42, DLC: 0, RTR: true})

	assert.Empty(t, listener.got)
}
