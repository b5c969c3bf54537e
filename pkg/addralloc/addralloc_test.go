package addralloc_test

import (
	"context"
	"sync"
	"testing"
	"time"

	cantp "github.com/samsamfire/cantp"
	"github.com/samsamfire/cantp/pkg/addralloc"
	"github.com/samsamfire/cantp/pkg/addralloc/masterstub"
	"github.com/samsamfire/cantp/pkg/canid"
	"github.com/samsamfire/cantp/pkg/isotp/refengine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// medium is an in-process broadcast bus shared by every endpoint created
// from it, standing in for a real CAN bus in these tests.
type medium struct {
	mu   sync.Mutex
	subs []cantp.FrameListener
}

func (m *medium) endpoint() *endpoint { return &endpoint{m: m} }

type endpoint struct{ m *medium }

func (e *endpoint) Connect(...any) error { return nil }
func (e *endpoint) Disconnect() error    { return nil }

func (e *endpoint) Send(frame cantp.Frame) error {
	e.m.mu.Lock()
	subs := append([]cantp.FrameListener(nil), e.m.subs...)
	e.m.mu.Unlock()
	for _, s := range subs {
		s.Handle(frame)
	}
	return nil
}

func (e *endpoint) Subscribe(l cantp.FrameListener) error {
	e.m.mu.Lock()
	e.m.subs = append(e.m.subs, l)
	e.m.mu.Unlock()
	return nil
}

func newBusManager(t *testing.T, m *medium) *cantp.BusManager {
	t.Helper()
	ep := m.endpoint()
	bm := cantp.NewBusManager(ep, nil)
	require.NoError(t, ep.Subscribe(bm))
	return bm
}

func TestAcquireSucceeds(t *testing.T) {
	m := &medium{}
	nodeBM := newBusManager(t, m)
	masterBM := newBusManager(t, m)

	master := masterstub.New(masterBM, 0x07)
	cancelMaster, err := master.Start()
	require.NoError(t, err)
	defer cancelMaster()

	engine := refengine.New(nil, 0)
	acq := addralloc.New(nodeBM, addralloc.Identity{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}, engine, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	addr, err := acq.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(0x07), addr)
}

func TestAcquireRetriesOnRejection(t *testing.T) {
	m := &medium{}
	nodeBM := newBusManager(t, m)
	masterBM := newBusManager(t, m)

	master := masterstub.New(masterBM, 0x09)
	master.RejectAll = true
	cancelMaster, err := master.Start()
	require.NoError(t, err)
	defer cancelMaster()

	engine := refengine.New(nil, 0)
	acq := addralloc.New(nodeBM, addralloc.Identity{1, 2, 3, 4, 5, 6}, engine, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err = acq.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEncodeRequestLength(t *testing.T) {
	req := addralloc.EncodeRequest(addralloc.Identity{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF})
	assert.Len(t, req, 6)
}

func TestAddressResponseIDParsesBack(t *testing.T) {
	// Sanity check that canid.Parse/Make agree with the type this package
	// subscribes under.
	id := canid.Make(canid.MsgAddressResponse, canid.Master, canid.Broadcast)
	gotType, gotSrc, gotDst := canid.Parse(id)
	assert.Equal(t, canid.MsgAddressResponse, gotType)
	assert.Equal(t, canid.Master, gotSrc)
	assert.Equal(t, canid.Broadcast, gotDst)
}
