// Package masterstub is a minimal master-side ADDRESS_REQUEST responder
// used by tests and local development. The real master is explicitly out
// of scope (spec.md §1); this mirrors pkg/lss.LSSMaster's role relative
// to pkg/lss.LSSSlave — a test-only counterpart to the node-side protocol
// in pkg/addralloc, not a spec'd component.
package masterstub

import (
	"log/slog"
	"sync"

	cantp "github.com/samsamfire/cantp"
	"github.com/samsamfire/cantp/pkg/addralloc"
	"github.com/samsamfire/cantp/pkg/canid"
)

// Master answers ADDRESS_REQUEST frames, assigning addresses
// sequentially starting at the address given to New (or rejecting every request while
// RejectAll is set, for exercising the "status != 0" backoff path).
type Master struct {
	logger *slog.Logger
	bm     *cantp.BusManager

	mu        sync.Mutex
	next      uint8
	RejectAll bool
}

// New constructs a Master assigning addresses starting at start.
func New(bm *cantp.BusManager, start uint8) *Master {
	return &Master{logger: slog.Default().With("service", "[MASTERSTUB]"), bm: bm, next: start}
}

// Start subscribes the master to ADDRESS_REQUEST frames.
func (m *Master) Start() (cancel func(), err error) {
	return m.bm.Subscribe(canid.Make(canid.MsgAddressRequest, canid.Broadcast, canid.Master), canid.IdentMask, false, m)
}

// Handle implements cantp.FrameListener.
func (m *Master) Handle(frame cantp.Frame) {
	if frame.RTR || !frame.Ext {
		return
	}
	msgType, src, dst := canid.Parse(frame.ID)
	if msgType != canid.MsgAddressRequest || src != canid.Broadcast || dst != canid.Master {
		return
	}
	var identity addralloc.Identity
	copy(identity[:], frame.Data[:frame.DLC])

	m.mu.Lock()
	reject := m.RejectAll
	assigned := m.next
	if !reject {
		m.next++
	}
	m.mu.Unlock()

	payload := make([]byte, 8)
	copy(payload[0:6], identity[:])
	if reject {
		payload[6] = 1
	} else {
		payload[7] = assigned
	}

	resp := cantp.NewFrame(canid.Make(canid.MsgAddressResponse, canid.Master, canid.Broadcast), 8)
	copy(resp.Data[:], payload)
	if err := m.bm.Send(resp); err != nil {
		m.logger.Warn("failed to send address response", "err", err)
	}
}

// ForceReaddress broadcasts an ADDRESS_REQUEST as if master were
// demanding every node re-acquire its address (spec.md §4.2
// "Master-initiated re-addressing").
func (m *Master) ForceReaddress() error {
	frame := cantp.NewFrame(canid.Make(canid.MsgAddressRequest, canid.Master, canid.Broadcast), 0)
	return m.bm.Send(frame)
}
