// Package daemon is the transport daemon state machine (spec.md §4.3):
// a single-threaded event loop multiplexing inbound/outbound traffic,
// driving an isotp.Engine, and surfacing the public connect/send/recv/
// poll_*/max_packet_size operations (spec.md §6) to application threads.
//
// Ground: the background()/main() dual-loop lifecycle (Start/Stop/Wait,
// ticker+ctx.Done() select) follows pkg/node/controller.go's
// NodeProcessor; the catch-all subscribe-then-filter-in-software
// dispatch mirrors pkg/lss.LSSSlave.Handle's select/default-drop
// discipline, generalized from a single message type to the full
// src/dst/msg_type filter spec.md §4.3 step 3 describes.
package daemon

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	cantp "github.com/samsamfire/cantp"
	"github.com/samsamfire/cantp/pkg/addralloc"
	"github.com/samsamfire/cantp/pkg/canid"
	"github.com/samsamfire/cantp/pkg/isotp"
	"github.com/samsamfire/cantp/pkg/packet"
)

// MaxPacketSize is MAX_PACKET_SIZE = ISOTP_BUFSIZE - 1 (spec.md §5, §6).
const MaxPacketSize = 4094

const (
	rxTimeoutIdle       = 50 * time.Millisecond
	rxTimeoutSendActive = 5 * time.Millisecond
	rxBacklog           = 16
)

// Daemon is one node's transport instance: the singleton described by
// spec.md §9 "Global singletons", constructed once via New and never
// torn down during normal operation except via Stop.
type Daemon struct {
	logger *slog.Logger

	bm       *cantp.BusManager
	engine   isotp.Engine
	acquirer *addralloc.Acquirer
	inbound  *packet.Queue
	outbound *outboundQueue
	state    *signalableState

	address atomic.Uint32 // NodeAddress, 0 (master) until acquired

	rx         chan cantp.Frame
	cancelSub  func()
	cancelLoop context.CancelFunc
	wg         sync.WaitGroup

	// loop-local bookkeeping, touched only by the run goroutine.
	sendInFlight   *outboundRequest
	prevSendStatus isotp.SendStatus

	cursorMu     sync.Mutex
	cursor       *packet.Packet
	cursorOffset int
}

// New constructs a Daemon. identity is this node's 6-byte MAC/chip
// identifier used during address acquisition; maxQueuedPackets/
// maxQueuedBytes bound the inbound PacketQueue (spec.md §5 defaults:
// 32 packets / 16 KiB).
func New(bm *cantp.BusManager, engine isotp.Engine, identity addralloc.Identity, maxQueuedPackets, maxQueuedBytes int, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}
	inbound, err := packet.Create(maxQueuedPackets, maxQueuedBytes)
	if err != nil {
		return nil, err
	}
	logger = logger.With("service", "[DAEMON]")
	d := &Daemon{
		logger:   logger,
		bm:       bm,
		engine:   engine,
		inbound:  inbound,
		outbound: newOutboundQueue(),
		state:    newSignalableState(),
		rx:       make(chan cantp.Frame, rxBacklog),
	}
	d.acquirer = addralloc.New(bm, identity, engine, logger)
	return d, nil
}

// Handle implements cantp.FrameListener. The daemon subscribes to every
// frame on the bus and performs its src/dst/msg_type filtering in
// software (spec.md §4.3 step 3), rather than relying on BusManager's
// ident/mask match, because the node's own address — part of the filter
// — changes at runtime as addresses are (re)acquired.
func (d *Daemon) Handle(frame cantp.Frame) {
	select {
	case d.rx <- frame:
	default:
		d.logger.Warn("daemon rx backlog full, dropping frame")
	}
}

// Start subscribes the daemon to the bus and launches its event loop in
// a background goroutine, returning immediately.
func (d *Daemon) Start(ctx context.Context) error {
	cancelSub, err := d.bm.Subscribe(0, 0, false, d)
	if err != nil {
		return err
	}
	d.cancelSub = cancelSub

	runCtx, cancel := context.WithCancel(ctx)
	d.cancelLoop = cancel
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(runCtx)
	}()
	return nil
}

// Stop cancels the event loop and waits for it to exit.
func (d *Daemon) Stop() {
	if d.cancelLoop != nil {
		d.cancelLoop()
	}
	d.wg.Wait()
	if d.cancelSub != nil {
		d.cancelSub()
	}
}

// Connect waits until the daemon reaches SERVING or ctx is done (spec.md
// §5 "connect(timeout)"). The loop itself begins address acquisition
// immediately on Start, since DaemonState's initial value is
// OBTAINING_ADDRESS (spec.md §3); Connect is purely the caller's wait.
func (d *Daemon) Connect(ctx context.Context) error {
	return d.state.waitServing(ctx)
}

// Send transmits payload, blocking up to timeout for outbound-queue
// admission and then indefinitely for the daemon's completion
// notification (spec.md §5 "send(bytes, timeout)").
func (d *Daemon) Send(ctx context.Context, payload []byte, timeout time.Duration) error {
	if d.state.get() != stateServing {
		return cantp.ErrInvalidState
	}
	if len(payload) > MaxPacketSize {
		return cantp.ErrInvalidSize
	}

	req := newOutboundRequest(payload)
	if !d.outbound.Enqueue(req, timeout) {
		return cantp.ErrTimeout
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv copies up to len(buf) bytes from the current (or next) inbound
// packet, blocking up to timeout if none is currently available (spec.md
// §5 "recv(buf, timeout)").
func (d *Daemon) Recv(buf []byte, timeout time.Duration) (int, error) {
	d.cursorMu.Lock()
	defer d.cursorMu.Unlock()

	if d.cursor == nil {
		p, err := d.inbound.PopRelease(timeout)
		if err != nil {
			return 0, err
		}
		d.cursor = &p
		d.cursorOffset = 0
	}

	n := copy(buf, d.cursor.Data()[d.cursorOffset:])
	d.cursorOffset += n
	if d.cursorOffset >= d.cursor.Size() {
		d.cursor.Free()
		d.cursor = nil
	}
	return n, nil
}

// PollRead reports whether inbound data is available, waiting up to
// timeout (spec.md §5 "poll_read(timeout)").
func (d *Daemon) PollRead(timeout time.Duration) bool {
	d.cursorMu.Lock()
	hasCursor := d.cursor != nil
	d.cursorMu.Unlock()
	if hasCursor {
		return true
	}
	return d.inbound.WaitDataAvailable(timeout)
}

// PollWrite reports whether the outbound queue has a free slot, waiting
// up to timeout (spec.md §5 "poll_write(timeout)").
func (d *Daemon) PollWrite(timeout time.Duration) bool {
	return d.outbound.WaitFree(timeout)
}

func (d *Daemon) selfAddress() uint8 {
	return uint8(d.address.Load())
}

func (d *Daemon) setAddress(addr uint8) {
	d.address.Store(uint32(addr))
}

// run is the single-threaded event loop (spec.md §4.3). Each iteration
// performs steps 1-7 in order.
func (d *Daemon) run(ctx context.Context) {
	for ctx.Err() == nil {
		// Step 1.
		if d.state.get() == stateObtainingAddress {
			addr, err := d.acquirer.Acquire(ctx)
			if err != nil {
				continue // ctx.Err() check at loop top will exit if cancelled
			}
			d.setAddress(addr)
			d.state.setServing()
			continue
		}

		// Step 2.
		timeout := rxTimeoutIdle
		if d.sendInFlight != nil {
			timeout = rxTimeoutSendActive
		}

		var frame cantp.Frame
		var gotFrame bool
		select {
		case frame = <-d.rx:
			gotFrame = true
		case <-time.After(timeout):
		case <-ctx.Done():
			return
		}

		// Step 3.
		if gotFrame && d.handleFrame(frame) {
			continue // re-addressing: restart iteration immediately
		}

		// Step 4.
		d.engine.Poll()

		// Step 5.
		if msg, ok := d.engine.Receive(); ok {
			d.deliverInbound(msg)
		}

		// Step 6.
		status := d.engine.SendStatus()
		if d.prevSendStatus == isotp.SendInProgress && status != isotp.SendInProgress && d.sendInFlight != nil {
			result := cantp.ErrFail
			if status == isotp.SendIdle {
				result = nil
			}
			d.sendInFlight.notify(result, d.logDoubleNotify)
			d.sendInFlight = nil
		}
		d.prevSendStatus = status

		// Step 7.
		if status != isotp.SendInProgress && d.sendInFlight == nil {
			d.tryStartNextSend()
		}
	}
}

func (d *Daemon) deliverInbound(msg []byte) {
	p, err := packet.Alloc(len(msg))
	if err != nil {
		d.logger.Warn("failed to allocate inbound packet, dropping", "err", err)
		return
	}
	p.Append(msg)
	if !d.inbound.PushAcquire(p) {
		d.logger.Warn("inbound queue full, dropping packet", "size", len(msg))
		p.Free()
	}
}

func (d *Daemon) tryStartNextSend() {
	req, ok := d.outbound.TryDequeue()
	if !ok {
		return
	}
	if err := d.engine.Send(req.payload); err != nil {
		req.notify(cantp.ErrFail, d.logDoubleNotify)
		return
	}
	if len(req.payload) < 8 {
		req.notify(nil, d.logDoubleNotify)
		d.prevSendStatus = isotp.SendIdle
		return
	}
	d.sendInFlight = req
	d.prevSendStatus = isotp.SendInProgress
}

// handleFrame applies spec.md §4.3 step 3's filter, feeding ISO-TP
// payload frames to the engine and detecting master-initiated
// re-addressing. Returns true iff re-addressing was triggered (the loop
// must restart its iteration).
func (d *Daemon) handleFrame(frame cantp.Frame) bool {
	if frame.RTR || !frame.Ext {
		return false
	}
	msgType, src, dst := canid.Parse(frame.ID)
	if src != canid.Master {
		return false
	}
	self := d.selfAddress()
	if dst != self && dst != canid.Broadcast {
		return false
	}

	switch msgType {
	case canid.MsgAddressRequest:
		d.state.setObtainingAddress()
		if d.sendInFlight != nil {
			d.sendInFlight.notify(cantp.ErrFail, d.logDoubleNotify)
			d.sendInFlight = nil
			d.prevSendStatus = isotp.SendIdle
		}
		return true
	case canid.MsgAddressResponse:
		// Handled by addralloc.Acquirer's own subscription while it runs;
		// nothing to do here.
		return false
	default:
		if dst == canid.Broadcast {
			d.logger.Debug("dropping broadcast ISO-TP frame")
			return false
		}
		d.engine.HandleFrame(frame.Data[:frame.DLC])
		return false
	}
}

func (d *Daemon) logDoubleNotify() {
	d.logger.Error("outbound completion slot already set; dropping notification (programming error)")
}
