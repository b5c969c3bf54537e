// Package addralloc implements the node side of the address-acquisition
// handshake (spec.md §4.2): a node broadcasts ADDRESS_REQUEST carrying
// its 6-byte identity and waits for the master's ADDRESS_RESPONSE.
//
// Ground: the retry/backoff/random-jitter shape follows pkg/lss's
// WaitForResponse + master/slave split (pkg/lss/slave.go, master.go),
// which is the teacher's closest analogue to an LSS-style discovery
// handshake; exact timings and retry semantics come from the original's
// _daemon_obtain_address (h42_can_daemon.c).
package addralloc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	cantp "github.com/samsamfire/cantp"
	"github.com/samsamfire/cantp/pkg/canid"
	"github.com/samsamfire/cantp/pkg/isotp"
)

// Identity is the 6-byte MAC/chip identifier a node advertises in its
// ADDRESS_REQUEST.
type Identity [6]byte

func (id Identity) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", id[0], id[1], id[2], id[3], id[4], id[5])
}

// errStatusNonZero is returned internally when a response carries a
// nonzero status; callers of Acquire never see it directly, it only
// drives the 30s backoff-and-retry path.
var errStatusNonZero = errors.New("addralloc: master returned nonzero status")

const (
	requestJitterMax = 250 * time.Millisecond
	txRetryBackoff   = 10 * time.Second
	// responseWindow is the original's nested "3s total, 1s read slices"
	// made into a single deadline: response delivery here is pushed by
	// BusManager.Handle onto a channel rather than pulled in 1s reads.
	responseWindow   = 3 * time.Second
	statusErrBackoff = 30 * time.Second
)

// EncodeRequest builds the 6-byte ADDRESS_REQUEST payload.
func EncodeRequest(id Identity) []byte {
	out := make([]byte, 6)
	copy(out, id[:])
	return out
}

// response is a parsed ADDRESS_RESPONSE payload.
type response struct {
	identity Identity
	status   byte
	assigned uint8
}

// decodeResponse parses an 8-byte ADDRESS_RESPONSE payload:
// mac[0..6) ∥ status ∥ assigned_address.
func decodeResponse(payload []byte) (response, bool) {
	if len(payload) != 8 {
		return response{}, false
	}
	var r response
	copy(r.identity[:], payload[0:6])
	r.status = payload[6]
	r.assigned = payload[7]
	return r, true
}

// Acquirer runs the node-side address-acquisition algorithm against a
// BusManager, driving an isotp.Engine's Reset/SetArbitrationID as a side
// effect of (re)addressing (spec.md §4.2).
type Acquirer struct {
	logger   *slog.Logger
	bm       *cantp.BusManager
	identity Identity
	engine   isotp.Engine

	pending chan response
}

// New constructs an Acquirer for identity, transmitting address-related
// frames over bm and resetting/re-targeting engine as the handshake
// progresses.
func New(bm *cantp.BusManager, identity Identity, engine isotp.Engine, logger *slog.Logger) *Acquirer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Acquirer{
		logger:   logger.With("service", "[ADDRALLOC]", "identity", identity.String()),
		bm:       bm,
		identity: identity,
		engine:   engine,
	}
}

// Handle implements cantp.FrameListener for ADDRESS_RESPONSE frames.
// Must not block (ground: pkg/lss.LSSSlave.Handle's select-with-default
// drop discipline): a full pending channel means no Acquire call is
// currently waiting, so the frame is simply dropped.
func (a *Acquirer) Handle(frame cantp.Frame) {
	if frame.RTR || !frame.Ext {
		return
	}
	msgType, src, dst := canid.Parse(frame.ID)
	if msgType != canid.MsgAddressResponse || src != canid.Master || dst != canid.Broadcast {
		return
	}
	resp, ok := decodeResponse(frame.Data[:frame.DLC])
	if !ok || resp.identity != a.identity {
		return
	}
	select {
	case a.pending <- resp:
	default:
	}
}

// Acquire runs the full node algorithm (spec.md §4.2) until it succeeds
// or ctx is cancelled, returning the assigned NodeAddress.
func (a *Acquirer) Acquire(ctx context.Context) (uint8, error) {
	a.engine.Reset()

	a.pending = make(chan response, 1)
	cancelSub, err := a.bm.Subscribe(canid.Make(canid.MsgAddressResponse, canid.Master, canid.Broadcast), canid.IdentMask, false, a)
	if err != nil {
		return 0, err
	}
	defer cancelSub()

	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		if err := sleepCtx(ctx, time.Duration(rand.Int63n(int64(requestJitterMax)))); err != nil {
			return 0, err
		}

		if err := a.sendRequestWithRetry(ctx); err != nil {
			return 0, err
		}

		assigned, err := a.awaitResponse(ctx)
		switch {
		case err == nil:
			a.logger.Info("address acquired", "address", assigned)
			a.engine.SetArbitrationID(canid.Make(canid.MsgISOTP, assigned, canid.Master))
			return assigned, nil
		case errors.Is(err, errStatusNonZero):
			a.logger.Warn("master rejected address request, backing off")
			if err := sleepCtx(ctx, statusErrBackoff); err != nil {
				return 0, err
			}
		case errors.Is(err, cantp.ErrTimeout):
			a.logger.Debug("no address response within window, retrying")
		default:
			return 0, err
		}
	}
}

// sendRequestWithRetry transmits ADDRESS_REQUEST, retrying with a fixed
// backoff on transport failure until it succeeds or ctx is cancelled.
func (a *Acquirer) sendRequestWithRetry(ctx context.Context) error {
	frame := cantp.NewFrame(canid.Make(canid.MsgAddressRequest, canid.Broadcast, canid.Master), 6)
	copy(frame.Data[:], EncodeRequest(a.identity))

	for {
		if err := a.bm.Send(frame); err == nil {
			return nil
		}
		a.logger.Warn("address request transmit failed, backing off")
		if err := sleepCtx(ctx, txRetryBackoff); err != nil {
			return err
		}
	}
}

// awaitResponse waits up to responseWindow for a matching
// ADDRESS_RESPONSE, returning cantp.ErrTimeout if none arrives.
func (a *Acquirer) awaitResponse(ctx context.Context) (uint8, error) {
	deadline := time.NewTimer(responseWindow)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-deadline.C:
			return 0, cantp.ErrTimeout
		case resp := <-a.pending:
			if resp.status != 0 {
				return 0, errStatusNonZero
			}
			return resp.assigned, nil
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
