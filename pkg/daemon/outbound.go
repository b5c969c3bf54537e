package daemon

import (
	"sync"
	"time"
)

// outboundRequest is an OutboundRequest (spec.md §3): the payload bytes
// copied by value into this struct (never a pointer into a caller's
// stack/buffer — spec.md §9 flags the original's h42_can_daemon_send as
// having freed its heap request out from under the consuming task) and a
// single-slot, set-without-overwrite completion notification.
type outboundRequest struct {
	payload []byte
	done    chan error
}

func newOutboundRequest(payload []byte) *outboundRequest {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	return &outboundRequest{payload: cp, done: make(chan error, 1)}
}

// notify delivers result to the waiting caller. Per spec.md §5, a daemon
// attempting to notify an already-notified slot is a programming error;
// onDoubleNotify is called (log-and-continue) rather than blocking or
// panicking.
func (r *outboundRequest) notify(result error, onDoubleNotify func()) {
	select {
	case r.done <- result:
	default:
		onDoubleNotify()
	}
}

// outboundQueue is the single-slot outbound queue (spec.md §5): at most
// one OutboundRequest in flight at a time, which is what serialises
// concurrent Send callers. Ground: same sync.Mutex/sync.Cond timeout-wait
// shape as pkg/packet.Queue.
type outboundQueue struct {
	mu   sync.Mutex
	cond *sync.Cond
	slot *outboundRequest
}

func newOutboundQueue() *outboundQueue {
	q := &outboundQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue waits up to timeout for the slot to be free, then occupies it.
// Returns false on timeout, leaving req un-enqueued.
func (q *outboundQueue) Enqueue(req *outboundRequest, timeout time.Duration) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.waitLocked(timeout, func() bool { return q.slot == nil }) {
		return false
	}
	q.slot = req
	q.cond.Broadcast()
	return true
}

// TryDequeue removes and returns the occupant without blocking.
func (q *outboundQueue) TryDequeue() (*outboundRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.slot == nil {
		return nil, false
	}
	req := q.slot
	q.slot = nil
	q.cond.Broadcast()
	return req, true
}

// WaitFree blocks up to timeout until the slot is free, without claiming
// it — used by PollWrite. This replaces the original's 10ms-granularity
// busy poll (spec.md §9 design note: "should prefer a condition
// variable") with a genuine wait.
func (q *outboundQueue) WaitFree(timeout time.Duration) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.waitLocked(timeout, func() bool { return q.slot == nil })
}

func (q *outboundQueue) waitLocked(timeout time.Duration, cond func() bool) bool {
	if cond() {
		return true
	}
	if timeout <= 0 {
		return false
	}
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer timer.Stop()

	for !cond() {
		if !time.Now().Before(deadline) {
			return false
		}
		q.cond.Wait()
	}
	return true
}
