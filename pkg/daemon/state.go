package daemon

import (
	"context"
	"sync"
)

type lifecycleState int

const (
	stateObtainingAddress lifecycleState = iota
	stateServing
)

// signalableState is DaemonState (spec.md §3): two mutually exclusive
// states, observable by blocking waiters. Ground: the closed-channel-as-
// broadcast idiom context.Context itself uses, consistent with the
// teacher's channel/select style (pkg/lss.WaitForResponse); replaces the
// original's FreeRTOS EventGroup bits.
type signalableState struct {
	mu        sync.Mutex
	current   lifecycleState
	servingCh chan struct{}
}

func newSignalableState() *signalableState {
	return &signalableState{current: stateObtainingAddress, servingCh: make(chan struct{})}
}

func (s *signalableState) get() lifecycleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *signalableState) setServing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == stateServing {
		return
	}
	s.current = stateServing
	close(s.servingCh)
}

func (s *signalableState) setObtainingAddress() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == stateObtainingAddress {
		return
	}
	s.current = stateObtainingAddress
	s.servingCh = make(chan struct{})
}

// waitServing blocks until the state is (or becomes) SERVING, or ctx is
// done.
func (s *signalableState) waitServing(ctx context.Context) error {
	s.mu.Lock()
	if s.current == stateServing {
		s.mu.Unlock()
		return nil
	}
	ch := s.servingCh
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
