package watchdog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource is a scripted AlertSource double.
type fakeSource struct {
	mu           sync.Mutex
	alerts       chan Alert
	subscribed   [][]Alert
	recoveries   int
	restarts     int
	recoverFails bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{alerts: make(chan Alert, 8)}
}

func (f *fakeSource) SubscribeAlerts(alerts []Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, alerts)
	return nil
}

func (f *fakeSource) WaitAlert(ctx context.Context) (Alert, error) {
	select {
	case a := <-f.alerts:
		return a, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (f *fakeSource) InitiateRecovery() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recoveries++
	return nil
}

func (f *fakeSource) RestartController() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restarts++
	return nil
}

func (f *fakeSource) subscriptionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribed)
}

func TestStartSubscribesDefaultAlerts(t *testing.T) {
	src := newFakeSource()
	w := New(src, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	assert.Equal(t, 1, src.subscriptionCount())
}

func TestBusOffTriggersRecoverySequence(t *testing.T) {
	src := newFakeSource()
	w := New(src, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	src.alerts <- BusOff

	assert.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.recoveries == 1
	}, time.Second, 5*time.Millisecond)

	src.alerts <- BusRecovered

	assert.Eventually(t, func() bool {
		src.mu.Lock()
		defer src.mu.Unlock()
		return src.restarts == 1
	}, time.Second, 5*time.Millisecond)

	// Subscriptions: initial default, narrowed-to-BusRecovered, restored default.
	assert.Eventually(t, func() bool {
		return src.subscriptionCount() == 3
	}, time.Second, 5*time.Millisecond)
}

func TestNonBusOffAlertsDoNotTriggerRecovery(t *testing.T) {
	src := newFakeSource()
	w := New(src, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	src.alerts <- ErrActive
	src.alerts <- AboveErrWarn

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, src.recoveries)
	assert.Equal(t, 1, src.subscriptionCount())
}

func TestStopEndsSupervisorLoop(t *testing.T) {
	src := newFakeSource()
	w := New(src, nil)
	ctx := context.Background()
	require.NoError(t, w.Start(ctx))
	w.Stop()
}
