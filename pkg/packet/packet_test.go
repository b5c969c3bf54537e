package packet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketAppendBound(t *testing.T) {
	p, err := Alloc(10)
	require.NoError(t, err)

	assert.True(t, p.Append([]byte("hello")))
	assert.Equal(t, 5, p.Size())

	assert.False(t, p.Append([]byte("banana")))
	assert.Equal(t, 5, p.Size())

	assert.Equal(t, "hello", string(p.Data()))
}

func TestQueueCreateDestroy(t *testing.T) {
	q, err := Create(10, 100)
	require.NoError(t, err)
	q.Destroy()
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 0, q.CurrentBytes())
}

func mustPacket(t *testing.T, capacity int, data string) Packet {
	t.Helper()
	p, err := Alloc(capacity)
	require.NoError(t, err)
	require.True(t, p.Append([]byte(data)))
	return p
}

func TestQueueByteAccounting(t *testing.T) {
	q, err := Create(10, 10)
	require.NoError(t, err)

	assert.True(t, q.PushAcquire(mustPacket(t, 8, "hello123")))
	assert.False(t, q.PushAcquire(mustPacket(t, 5, "world")))
	assert.Equal(t, 8, q.CurrentBytes())
}

func TestQueueCountAccounting(t *testing.T) {
	q, err := Create(2, 100)
	require.NoError(t, err)

	assert.True(t, q.PushAcquire(mustPacket(t, 5, "world")))
	assert.True(t, q.PushAcquire(mustPacket(t, 5, "world")))
	assert.False(t, q.PushAcquire(mustPacket(t, 5, "world")))
	assert.Equal(t, 2, q.Len())
}

func TestQueueWaitDataAvailable(t *testing.T) {
	q, err := Create(10, 100)
	require.NoError(t, err)

	assert.False(t, q.WaitDataAvailable(10*time.Millisecond))

	require.True(t, q.PushAcquire(mustPacket(t, 5, "hello")))
	assert.True(t, q.WaitDataAvailable(10*time.Millisecond))
	// Non-destructive: the packet is still there to pop.
	assert.Equal(t, 1, q.Len())
}

func TestQueuePushPopRoundTrip(t *testing.T) {
	q, err := Create(4, 100)
	require.NoError(t, err)

	require.True(t, q.PushAcquire(mustPacket(t, 5, "alpha")))
	require.True(t, q.PushAcquire(mustPacket(t, 4, "beta")))

	p, err := q.PopRelease(10 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(p.Data()))

	p, err = q.PopRelease(10 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "beta", string(p.Data()))

	_, err = q.PopRelease(10 * time.Millisecond)
	assert.Error(t, err)
	assert.Equal(t, 0, q.CurrentBytes())
}

func TestQueuePopReleaseUnblocksOnPush(t *testing.T) {
	q, err := Create(4, 100)
	require.NoError(t, err)

	done := make(chan Packet, 1)
	go func() {
		p, err := q.PopRelease(500 * time.Millisecond)
		if err == nil {
			done <- p
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.True(t, q.PushAcquire(mustPacket(t, 5, "hello")))

	select {
	case p := <-done:
		assert.Equal(t, "hello", string(p.Data()))
	case <-time.After(time.Second):
		t.Fatal("PopRelease did not unblock on push")
	}
}
