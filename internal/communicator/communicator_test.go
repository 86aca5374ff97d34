package communicator

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestCommunicator(t *testing.T) *Communicator {
	t.Helper()
	c, err := New(0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func runLoop(t *testing.T, c *Communicator) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.AcceptLoop(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("accept loop did not shut down in time")
		}
	})
	return cancel
}

func TestClientMessageBuffered(t *testing.T) {
	c := newTestCommunicator(t)
	runLoop(t, c)

	addr := c.Addr().String()
	require.NoError(t, Send(context.Background(), 0, addr, []byte("not-a-known-tag-payload")))

	require.Eventually(t, func() bool {
		return len(c.ClientMessages()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestCommitteeQuorumFiresOnce(t *testing.T) {
	c := newTestCommunicator(t)
	runLoop(t, c)

	var mu sync.Mutex
	var calls int
	var lastBatch [][]byte
	c.SetExpectedCommitteeSize(3, func(batch [][]byte) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		lastBatch = batch
	})

	addr := c.Addr().String()
	for i := 0; i < 3; i++ {
		payload := append([]byte(nil), []byte("committee")...)
		payload = append(payload, byte(i))
		require.NoError(t, Send(context.Background(), 0, addr, payload))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1 && len(lastBatch) == 3
	}, time.Second, 10*time.Millisecond)

	require.Empty(t, c.CommitteeMessages(), "queue must be cleared on completion")

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, calls, "callback must fire exactly once")
}

func TestSignalCallbackReceivesConnection(t *testing.T) {
	c := newTestCommunicator(t)

	received := make(chan int, 1)
	c.SetSignalCallback(func(conn net.Conn, peerPort int) {
		defer conn.Close()
		_, _ = conn.Write([]byte("ack"))
		received <- peerPort
	})
	runLoop(t, c)

	addr := c.Addr().String()
	conn, err := Signal(context.Background(), 0, addr)
	require.NoError(t, err)
	defer conn.Close()

	buf := make([]byte, 3)
	_, err = conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "ack", string(buf))

	select {
	case p := <-received:
		require.NotZero(t, p)
	case <-time.After(time.Second):
		t.Fatal("signal callback was not invoked")
	}
}

func TestAcceptLoopShutsDownOnContextCancel(t *testing.T) {
	c := newTestCommunicator(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.AcceptLoop(ctx) }()

	start := time.Now()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
		require.Less(t, time.Since(start), 200*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("accept loop did not respond to cancellation promptly")
	}
}
