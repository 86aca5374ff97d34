// Package communicator implements the length-framed TCP wire layer shared
// by every OPA party: one listening endpoint, a 50ms-polling accept loop,
// per-connection worker goroutines, and the client/committee message queues
// with their quorum-completion callback.
package communicator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/opa-proto/opa/internal/wire"
)

// pollInterval is how often the accept loop wakes to re-check the shutdown
// context, substituting for a raw non-blocking Accept.
const pollInterval = 50 * time.Millisecond

// SignalCallback handles a committee member's "signal" pull request. It
// receives the still-open connection (so it can write a reply) and the
// signaling party's ephemeral source port.
type SignalCallback func(conn net.Conn, peerPort int)

// CommitteeCompleteCallback fires exactly once, when the m-th committee
// message has been appended, with a snapshot of the (now-cleared) queue.
type CommitteeCompleteCallback func(batch [][]byte)

// messageQueue is a single mutex-guarded buffer, shared by any number of
// appending worker goroutines and snapshotting readers.
type messageQueue struct {
	mu    sync.Mutex
	items [][]byte
}

func (q *messageQueue) append(b []byte) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, b)
	return len(q.items)
}

func (q *messageQueue) snapshot() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([][]byte, len(q.items))
	copy(out, q.items)
	return out
}

// appendAndMaybeComplete appends b, and if the queue has now reached
// expected items, atomically snapshots and clears it and disarms expected
// under the same lock, reporting that the caller should fire the completion
// callback (outside the lock, so it never runs while holding it).
func (q *messageQueue) appendAndMaybeComplete(b []byte, expected *atomic.Int64) (batch [][]byte, completed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, b)
	if m := expected.Load(); m >= 0 && int64(len(q.items)) == m {
		batch = q.items
		q.items = nil
		expected.CompareAndSwap(m, notArmed)
		return batch, true
	}
	return nil, false
}

func (q *messageQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// notArmed is the sentinel expected-size value meaning quorum detection is
// disarmed; no number of committee appends will trigger completion.
const notArmed = -1

// Communicator owns one listening TCP endpoint and the two message queues
// fed by its workers.
type Communicator struct {
	listener *net.TCPListener
	logger   *zap.Logger

	clientQueue    messageQueue
	committeeQueue messageQueue

	expectedCommitteeSize atomic.Int64

	signalCallback   atomic.Pointer[SignalCallback]
	completeCallback atomic.Pointer[CommitteeCompleteCallback]

	workers errgroup.Group
}

// New binds a TCP listener on the given port ("" host means all interfaces)
// and returns a Communicator ready to accept. Bind failure is fatal for the
// calling party.
func New(port uint16, logger *zap.Logger) (*Communicator, error) {
	l, err := net.Listen("tcp", ":"+strconv.Itoa(int(port)))
	if err != nil {
		return nil, fmt.Errorf("communicator: binding port %d: %w", port, err)
	}
	tcpListener, ok := l.(*net.TCPListener)
	if !ok {
		return nil, fmt.Errorf("communicator: expected *net.TCPListener, got %T", l)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Communicator{listener: tcpListener, logger: logger}
	c.expectedCommitteeSize.Store(notArmed)
	return c, nil
}

// Addr returns the bound listener address.
func (c *Communicator) Addr() net.Addr { return c.listener.Addr() }

// Port returns the bound listener's TCP port.
func (c *Communicator) Port() uint16 {
	return uint16(c.listener.Addr().(*net.TCPAddr).Port)
}

// SetSignalCallback installs the handler invoked on a "signal" handshake.
func (c *Communicator) SetSignalCallback(cb SignalCallback) {
	c.signalCallback.Store(&cb)
}

// SetExpectedCommitteeSize arms quorum detection for the next m committee
// appends and installs the callback to fire exactly once when it is
// reached. Re-arming (calling this again) resets the trigger.
func (c *Communicator) SetExpectedCommitteeSize(m int, cb CommitteeCompleteCallback) {
	c.completeCallback.Store(&cb)
	c.expectedCommitteeSize.Store(int64(m))
}

// ClientMessages returns a snapshot of the buffered client-ciphertext
// payloads.
func (c *Communicator) ClientMessages() [][]byte { return c.clientQueue.snapshot() }

// CommitteeMessages returns a snapshot of the currently buffered (not yet
// quorum-completed) committee-result payloads.
func (c *Communicator) CommitteeMessages() [][]byte { return c.committeeQueue.snapshot() }

// AcceptLoop polls the listener every pollInterval, dispatching each
// accepted connection to a worker goroutine, until ctx is cancelled. It
// returns once the last spawned worker has finished, so Close can be called
// safely once AcceptLoop returns.
func (c *Communicator) AcceptLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return c.workers.Wait()
		default:
		}

		if err := c.listener.SetDeadline(time.Now().Add(pollInterval)); err != nil {
			return fmt.Errorf("communicator: setting accept deadline: %w", err)
		}
		conn, err := c.listener.Accept()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue // expected: no connection arrived within this poll cycle
			}
			if errors.Is(err, net.ErrClosed) {
				return c.workers.Wait()
			}
			c.logger.Warn("communicator: transient accept error", zap.Error(err))
			continue
		}

		c.workers.Go(func() error {
			c.handleConnection(conn)
			return nil
		})
	}
}

// Close stops accepting new connections. Callers should cancel the
// AcceptLoop context first so in-flight workers are allowed to drain.
func (c *Communicator) Close() error {
	return c.listener.Close()
}

func peerPort(conn net.Conn) int {
	addr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return 0
	}
	return addr.Port
}

func correlationID(peer string, payload []byte) string {
	h := blake3.New()
	h.Write([]byte(peer))
	var lenBuf [8]byte
	for i := range lenBuf {
		lenBuf[i] = byte(len(payload) >> (8 * i))
	}
	h.Write(lenBuf[:])
	sum := h.Sum(nil)
	return fmt.Sprintf("%x", sum[:6])
}

func (c *Communicator) handleConnection(conn net.Conn) {
	defer conn.Close()
	peer := conn.RemoteAddr().String()

	first6 := make([]byte, len(wire.TagSignal))
	if _, err := io.ReadFull(conn, first6); err != nil {
		c.logger.Warn("communicator: reading frame prefix", zap.String("peer", peer), zap.Error(err))
		return
	}

	if bytes.Equal(first6, []byte(wire.TagSignal)) {
		if cbPtr := c.signalCallback.Load(); cbPtr != nil {
			(*cbPtr)(conn, peerPort(conn))
		} else {
			c.logger.Warn("communicator: signal received with no callback installed", zap.String("peer", peer))
		}
		return
	}

	rest, err := io.ReadAll(conn)
	if err != nil {
		c.logger.Warn("communicator: reading connection to EOF", zap.String("peer", peer), zap.Error(err))
		return
	}
	full := append(append([]byte(nil), first6...), rest...)

	_, isCommittee := wire.Classify(first6, full)
	corrID := correlationID(peer, full)

	if isCommittee {
		batch, completed := c.committeeQueue.appendAndMaybeComplete(full, &c.expectedCommitteeSize)
		c.logger.Debug("communicator: buffered committee message", zap.String("peer", peer), zap.String("corr_id", corrID))
		if completed {
			if cbPtr := c.completeCallback.Load(); cbPtr != nil {
				(*cbPtr)(batch)
			}
		}
		return
	}

	c.clientQueue.append(full)
	c.logger.Debug("communicator: buffered client message", zap.String("peer", peer), zap.String("corr_id", corrID))
}

// dialerWithReuse builds a *net.Dialer bound to localPort with SO_REUSEADDR
// set, so a party can send from the same port it (or another role sharing
// its process) listens on.
func dialerWithReuse(localPort uint16) *net.Dialer {
	return &net.Dialer{
		LocalAddr: &net.TCPAddr{Port: int(localPort)},
		Control: func(_, _ string, rc syscall.RawConn) error {
			var sockErr error
			if err := rc.Control(func(fd uintptr) {
				sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}
}

// Send connects from localPort to addr, writes payload in full, shuts down
// the write half, and closes the connection.
func Send(ctx context.Context, localPort uint16, addr string, payload []byte) error {
	dialer := dialerWithReuse(localPort)
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("communicator: dialing %s: %w", addr, err)
	}
	defer conn.Close()

	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("communicator: writing to %s: %w", addr, err)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		if err := tcpConn.CloseWrite(); err != nil {
			return fmt.Errorf("communicator: closing write half to %s: %w", addr, err)
		}
	}
	return nil
}

// Signal connects from localPort to addr, writes the 6-byte "signal"
// handshake, and returns the open connection for the caller to read the
// server's reply from.
func Signal(ctx context.Context, localPort uint16, addr string) (net.Conn, error) {
	dialer := dialerWithReuse(localPort)
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("communicator: dialing %s to signal: %w", addr, err)
	}
	if _, err := conn.Write([]byte(wire.TagSignal)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("communicator: writing signal to %s: %w", addr, err)
	}
	return conn, nil
}
