package committee

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opa-proto/opa/internal/communicator"
	"github.com/opa-proto/opa/internal/field"
	"github.com/opa-proto/opa/internal/session"
	"github.com/opa-proto/opa/internal/shprg"
	"github.com/opa-proto/opa/internal/wire"
)

func TestMemberPortIsIndexDerived(t *testing.T) {
	setup := session.SetupParameters{Kappa: 40, ThresholdCorrupt: 2, ThresholdReconstruct: 3, CommitteeSize: 5}
	state := session.NewServerState([32]byte{}, setup, nil, 9000, shprg.Params{})
	m, err := New(setup, state, 2, "127.0.0.1", nil)
	require.NoError(t, err)
	require.Equal(t, uint16(9003), m.Port())
}

func TestNewRejectsOutOfRangeIndex(t *testing.T) {
	setup := session.SetupParameters{Kappa: 40, ThresholdCorrupt: 2, ThresholdReconstruct: 3, CommitteeSize: 5}
	state := session.NewServerState([32]byte{}, setup, nil, 9000, shprg.Params{})
	_, err := New(setup, state, 5, "127.0.0.1", nil)
	require.Error(t, err)
}

// TestRunPullsSumsAndPushes stands a fake server in for the real one: it
// replies to the signal with a two-client share batch and records the
// committee result pushed back.
func TestRunPullsSumsAndPushes(t *testing.T) {
	setup := session.SetupParameters{Kappa: 40, ThresholdCorrupt: 2, ThresholdReconstruct: 3, CommitteeSize: 5}
	fakeServer, err := communicator.New(0, nil)
	require.NoError(t, err)
	defer fakeServer.Close()

	serverPort := fakeServer.Port()
	state := session.NewServerState([32]byte{}, setup, nil, serverPort, shprg.Params{})
	state.ShprgParams = shprg.Params{Lambda: 16, N: 4, P: 1 << 40}

	rowA := []field.Element{field.FromUint64(1), field.FromUint64(2), field.FromUint64(3), field.FromUint64(4)}
	rowB := []field.Element{field.FromUint64(10), field.FromUint64(20), field.FromUint64(30), field.FromUint64(40)}
	batch, err := wire.EncodeShareBatch([][]field.Element{rowA, rowB})
	require.NoError(t, err)

	fakeServer.SetSignalCallback(func(conn net.Conn, peerPort int) {
		_, _ = conn.Write(batch)
	})

	resultCh := make(chan wire.CommitteeResult, 1)
	fakeServer.SetExpectedCommitteeSize(1, func(msgs [][]byte) {
		r, err := wire.DecodeCommitteeResult(msgs[0])
		require.NoError(t, err)
		resultCh <- r
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { defer close(done); _ = fakeServer.AcceptLoop(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	m, err := New(setup, state, 0, "127.0.0.1", nil)
	require.NoError(t, err)
	require.NoError(t, m.Run(context.Background()))

	select {
	case r := <-resultCh:
		require.Equal(t, uint16(0), r.Index)
		require.Len(t, r.Sigma, 4)
		require.True(t, r.Sigma[0].Equal(field.FromUint64(11)))
		require.True(t, r.Sigma[1].Equal(field.FromUint64(22)))
		require.True(t, r.Sigma[2].Equal(field.FromUint64(33)))
		require.True(t, r.Sigma[3].Equal(field.FromUint64(44)))
	case <-time.After(2 * time.Second):
		t.Fatal("committee result was not pushed in time")
	}
}
