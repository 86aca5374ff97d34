// Package committee implements the OPA committee-member role: pull this
// member's share batch from the server by connecting from a fixed,
// index-derived port, sum the per-client share vectors in F, and push the
// resulting partial sum back. The server picks the share batch to reply with
// from the signal's TCP source port, and the pushed result carries the
// member's index on the wire, so a committee member never needs to accept
// inbound connections of its own.
package committee

import (
	"context"
	"fmt"
	"io"
	"net"

	"go.uber.org/zap"

	"github.com/opa-proto/opa/internal/communicator"
	"github.com/opa-proto/opa/internal/field"
	"github.com/opa-proto/opa/internal/session"
	"github.com/opa-proto/opa/internal/wire"
)

// Member is one committee participant.
type Member struct {
	setup      session.SetupParameters
	state      session.ServerState
	index      int
	serverHost string
	log        *zap.Logger
}

// New constructs a committee Member. index must be in [0, setup.CommitteeSize);
// it determines both this member's fixed source port and its Shamir
// x-coordinate (index+1).
func New(setup session.SetupParameters, state session.ServerState, index int, serverHost string, log *zap.Logger) (*Member, error) {
	if index < 0 || index >= setup.CommitteeSize {
		return nil, fmt.Errorf("committee: index %d out of range [0, %d)", index, setup.CommitteeSize)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Member{setup: setup, state: state, index: index, serverHost: serverHost, log: log}, nil
}

// Port is the fixed local port this member signals and pushes from:
// server_base_port + 1 + index.
func (m *Member) Port() uint16 { return m.state.ServerPort + 1 + uint16(m.index) }

func (m *Member) serverAddr() string {
	return fmt.Sprintf("%s:%d", m.serverHost, m.state.ServerPort)
}

// Run signals the server, reads its share batch reply to EOF, sums the
// batch's share vectors coordinatewise, and pushes the resulting partial
// aggregate back to the server.
func (m *Member) Run(ctx context.Context) error {
	sigma, err := m.pullAndSum(ctx)
	if err != nil {
		return err
	}
	return m.push(ctx, sigma)
}

func (m *Member) pullAndSum(ctx context.Context) ([]field.Element, error) {
	conn, err := communicator.Signal(ctx, m.Port(), m.serverAddr())
	if err != nil {
		return nil, fmt.Errorf("committee[%d]: signaling server: %w", m.index, err)
	}
	defer conn.Close()
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.CloseWrite()
	}

	raw, err := io.ReadAll(conn)
	if err != nil {
		return nil, fmt.Errorf("committee[%d]: reading share batch: %w", m.index, err)
	}

	rows, err := wire.DecodeShareBatch(raw)
	if err != nil {
		return nil, fmt.Errorf("committee[%d]: decoding share batch: %w", m.index, err)
	}

	n := m.state.SHPRGParams().N
	sigma := make([]field.Element, n)
	for c, row := range rows {
		if len(row) != n {
			return nil, fmt.Errorf("committee[%d]: share row %d has length %d, want %d", m.index, c, len(row), n)
		}
		for j, y := range row {
			sigma[j] = sigma[j].Add(y)
		}
	}
	m.log.Debug("committee: summed share batch", zap.Int("index", m.index), zap.Int("clients", len(rows)))
	return sigma, nil
}

func (m *Member) push(ctx context.Context, sigma []field.Element) error {
	payload, err := wire.EncodeCommitteeResult(wire.CommitteeResult{Index: uint16(m.index), Sigma: sigma})
	if err != nil {
		return fmt.Errorf("committee[%d]: encoding result frame: %w", m.index, err)
	}
	if err := communicator.Send(ctx, m.Port(), m.serverAddr(), payload); err != nil {
		return fmt.Errorf("committee[%d]: pushing result: %w", m.index, err)
	}
	return nil
}
