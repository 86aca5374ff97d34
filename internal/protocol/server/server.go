// Package server implements the OPA server role's phase state machine:
// bind and broadcast, collect client ciphertexts, distribute per-member
// share batches on signal, and aggregate once committee quorum is reached.
// Each phase owns a disjoint set of methods, matching the usual Go state
// machine idiom of a phase enum plus a mutex-guarded current-phase field.
package server

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/opa-proto/opa/internal/communicator"
	"github.com/opa-proto/opa/internal/field"
	"github.com/opa-proto/opa/internal/session"
	"github.com/opa-proto/opa/internal/shprg"
	"github.com/opa-proto/opa/internal/wire"
)

// Phase is a step in the server's lifecycle.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseReady
	PhaseCollecting
	PhaseDistributing
	PhaseAggregating
	PhaseTerminal
)

func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "init"
	case PhaseReady:
		return "ready"
	case PhaseCollecting:
		return "collecting"
	case PhaseDistributing:
		return "distributing"
	case PhaseAggregating:
		return "aggregating"
	case PhaseTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Result is the outcome of one aggregation round.
type Result struct {
	Sum []uint32
	Err error
}

// Server coordinates one OPA aggregation run.
type Server struct {
	setup session.SetupParameters
	comm  *communicator.Communicator
	log   *zap.Logger

	mu    sync.Mutex
	phase Phase
	state session.ServerState

	ciphertexts  []wire.Ciphertext
	shareBatches [][][]field.Element // shareBatches[committeeIndex][clientIndex]

	resultCh chan Result
}

// New binds a listener on port and constructs a Server for setup.
func New(setup session.SetupParameters, port uint16, log *zap.Logger) (*Server, error) {
	if err := setup.Validate(); err != nil {
		return nil, fmt.Errorf("server: invalid setup parameters: %w", err)
	}
	comm, err := communicator.New(port, log)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{setup: setup, comm: comm, log: log, phase: PhaseInit, resultCh: make(chan Result, 1)}
	comm.SetSignalCallback(s.handleCommitteeSignal)
	return s, nil
}

// Port returns the bound server port.
func (s *Server) Port() uint16 { return s.comm.Port() }

// Setup generates the per-run succinct seed and constructs the broadcast
// ServerState, transitioning INIT -> READY. A nil committeePortOffsets
// becomes [1..m]. shprgParams selects the SHPRG dimensions for this run; a
// nil value uses the production dimensions.
func (s *Server) Setup(committeePortOffsets []uint16, shprgParams *shprg.Params) (session.ServerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseInit {
		return session.ServerState{}, fmt.Errorf("server: Setup called in phase %s", s.phase)
	}

	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return session.ServerState{}, fmt.Errorf("server: generating succinct seed: %w", err)
	}

	params := shprg.DefaultParams
	if shprgParams != nil {
		params = *shprgParams
	}
	if committeePortOffsets == nil {
		committeePortOffsets = make([]uint16, s.setup.CommitteeSize)
		for i := range committeePortOffsets {
			committeePortOffsets[i] = uint16(i + 1)
		}
	}
	s.state = session.NewServerState(seed, s.setup, committeePortOffsets, s.comm.Port(), params)
	s.phase = PhaseReady
	s.log.Info("server: ready", zap.Uint16("port", s.state.ServerPort), zap.Int("committee_size", s.setup.CommitteeSize))
	return s.state, nil
}

// Run drives the accept loop until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.comm.AcceptLoop(ctx)
}

// Phase reports the server's current phase.
func (s *Server) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// CollectClients blocks, polling the client queue every 20ms, until
// expected client ciphertexts have arrived or ctx is cancelled, then parses
// them, partitions per-committee-member share batches, and arms quorum
// detection for the aggregation phase. Transitions READY -> COLLECTING ->
// DISTRIBUTING.
func (s *Server) CollectClients(ctx context.Context, expected int) error {
	s.mu.Lock()
	if s.phase != PhaseReady {
		s.mu.Unlock()
		return fmt.Errorf("server: CollectClients called in phase %s", s.phase)
	}
	s.phase = PhaseCollecting
	s.mu.Unlock()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	var raw [][]byte
	for {
		raw = s.comm.ClientMessages()
		if len(raw) >= expected {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("server: waiting for %d clients (have %d): %w", expected, len(raw), ctx.Err())
		case <-ticker.C:
		}
	}

	ciphertexts := make([]wire.Ciphertext, 0, len(raw))
	var decodeErrs *multierror.Error
	for i, b := range raw {
		ct, err := wire.DecodeCiphertext(b)
		if err != nil {
			decodeErrs = multierror.Append(decodeErrs, fmt.Errorf("client %d: %w", i, err))
			continue
		}
		ciphertexts = append(ciphertexts, ct)
	}
	if decodeErrs.ErrorOrNil() != nil {
		return fmt.Errorf("server: decoding client ciphertexts: %w", decodeErrs)
	}

	s.mu.Lock()
	s.ciphertexts = ciphertexts
	s.shareBatches = make([][][]field.Element, s.setup.CommitteeSize)
	for i := range s.shareBatches {
		rows := make([][]field.Element, len(ciphertexts))
		for c, ct := range ciphertexts {
			rows[c] = ct.S[i]
		}
		s.shareBatches[i] = rows
	}
	s.phase = PhaseDistributing
	s.mu.Unlock()

	s.comm.SetExpectedCommitteeSize(s.setup.ThresholdReconstruct, s.onCommitteeComplete)
	s.log.Info("server: collected clients, distributing", zap.Int("clients", len(ciphertexts)))
	return nil
}

// committeeIndexFromPort recovers a committee member's index from the
// source port it signaled from: member i binds server_base_port+1+i.
func (s *Server) committeeIndexFromPort(peerPort int) (int, bool) {
	base := int(s.state.ServerPort) + 1
	idx := peerPort - base
	if idx < 0 || idx >= s.setup.CommitteeSize {
		return 0, false
	}
	return idx, true
}

func (s *Server) handleCommitteeSignal(conn net.Conn, peerPort int) {
	s.mu.Lock()
	idx, ok := s.committeeIndexFromPort(peerPort)
	var rows [][]field.Element
	if ok && idx < len(s.shareBatches) {
		rows = s.shareBatches[idx]
	}
	s.mu.Unlock()

	if !ok {
		s.log.Warn("server: signal from unrecognized port", zap.Int("peer_port", peerPort))
		return
	}

	payload, err := wire.EncodeShareBatch(rows)
	if err != nil {
		s.log.Warn("server: encoding share batch for committee member", zap.Int("index", idx), zap.Error(err))
		return
	}
	if _, err := conn.Write(payload); err != nil {
		s.log.Warn("server: writing share batch", zap.Int("index", idx), zap.Error(err))
	}
}

func (s *Server) onCommitteeComplete(batch [][]byte) {
	s.mu.Lock()
	s.phase = PhaseAggregating
	ciphertexts := s.ciphertexts
	state := s.state
	setup := s.setup
	s.mu.Unlock()

	results := make([]wire.CommitteeResult, 0, len(batch))
	for i, b := range batch {
		r, err := wire.DecodeCommitteeResult(b)
		if err != nil {
			s.resultCh <- Result{Err: fmt.Errorf("server: decoding committee result %d: %w", i, err)}
			return
		}
		results = append(results, r)
	}

	sum, err := Aggregate(setup, state, ciphertexts, results)

	s.mu.Lock()
	s.phase = PhaseTerminal
	s.mu.Unlock()

	s.resultCh <- Result{Sum: sum, Err: err}
}

// Result blocks until the aggregation round produced a result or ctx is
// cancelled.
func (s *Server) Result(ctx context.Context) (Result, error) {
	select {
	case r := <-s.resultCh:
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Close releases the server's listening socket.
func (s *Server) Close() error { return s.comm.Close() }
