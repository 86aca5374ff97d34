package opa

import (
	mathrand "math/rand"

	"go.uber.org/zap"

	"github.com/opa-proto/opa/internal/protocol/client"
	"github.com/opa-proto/opa/internal/protocol/committee"
	"github.com/opa-proto/opa/internal/protocol/server"
)

// Server, Client, and CommitteeMember are kept as distinct capability
// types rather than one role enum: a caller can only invoke the operations
// that make sense for the role it holds.

// Server runs the aggregation server's phase state machine.
type Server = server.Server

// ServerPhase is a step in the server's lifecycle.
type ServerPhase = server.Phase

// ServerResult is the outcome of one aggregation round.
type ServerResult = server.Result

// NewServer binds a listener on port and constructs a Server.
func NewServer(setup SetupParameters, port uint16, logger *zap.Logger) (*Server, error) {
	return server.New(setup, port, logger)
}

// Client encodes, masks, shares, and sends one participant's input.
type Client = client.Client

// NewClient constructs a Client that will send to addr using state as the
// run's broadcast configuration. rng should be seeded from a cryptographic
// source for production use.
func NewClient(setup SetupParameters, state ServerState, addr string, rng *mathrand.Rand) (*Client, error) {
	return client.New(setup, state, addr, rng)
}

// CommitteeMember pulls, sums, and pushes one committee share partial.
type CommitteeMember = committee.Member

// NewCommitteeMember constructs a committee Member bound to its
// index-derived port.
func NewCommitteeMember(setup SetupParameters, state ServerState, index int, serverHost string, logger *zap.Logger) (*CommitteeMember, error) {
	return committee.New(setup, state, index, serverHost, logger)
}
