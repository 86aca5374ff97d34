// Package client implements the OPA client role: encode an input vector,
// mask it with a freshly sampled SHPRG instance, Shamir-share the seed
// across the committee, and send the resulting ciphertext to the server in
// one shot. A client never retries a failed send: secure aggregation
// assumes an honest majority of clients participate per round, and a client
// that cannot reach the server simply does not contribute to that round.
package client

import (
	"context"
	"fmt"
	mathrand "math/rand"

	"github.com/opa-proto/opa/internal/communicator"
	"github.com/opa-proto/opa/internal/encoding"
	"github.com/opa-proto/opa/internal/field"
	"github.com/opa-proto/opa/internal/packing"
	"github.com/opa-proto/opa/internal/session"
	"github.com/opa-proto/opa/internal/shamir"
	"github.com/opa-proto/opa/internal/shprg"
	"github.com/opa-proto/opa/internal/wire"
)

// Client holds one participant's per-run configuration.
type Client struct {
	setup session.SetupParameters
	state session.ServerState
	addr  string
	rng   *mathrand.Rand
}

// New constructs a Client that will send to the server at addr. rng drives
// both the encoding noise and the Shamir polynomial coefficients; callers
// wanting cryptographic randomness should seed it from crypto/rand (see
// internal/prg.Fresh).
func New(setup session.SetupParameters, state session.ServerState, addr string, rng *mathrand.Rand) (*Client, error) {
	if err := setup.Validate(); err != nil {
		return nil, fmt.Errorf("client: invalid setup parameters: %w", err)
	}
	return &Client{setup: setup, state: state, addr: addr, rng: rng}, nil
}

// Encode builds the wire.Ciphertext for values without sending it, so
// callers (and tests) can inspect or replay it.
func (c *Client) Encode(values []uint32) (wire.Ciphertext, error) {
	if len(values) != session.InputLength {
		return wire.Ciphertext{}, fmt.Errorf("client: input has length %d, want %d", len(values), session.InputLength)
	}

	g, err := shprg.FromPublicSeed(c.state.SHPRGParams(), c.state.SuccinctSeed)
	if err != nil {
		return wire.Ciphertext{}, fmt.Errorf("client: deriving SHPRG instance: %w", err)
	}
	mask := g.Expand()

	packed, err := packing.Pack(values, 32, 32)
	if err != nil {
		return wire.Ciphertext{}, fmt.Errorf("client: packing input: %w", err)
	}

	encParams := c.state.EncodingParams()
	encoded := make([]field.Element, len(packed))
	for i, v := range packed {
		e, err := encoding.Encode(v, encParams, c.rng)
		if err != nil {
			return wire.Ciphertext{}, fmt.Errorf("client: encoding coordinate %d: %w", i, err)
		}
		encoded[i] = e
	}

	// The encoded vector is zero-padded to all Lambda mask coordinates.
	ciphertext := make([]field.Element, len(mask))
	for i := range mask {
		if i < len(encoded) {
			ciphertext[i] = encoded[i].Add(mask[i])
		} else {
			ciphertext[i] = mask[i]
		}
	}

	shamirParams := shamir.Params{NumShares: c.state.CommitteeSize, Threshold: c.state.ThresholdReconstruct}
	shareRows := make([][]field.Element, c.state.CommitteeSize)
	for i := range shareRows {
		shareRows[i] = make([]field.Element, len(g.Seed()))
	}
	for j, coord := range g.Seed() {
		shares, err := shamir.Share(coord, shamirParams, c.rng)
		if err != nil {
			return wire.Ciphertext{}, fmt.Errorf("client: sharing seed coordinate %d: %w", j, err)
		}
		for i, sh := range shares {
			shareRows[i][j] = sh.Y
		}
	}

	return wire.Ciphertext{C: ciphertext, S: shareRows}, nil
}

// Send encodes values and delivers the ciphertext to the server from
// localPort, with no retry.
func (c *Client) Send(ctx context.Context, localPort uint16, values []uint32) error {
	ct, err := c.Encode(values)
	if err != nil {
		return err
	}
	payload, err := wire.EncodeCiphertext(ct)
	if err != nil {
		return fmt.Errorf("client: encoding ciphertext frame: %w", err)
	}
	if err := communicator.Send(ctx, localPort, c.addr, payload); err != nil {
		return fmt.Errorf("client: sending to server %s: %w", c.addr, err)
	}
	return nil
}
