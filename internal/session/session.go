// Package session holds the configuration and broadcast-state shapes shared
// by every OPA role (server, client, committee member) and by the pkg/opa
// facade. Splitting it out from pkg/opa keeps the role packages free to
// import it without pkg/opa importing them back.
package session

import (
	"fmt"

	"github.com/opa-proto/opa/internal/encoding"
	"github.com/opa-proto/opa/internal/shprg"
)

// SetupParameters is the immutable configuration tuple created once per run:
// kappa (encoding security parameter), the corruption and reconstruction
// thresholds, and the committee size.
type SetupParameters struct {
	Kappa                uint
	ThresholdCorrupt     int
	ThresholdReconstruct int
	CommitteeSize        int
}

// DefaultSetupParameters mirrors the reference scenario: kappa=40, m=31,
// t=16.
var DefaultSetupParameters = SetupParameters{
	Kappa:                40,
	ThresholdCorrupt:     15,
	ThresholdReconstruct: 16,
	CommitteeSize:        31,
}

// Validate checks t_reconstruct <= m and t_corrupt < t_reconstruct.
func (p SetupParameters) Validate() error {
	if p.CommitteeSize <= 0 {
		return fmt.Errorf("session: committee size must be positive, got %d", p.CommitteeSize)
	}
	if p.ThresholdReconstruct > p.CommitteeSize {
		return fmt.Errorf("session: threshold_reconstruct %d exceeds committee size %d", p.ThresholdReconstruct, p.CommitteeSize)
	}
	if p.ThresholdCorrupt >= p.ThresholdReconstruct {
		return fmt.Errorf("session: threshold_corrupt %d must be < threshold_reconstruct %d", p.ThresholdCorrupt, p.ThresholdReconstruct)
	}
	if p.ThresholdReconstruct < 2 {
		return fmt.Errorf("session: threshold_reconstruct %d must be >= 2", p.ThresholdReconstruct)
	}
	return nil
}

// EncodingParams derives the encode/decode configuration for this run.
func (p SetupParameters) EncodingParams() encoding.Params {
	return encoding.Params{Kappa: p.Kappa, N: encoding.DefaultParams.N}
}

// ServerState is the immutable broadcast snapshot every client and committee
// member receives at the start of a run. It must never be mutated once sent.
type ServerState struct {
	SuccinctSeed         [32]byte
	Kappa                uint
	ThresholdCorrupt     int
	ThresholdReconstruct int
	CommitteeSize        int
	CommitteePortOffsets []uint16
	ServerPort           uint16

	// ShprgParams is carried on the state (rather than hardcoded) so a run
	// can choose dimensions other than DefaultParams; NewServerState fills
	// this with the shprgParams it is given.
	ShprgParams shprg.Params
}

// NewServerState constructs a ServerState. shprgParams selects the SHPRG
// dimensions for this run; callers wanting production dimensions pass
// shprg.DefaultParams.
func NewServerState(seed [32]byte, setup SetupParameters, committeePortOffsets []uint16, serverPort uint16, shprgParams shprg.Params) ServerState {
	return ServerState{
		SuccinctSeed:         seed,
		Kappa:                setup.Kappa,
		ThresholdCorrupt:     setup.ThresholdCorrupt,
		ThresholdReconstruct: setup.ThresholdReconstruct,
		CommitteeSize:        setup.CommitteeSize,
		CommitteePortOffsets: committeePortOffsets,
		ServerPort:           serverPort,
		ShprgParams:          shprgParams,
	}
}

// SHPRGParams returns the SHPRG dimensions for this run.
func (s ServerState) SHPRGParams() shprg.Params { return s.ShprgParams }

// EncodingParams derives the encode/decode configuration for this run.
func (s ServerState) EncodingParams() encoding.Params {
	return encoding.Params{Kappa: s.Kappa, N: encoding.DefaultParams.N}
}

// InputLength is the fixed per-client input vector length, L=1024.
const InputLength = 1024
