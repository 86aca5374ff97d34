// Package opa is the top-level facade binding the three OPA protocol roles
// (server, client, committee member) behind one entry point, following the
// teacher's pkg/tss capability-segmentation pattern: three separate role
// types sharing only the ServerState shape, rather than one monolithic type.
package opa

import (
	"github.com/opa-proto/opa/internal/session"
)

// SetupParameters is the immutable configuration tuple created once per run.
type SetupParameters = session.SetupParameters

// DefaultSetupParameters mirrors the reference scenario: kappa=40, m=31,
// t=16.
var DefaultSetupParameters = session.DefaultSetupParameters

// ServerState is the immutable broadcast snapshot every client and committee
// member receives at the start of a run.
type ServerState = session.ServerState

// InputLength is the fixed per-client input vector length, L=1024.
const InputLength = session.InputLength
