package opa

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the OPA API.
var (
	ErrSerialization    = errors.New("opa: malformed wire frame")
	ErrInvariantViolated = errors.New("opa: invariant violated")
	ErrQuorumFailed     = errors.New("opa: committee quorum not reached")
)

// Blame attributes a protocol-level failure to a specific peer address, so
// a quorum failure or a malformed frame can be reported with who, not just
// what.
type Blame struct {
	PeerAddr string
	Reason   string
	Err      error
}

func (b *Blame) Error() string {
	if b.Err != nil {
		return fmt.Sprintf("blame %s: %s: %v", b.PeerAddr, b.Reason, b.Err)
	}
	return fmt.Sprintf("blame %s: %s", b.PeerAddr, b.Reason)
}

func (b *Blame) Unwrap() error { return b.Err }

// NewBlame constructs a Blame error.
func NewBlame(peerAddr, reason string, err error) *Blame {
	return &Blame{PeerAddr: peerAddr, Reason: reason, Err: err}
}
