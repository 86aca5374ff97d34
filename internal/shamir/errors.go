package shamir

import "errors"

// Sentinel errors for the Shamir layer.
var (
	ErrInvalidThreshold     = errors.New("shamir: invalid threshold")
	ErrInvalidNumShares     = errors.New("shamir: invalid number of shares")
	ErrInsufficientShares   = errors.New("shamir: insufficient shares to reconstruct")
	ErrReconstructionFailed = errors.New("shamir: reconstruction failed")
)
