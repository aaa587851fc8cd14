package oracle

import (
	sdkerrors "cosmossdk.io/errors"
)

// ModuleName namespaces the oracle error codespace.
const ModuleName = "oracle"

// Oracle module sentinel errors
var (
	// Registration errors
	ErrInsufficientStake = sdkerrors.Register(ModuleName, 2, "insufficient stake")
	ErrAlreadyRegistered = sdkerrors.Register(ModuleName, 3, "verifier already registered")
	ErrUnknownVerifier   = sdkerrors.Register(ModuleName, 4, "unknown verifier")

	// Round errors
	ErrRoundNotFound  = sdkerrors.Register(ModuleName, 5, "round not found")
	ErrRoundNotOpen   = sdkerrors.Register(ModuleName, 6, "round not open")
	ErrRoundStillOpen = sdkerrors.Register(ModuleName, 7, "round still open")

	// Submission errors
	ErrVerifierNotActive   = sdkerrors.Register(ModuleName, 8, "verifier not active")
	ErrDuplicateSubmission = sdkerrors.Register(ModuleName, 9, "duplicate proof submission")
	ErrInvalidProof        = sdkerrors.Register(ModuleName, 10, "invalid proof payload")

	// Parameter errors
	ErrInvalidVerifierCount = sdkerrors.Register(ModuleName, 11, "invalid verifier count")
	ErrInvalidParams        = sdkerrors.Register(ModuleName, 12, "invalid consensus parameters")

	// Access errors
	ErrUnauthorized = sdkerrors.Register(ModuleName, 13, "unauthorized")
)
