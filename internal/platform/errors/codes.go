// Package errors provides structured error handling for the engine.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Submission errors
	CodeInvalidWord  Code = "INVALID_WORD"
	CodeInvalidWager Code = "INVALID_WAGER"
	CodeOwnerMissing Code = "OWNER_MISSING"

	// Arbitration errors
	CodeClaimConflict Code = "CLAIM_CONFLICT"
	CodeNotFound      Code = "NOT_FOUND"
	CodeStateMismatch Code = "STATE_MISMATCH"
	CodeNotClaimOwner Code = "NOT_CLAIM_OWNER"

	// Infrastructure errors
	CodeStoreUnavailable        Code = "STORE_UNAVAILABLE"
	CodeSettlementInconsistency Code = "SETTLEMENT_INCONSISTENCY"
	CodeRateLimited             Code = "RATE_LIMITED"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	case CodeInvalidWord, CodeInvalidWager, CodeOwnerMissing:
		return codes.InvalidArgument
	case CodeClaimConflict:
		return codes.AlreadyExists
	case CodeNotFound:
		return codes.NotFound
	case CodeStateMismatch:
		return codes.FailedPrecondition
	case CodeNotClaimOwner:
		return codes.PermissionDenied
	case CodeStoreUnavailable:
		return codes.Unavailable
	case CodeRateLimited:
		return codes.ResourceExhausted
	case CodeSettlementInconsistency:
		return codes.DataLoss
	default:
		return codes.Internal
	}
}
