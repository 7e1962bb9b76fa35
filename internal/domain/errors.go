package domain

import "errors"

// Rejection kinds surfaced by the consensus engine. Every rejected call leaves
// the ledger untouched and returns one of these (possibly wrapped).
var (
	ErrInsufficientStake   = errors.New("insufficient token balance for threat reporting")
	ErrDuplicateCommitment = errors.New("commitment already exists")
	ErrDuplicateReporter   = errors.New("reporter already reported this address")
	ErrCommitmentNotFound  = errors.New("commitment not found")
	ErrAlreadyRevealed     = errors.New("commitment already revealed")
	ErrRevealTooEarly      = errors.New("reveal delay not reached")
	ErrHashMismatch        = errors.New("hash mismatch")
	ErrAddressWhitelisted  = errors.New("address is whitelisted")
	ErrAlreadyConfirmed    = errors.New("threat already confirmed")
	ErrUnauthorized        = errors.New("caller is not authorized for governance")

	ErrInvalidAddress  = errors.New("invalid network address")
	ErrInvalidEvidence = errors.New("invalid evidence")
	ErrReportNotFound  = errors.New("reporter has no active report for this address")
)

// ErrorCode returns a stable machine readable identifier for a rejection, or
// "internal" for errors that are not part of the protocol taxonomy.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInsufficientStake):
		return "insufficient_stake"
	case errors.Is(err, ErrDuplicateCommitment):
		return "duplicate_commitment"
	case errors.Is(err, ErrDuplicateReporter):
		return "duplicate_reporter"
	case errors.Is(err, ErrCommitmentNotFound):
		return "commitment_not_found"
	case errors.Is(err, ErrAlreadyRevealed):
		return "already_revealed"
	case errors.Is(err, ErrRevealTooEarly):
		return "reveal_too_early"
	case errors.Is(err, ErrHashMismatch):
		return "hash_mismatch"
	case errors.Is(err, ErrAddressWhitelisted):
		return "address_whitelisted"
	case errors.Is(err, ErrAlreadyConfirmed):
		return "already_confirmed"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrInvalidAddress):
		return "invalid_address"
	case errors.Is(err, ErrInvalidEvidence), errors.Is(err, ErrInvalidHash):
		return "invalid_evidence"
	case errors.Is(err, ErrReportNotFound):
		return "report_not_found"
	default:
		return "internal"
	}
}
