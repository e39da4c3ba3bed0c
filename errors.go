package sealedsurvey

import (
	"context"

	"golang.org/x/xerrors"
)

// The error taxonomy of the ledger. Every failure returned by the
// sub-packages wraps one of these, so callers compare with xerrors.Is and
// never by message.
var (
	// ErrInvalidProof is returned when a ciphertext is malformed or its
	// proof of valid encryption does not verify. Never retried.
	ErrInvalidProof = xerrors.New("invalid proof")
	// ErrInvalidRequest is returned for requests that are malformed
	// independently of any cryptography, like an empty category.
	ErrInvalidRequest = xerrors.New("invalid request")
	// ErrNotFound is returned for an unknown response id or category.
	ErrNotFound = xerrors.New("not found")
	// ErrAlreadyVerified is returned by the ledger when a response has
	// already been verified. The protocol turns it into a success.
	ErrAlreadyVerified = xerrors.New("already verified")
	// ErrProofMismatch is returned when the oracle answered for another
	// handle set or context, or its proofs don't verify.
	ErrProofMismatch = xerrors.New("oracle proof mismatch")
	// ErrOracleTimeout is returned when the oracle didn't answer in time.
	ErrOracleTimeout = xerrors.New("oracle timeout")
	// ErrOracleUnavailable is returned when the oracle refused or failed
	// to serve a request.
	ErrOracleUnavailable = xerrors.New("oracle unavailable")
	// ErrNoResponses is returned when aggregating a category that never
	// received a response.
	ErrNoResponses = xerrors.New("no responses")
	// ErrAccumulatorFixed is returned when changing the accumulator of a
	// category that has already been aggregated.
	ErrAccumulatorFixed = xerrors.New("accumulator already fixed")
	// ErrOutOfRange is returned when a decrypted value is not an integer in
	// [0, MaxPlaintext], like a sum that overflowed. Retrying gives the same
	// answer.
	ErrOutOfRange = xerrors.New("plaintext out of range")
)

// IsRetryable returns true if the error is transient and the whole
// operation can be tried again without any risk for the ledger state.
func IsRetryable(err error) bool {
	return xerrors.Is(err, ErrOracleTimeout) ||
		xerrors.Is(err, ErrOracleUnavailable) ||
		xerrors.Is(err, context.Canceled)
}
