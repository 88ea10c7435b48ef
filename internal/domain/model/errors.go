package model

import "errors"

// Failure taxonomy for the pricing core. Staleness is deliberately not an
// error: it travels as a flag on the PricePoint so callers can apply their
// own fallback policy.
var (
	// ErrUnknownIdentifier means id normalization failed; a client error.
	ErrUnknownIdentifier = errors.New("unknown coin identifier")

	// ErrNoFeedFound means every resolution strategy came up empty. The
	// coin is temporarily unpriceable, not broken.
	ErrNoFeedFound = errors.New("no price feed found")

	// ErrInvalidValue means the oracle returned a non-positive or
	// non-finite answer, or a future timestamp. The read is discarded and
	// never cached.
	ErrInvalidValue = errors.New("invalid oracle value")

	// ErrUpstreamTimeout means an RPC or registry call exceeded its
	// deadline after bounded retries.
	ErrUpstreamTimeout = errors.New("upstream call timed out")
)
