package connection

import "errors"

// Terminal outcomes surfaced to callers. Everything else that can go wrong
// during a pairing attempt (transient status-check failures, migration or
// bootstrap errors) is recovered locally and only logged, because it must not
// keep the user's freshly paired session from being usable.
var (
	ErrNameRequired     = errors.New("connection name is required")
	ErrPairingFailed    = errors.New("pairing failed")
	ErrPairingTimeout   = errors.New("pairing timed out")
	ErrPairingCancelled = errors.New("pairing cancelled")
	ErrInvalidState     = errors.New("connection is in the wrong state for this operation")
)
