package domain

import "errors"

// Error taxonomy shared across the call service. Handlers and state machines
// match with errors.Is; wrapped causes carry the underlying detail.
var (
	// ErrValidation marks bad local input (e.g. an empty display name).
	// Recovered locally, never propagated as a call failure.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks a call request that is no longer pending.
	ErrNotFound = errors.New("call request not found")

	// ErrAlreadyHandled marks a pick that lost the race to another resolver.
	ErrAlreadyHandled = errors.New("call request already handled")

	// ErrProvider marks a media session / token allocation failure.
	ErrProvider = errors.New("media provider failure")

	// ErrMediaPermission marks denied or unavailable local devices.
	ErrMediaPermission = errors.New("media permission denied")

	// ErrMediaPublish marks a failure to publish an acquired track.
	ErrMediaPublish = errors.New("media publish failed")

	// ErrNoAgent marks a wait-for-agent timeout with no acceptance.
	ErrNoAgent = errors.New("no agent accepted the call")

	// ErrUpload marks a file storage failure during a collaboration exchange.
	ErrUpload = errors.New("file upload failed")
)
