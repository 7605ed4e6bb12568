// internal/domain/message/errors.go

package message

import "errors"

// Error taxonomy for the nearby-message engine. Transient fetch and
// subscription failures are logged and swallowed at the component boundary;
// send failures are the one case propagated to callers.
var (
	// ErrLocationUnavailable means the viewer has no location fix yet.
	ErrLocationUnavailable = errors.New("viewer location unavailable")

	// ErrFetchFailed means the candidate fetch from the source failed.
	ErrFetchFailed = errors.New("message fetch failed")

	// ErrSendFailed means a message could not be persisted. It is never
	// retried automatically.
	ErrSendFailed = errors.New("message send failed")

	// ErrGeocodeFailed means reverse geocoding produced no usable name.
	ErrGeocodeFailed = errors.New("reverse geocode failed")

	// ErrRateLimited means the sender exceeded the send rate limit.
	ErrRateLimited = errors.New("send rate limit exceeded")
)
