package bluestar

import "errors"

var (
	// ErrInvalidCredentials marks a 401/403 on login. Not retryable.
	ErrInvalidCredentials = errors.New("bluestar: invalid credentials")

	// ErrTransientUpstream marks a 502 or network failure on the REST API.
	ErrTransientUpstream = errors.New("bluestar: transient upstream error")

	// ErrMalformedCredential marks an unusable broker credential blob in
	// the login response.
	ErrMalformedCredential = errors.New("bluestar: malformed broker credential")

	// ErrTransportUnavailable marks a command issued while the broker
	// connection is down and could not be re-established.
	ErrTransportUnavailable = errors.New("bluestar: broker transport unavailable")

	// ErrUnknownDevice marks a command or state read for a device id that
	// is not in the catalog.
	ErrUnknownDevice = errors.New("bluestar: unknown device")
)
