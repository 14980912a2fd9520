package federation

import "errors"

// Common domain errors used across federation subpackages.
// These errors should be checked using errors.Is().

var (
	// ErrInvalidConfig indicates a malformed backend registration.
	// Wrapping errors should name the offending field.
	ErrInvalidConfig = errors.New("invalid backend configuration")

	// ErrTransport indicates the backend could not be reached or answered
	// with a non-success HTTP status. Wrapping errors should include the
	// method and endpoint.
	ErrTransport = errors.New("backend transport failure")

	// ErrProtocol indicates the backend answered but the payload was not a
	// usable JSON-RPC response, or carried a JSON-RPC error object. For
	// failure accounting this is equivalent to ErrTransport.
	ErrProtocol = errors.New("backend protocol failure")

	// ErrUnknownBackend indicates the named backend is not registered.
	ErrUnknownBackend = errors.New("unknown backend")

	// ErrBackendUnhealthy indicates the backend failed its last health check
	// and is not accepting tool calls.
	ErrBackendUnhealthy = errors.New("backend unhealthy")
)
