package wirenet

import "errors"

// Failure classes. Every error produced by the engine wraps one of these, so
// callers and log pipelines can classify it with errors.Is.
var (
	// ErrTransport is a socket-level open, read or write failure.
	ErrTransport = errors.New("transport error")

	// ErrEncodingFailure means one outgoing message could not be encoded.
	ErrEncodingFailure = errors.New("encoding failure")

	// ErrDecodingFailure means one incoming frame was malformed.
	ErrDecodingFailure = errors.New("decoding failure")

	// ErrUnregisteredMessage means a valid frame arrived with no handler bound.
	ErrUnregisteredMessage = errors.New("unregistered message")

	// ErrHandlerFailure means a parser or a handler failed.
	ErrHandlerFailure = errors.New("handler failure")
)

// Lookup and lifecycle errors.
var (
	// ErrUnknownComposer is returned when a composer type has no outgoing id.
	ErrUnknownComposer = errors.New("unknown composer")

	// ErrInvalidAddress is returned by Init for an empty address.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrTransportClosed is returned by a transport written to after close.
	ErrTransportClosed = errors.New("transport is closed")
)
