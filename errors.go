package meander

import "errors"

// Sentinel errors returned by the router, connection manager, and worker
// controller. Callers match them with errors.Is.
var (
	// ErrRouteNotFound indicates no registered route or named route matched.
	ErrRouteNotFound = errors.New("route not found")

	// ErrConnectionNotFound indicates the connection id is not registered.
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrConnectionExists indicates the connection id is already registered.
	ErrConnectionExists = errors.New("connection already exists")

	// ErrAlreadyStarted indicates the worker controller is already running.
	ErrAlreadyStarted = errors.New("worker controller already started")
)

// MissingParameterError reports a template parameter absent from the values
// supplied to Pattern.Build or Router.URLFor.
type MissingParameterError struct {
	Name string
}

func (e *MissingParameterError) Error() string {
	return "missing value for path parameter \"" + e.Name + "\""
}

// DecodeError wraps any failure to decode an inbound frame. The dispatcher
// treats frames failing with a DecodeError as unhandled and routes them to
// the resource's fallback instead of surfacing the error.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "decode failed: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is or wraps a DecodeError.
func IsDecodeError(err error) bool {
	var decodeErr *DecodeError
	return errors.As(err, &decodeErr)
}
