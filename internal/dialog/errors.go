package dialog

import "errors"

// Errors classifying failures inside a session. None of them end the session.
var (
	ErrInvalidToolArgument   = errors.New("invalid tool argument")
	ErrOperationNotAvailable = errors.New("operation not available in current state")
	ErrUnknownTool           = errors.New("unknown tool")
	ErrTransportPublish      = errors.New("transport publish failure")
	ErrRoomTeardown          = errors.New("room teardown failure")
	ErrMalformedPayload      = errors.New("malformed data-channel payload")
	ErrMissingTransport      = errors.New("missing transport handle")
	ErrAlreadyRunning        = errors.New("controller already running")
)
