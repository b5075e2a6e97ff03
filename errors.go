package zqttd

import "errors"

// Errors returned by Run and Handle.Stop.
var (
	// ErrAlreadyStopped is returned by Handle.Stop when called more than once.
	ErrAlreadyStopped = errors.New("zqttd: already stopped")

	// ErrListenFailed wraps the underlying error from the transport layer
	// when a configured listener could not be opened.
	ErrListenFailed = errors.New("zqttd: listen failed")
)
