package model

import "errors"

var (
	// ErrForbidden is returned when the local participant's role does not
	// permit the requested operation.
	ErrForbidden = errors.New("operation not permitted for role")

	// ErrNotConnected is returned when the relay connection is down.
	ErrNotConnected = errors.New("not connected to relay")

	// ErrConnectionFailed is returned when the bounded reconnect attempts
	// are exhausted.
	ErrConnectionFailed = errors.New("relay connection failed")

	// ErrJoinRejected is returned when the relay reports an error while the
	// session is still joining.
	ErrJoinRejected = errors.New("join rejected by relay")

	// ErrNoActiveFile is returned when an operation requires an open file.
	ErrNoActiveFile = errors.New("no active file")

	// ErrExecutionInProgress is returned when a run request is issued while
	// a previous one is still outstanding.
	ErrExecutionInProgress = errors.New("code execution already in progress")
)
