package chat

import "errors"

var (
	// ErrAuthentication is terminal for the connection.
	ErrAuthentication = errors.New("authentication failed")
	ErrAuthorization  = errors.New("not authorized for this room")
	ErrNotFound       = errors.New("not found")
	ErrValidation     = errors.New("invalid request")
	ErrPersistence    = errors.New("storage failure")
)
