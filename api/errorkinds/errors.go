package errorkinds

import "errors"

// The different general error types.
var (
	ErrSessionStart    = errors.New("cannot start session")
	ErrSessionStop     = errors.New("cannot stop session")
	ErrSessionNotExist = errors.New("session does not exist")
	ErrMethodCall      = errors.New("cannot call method")
	ErrMethodCanceled  = errors.New("method call was cancelled")
	ErrMethodTimeout   = errors.New("timeout on method response")

	ErrInvalidAddress = errors.New("invalid Bluetooth address")
	ErrPeerNotKnown   = errors.New("peer address is not known")

	ErrChannelClosed = errors.New("event channel is closed")

	ErrStackStatus       = errors.New("radio stack reported an abnormal status")
	ErrIdentityMismatch  = errors.New("local identity did not read back as configured")
	ErrIndicationFailure = errors.New("indication reported a stack failure")
	ErrCommandFailure    = errors.New("profile command failed")
	ErrConnectionRefused = errors.New("connection was not authorized")

	ErrEventDataParse = errors.New("error parsing event data")
	ErrInvalidConfig  = errors.New("invalid configuration")

	ErrNotSupported = errors.New("this functionality is not supported")
)

// GenericError represents a standard error message.
type GenericError struct {
	// Errors stores all associated errors.
	Errors error `json:"errors,omitempty"`
}

// Error returns the formatted error as string.
func (e GenericError) Error() string {
	if e.Errors == nil {
		return ""
	}

	return e.Errors.Error()
}

// Unwrap unwraps all errors associated with this error.
func (e GenericError) Unwrap() error {
	return e.Errors
}
