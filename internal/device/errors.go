package device

import (
	"errors"
	"fmt"
)

// NotFoundError reports a characteristic the peripheral does not expose.
// On a bolt this usually means wrong protocol UUIDs or a different model.
type NotFoundError struct {
	UUID    string
	Address string
}

func (e *NotFoundError) Error() string {
	if e.Address == "" {
		return fmt.Sprintf("characteristic %q not found", e.UUID)
	}
	return fmt.Sprintf("characteristic %q not found on %s", e.UUID, e.Address)
}

// ConnectionState names the link condition behind a ConnectionError.
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
)

// ConnectionError is a failure caused by the state of the link rather than
// by the operation itself. Values compare equal under errors.Is when their
// states match, so the sentinels below work for wrapped instances too.
type ConnectionError struct {
	State   ConnectionState
	Address string
}

func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Address == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Address)
}

func (e *ConnectionError) Is(target error) bool {
	t, ok := target.(*ConnectionError)
	return ok && e != nil && t != nil && e.State == t.State
}

var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
)

var (
	ErrTimeout      = errors.New("timeout")
	ErrUnsupported  = errors.New("unsupported")
	ErrBluetoothOff = errors.New("bluetooth is turned off")
)

// IsConnectionState reports whether err is a ConnectionError in state.
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	return errors.As(err, &cerr) && cerr.State == state
}

// IsConnectionFailure reports whether err leaves the link unusable, in which
// case the caller should drop it and dial again.
func IsConnectionFailure(err error) bool {
	var cerr *ConnectionError
	return errors.As(err, &cerr) || errors.Is(err, ErrBluetoothOff)
}
