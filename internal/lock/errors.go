package lock

import "errors"

var (
	// ErrNotReady means the lock's BLE address is unknown. Refresh the
	// identity and retry.
	ErrNotReady = errors.New("lock not ready: BLE address unknown")

	// ErrBusy rejects a command issued while another one is in flight.
	ErrBusy = errors.New("lock busy: another command is in flight")

	// ErrTimeout reports a command that did not complete in time. The
	// connection has been torn down.
	ErrTimeout = errors.New("lock command timed out")

	// ErrCanceled reports a command stopped through Cancel.
	ErrCanceled = errors.New("lock command canceled")

	// ErrNoState is returned by GetState during a command when nothing has
	// been cached yet.
	ErrNoState = errors.New("no lock state known yet")

	// ErrInvalidMAC rejects a raw hardware MAC that is not 12 hex digits.
	ErrInvalidMAC = errors.New("invalid hardware MAC")

	// ErrUnknownLock is returned by Registry lookups.
	ErrUnknownLock = errors.New("unknown lock")
)

// ErrClosed is returned by a coordinator after Close.
var ErrClosed = errors.New("lock coordinator closed")
