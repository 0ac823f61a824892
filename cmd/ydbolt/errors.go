package main

import (
	"errors"
	"fmt"

	"github.com/srg/ydbolt/internal/device"
	"github.com/srg/ydbolt/internal/lock"
	"github.com/srg/ydbolt/internal/ydble"
)

// FormatUserError turns an error into a one-line message for the terminal.
func FormatUserError(err error) string {
	var notFound *device.NotFoundError
	var checksum *ydble.ChecksumError

	switch {
	case errors.Is(err, lock.ErrNotReady):
		return "lock address unknown: set hardware_mac or mac for this lock, or provide an identity_file"
	case errors.Is(err, lock.ErrBusy):
		return "another command is already running on this lock"
	case errors.Is(err, lock.ErrTimeout):
		return "the lock did not complete the command in time; is it in range?"
	case errors.Is(err, lock.ErrCanceled):
		return "command canceled"
	case errors.Is(err, lock.ErrUnknownLock):
		return fmt.Sprintf("%v (check the locks section of the config)", err)
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off"
	case errors.Is(err, device.ErrUnsupported):
		return "BLE is not supported on this platform"
	case errors.Is(err, device.ErrTimeout):
		return "the lock did not answer in time; is it in range?"
	case errors.As(err, &notFound):
		return fmt.Sprintf("%v; check the protocol UUIDs in the config", notFound)
	case device.IsConnectionState(err, device.NotConnected):
		return "connection to the lock was lost"
	case errors.As(err, &checksum):
		return fmt.Sprintf("corrupt frame: %v", checksum)
	default:
		return err.Error()
	}
}
