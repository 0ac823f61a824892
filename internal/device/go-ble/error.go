package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/srg/ydbolt/internal/device"
)

// errorRule maps go-ble messages containing any of fragments onto target.
type errorRule struct {
	fragments []string
	target    error
}

// Order matters: "device not connected" must win over "disconnected".
var errorRules = []errorRule{
	{[]string{"have=4 want=5", "bluetooth is turned off", "can't init hci", "no devices available"}, device.ErrBluetoothOff},
	{[]string{"device already connected"}, device.ErrAlreadyConnected},
	{[]string{"device not connected", "disconnected", "connection reset"}, device.ErrNotConnected},
	{[]string{"connection is not initialized"}, device.ErrNotInitialized},
	{[]string{"connection timed out", "le-connection-abort-by-local"}, device.ErrTimeout},
	{[]string{"not supported on this platform", "unsupported platform"}, device.ErrUnsupported},
}

// NormalizeError attaches the device error taxonomy to go-ble errors, which
// only come as strings. The original text is kept in the message.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", device.ErrTimeout, err)
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range errorRules {
		for _, fragment := range rule.fragments {
			if strings.Contains(msg, fragment) {
				return fmt.Errorf("%w: %v", rule.target, err)
			}
		}
	}
	return err
}
