package testutils

import (
	"io"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
)

// Identity of the lock every scripted test peripheral impersonates
const (
	TestLockUUID    = "YD.LO1.a1b2c3d4e5f60718293a4b5c"
	TestBLEToken    = "0123456789abcdefFEDCBA9876543210"
	TestBLEID       = uint16(0x2a)
	TestRawMAC      = "ffeeddccbbaa"
	TestMAC         = "AA:BB:CC:DD:EE:FF"
	TestStateUUID   = "00002220-0000-6b63-6f6c-2e6b636f6c79"
	TestUARTRXUUID  = "00002221-0000-6b63-6f6c-2e6b636f6c79"
	TestUARTTXUUID  = "00002222-0000-6b63-6f6c-2e6b636f6c79"
	TestLockName    = "front-door"
	TestLockModel   = "YD_BT1"
	TestDiscoveryID = "ydbolt_yd_lo1_a1b2c3d4e5f60718293a4b5c"
)

// TestChallenge is the challenge the scripted lock hands out by default.
var TestChallenge = []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug logger on stderr.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	logger.SetOutput(os.Stderr)
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// QuietLogger returns a logger that discards everything.
func QuietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
