package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/srg/ydbolt/internal/device"
	"github.com/srg/ydbolt/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// CommandTestSuite runs the CLI against a scripted lock.
// All cmd/ydbolt test suites should embed it.
type CommandTestSuite struct {
	suite.Suite
	Lock       *testutils.ScriptedLock
	ConfigPath string

	origDialer func(*logrus.Logger) device.Dialer
	origColor  bool
}

func (s *CommandTestSuite) SetupSuite() {
	s.origDialer = newDialer
	s.origColor = color.NoColor
	color.NoColor = true
}

func (s *CommandTestSuite) TearDownSuite() {
	newDialer = s.origDialer
	color.NoColor = s.origColor
}

func (s *CommandTestSuite) SetupTest() {
	s.Lock = testutils.NewScriptedLock(testutils.ScriptedLockOptions{})
	newDialer = func(*logrus.Logger) device.Dialer { return s.Lock }
	s.ConfigPath = s.WriteConfig(defaultSections)
}

// defaultSections keep tests off the disk and fast to fail.
const defaultSections = `store:
  disabled: true
coordinator:
  command_timeout: 3s
`

// WriteConfig writes sections followed by the scripted lock and returns the
// path of the file.
func (s *CommandTestSuite) WriteConfig(sections string) string {
	doc := fmt.Sprintf(`%slocks:
  - name: %s
    uuid: %s
    hardware_mac: %s
    ble_id: %d
    ble_token: %s
`, sections, testutils.TestLockName, testutils.TestLockUUID, testutils.TestRawMAC,
		testutils.TestBLEID, testutils.TestBLEToken)
	return s.WriteFile(doc)
}

// WriteFile writes a config document to a temp file and returns its path.
func (s *CommandTestSuite) WriteFile(doc string) string {
	path := filepath.Join(s.T().TempDir(), "ydbolt.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(doc), 0o600))
	return path
}

// ExecuteCommand runs a fresh command tree with args, returns stdout and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	root := newRootCmd()
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(new(bytes.Buffer))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}
