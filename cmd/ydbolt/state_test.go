package main

import (
	"errors"
	"testing"

	"github.com/srg/ydbolt/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type StateTestSuite struct {
	CommandTestSuite
}

func (s *StateTestSuite) TestStateText() {
	// GOAL: Verify state reads and decrypts the state characteristic
	//
	// TEST SCENARIO: scripted bolt is unlocked since 1700000000 → one text line

	out, err := s.ExecuteCommand("state", testutils.TestLockName, "--config", s.ConfigPath)
	s.Require().NoError(err)
	testutils.NewTextAsserter(s.T()).Assert(out, "front-door: unlocked (last operated 2023-11-14 22:13:20 UTC)")
	s.Equal(1, s.Lock.Reads())
}

func (s *StateTestSuite) TestStateJSON() {
	s.Lock.SetState(1, 1700000000)

	out, err := s.ExecuteCommand("state", testutils.TestLockName, "--config", s.ConfigPath, "--json")
	s.Require().NoError(err)
	testutils.NewJSONAsserter(s.T()).Assert(out, `{
		"lock": "front-door",
		"state": "locked",
		"locked": true,
		"value": 1,
		"last_operated": "2023-11-14T22:13:20Z"
	}`)
}

func (s *StateTestSuite) TestInvalidWatchInterval() {
	_, err := s.ExecuteCommand("state", testutils.TestLockName, "--config", s.ConfigPath, "--watch=-1s")
	s.ErrorContains(err, "invalid watch interval")
}

func (s *StateTestSuite) TestReadFailure() {
	dialErr := errors.New("adapter exploded")
	s.Lock.DialErr = dialErr
	_, err := s.ExecuteCommand("state", testutils.TestLockName, "--config", s.ConfigPath)
	s.ErrorIs(err, dialErr)
}

func TestStateTestSuite(t *testing.T) {
	suite.Run(t, new(StateTestSuite))
}
