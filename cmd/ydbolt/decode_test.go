package main

import (
	"encoding/binary"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/srg/ydbolt/internal/testutils"
	"github.com/srg/ydbolt/internal/ydble"
	"github.com/stretchr/testify/suite"
)

type DecodeTestSuite struct {
	CommandTestSuite
}

func (s *DecodeTestSuite) TestFrames() {
	// GOAL: Verify concatenated frames are split and their messages decoded
	//
	// TEST SCENARIO: challenge request followed by its ack → two labeled lines

	tests := []struct {
		name  string
		order string
		codec ydble.Codec
	}{
		{name: "little endian", order: "little", codec: ydble.NewCodec(binary.LittleEndian)},
		{name: "big endian", order: "big", codec: ydble.NewCodec(binary.BigEndian)},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			capture := append(tt.codec.ChallengeRequest(), tt.codec.Ack(ydble.SeqChallengeRequest)...)
			// colons as copied from a sniffer
			input := strings.Join(strings.SplitAfter(hex.EncodeToString(capture), "ab"), ":")

			out, err := s.ExecuteCommand("decode", input, "--byte-order", tt.order)
			s.Require().NoError(err)
			testutils.NewTextAsserter(s.T()).Assert(out, `
#1 request    flags=0x00 seq=1 cmd=0x91 flags=0x00 [0x0a]=27
#2 ack        flags=0x08 seq=1 len=0 payload=`)
		})
	}
}

func (s *DecodeTestSuite) TestKnownChallengeRequest() {
	out, err := s.ExecuteCommand("decode", "ab0006000e830100", "91000a010027")
	s.Require().NoError(err)
	s.Contains(out, "cmd=0x91")
}

func (s *DecodeTestSuite) TestStatePayload() {
	key, err := ydble.StateKey(testutils.TestLockUUID)
	s.Require().NoError(err)
	plain := make([]byte, 16)
	plain[0] = 1
	binary.LittleEndian.PutUint32(plain[1:5], 1700000000)
	payload, err := ydble.EncryptECB(key, plain)
	s.Require().NoError(err)

	out, err := s.ExecuteCommand("decode", hex.EncodeToString(payload), "--key", testutils.TestLockUUID)
	s.Require().NoError(err)
	testutils.NewTextAsserter(s.T()).Assert(out, `
state:         locked (0x01)
last_operated: 2023-11-14T22:13:20Z`)
}

func (s *DecodeTestSuite) TestErrors() {
	tests := []struct {
		name    string
		args    []string
		wantErr error
		wantMsg string
	}{
		{name: "not hex", args: []string{"zz"}, wantMsg: "invalid hex input"},
		{name: "bad byte order", args: []string{"ab", "--byte-order", "middle"}, wantMsg: "unknown byte order"},
		{name: "bad start byte", args: []string{"cd000000"}, wantErr: ydble.ErrFraming},
		{name: "truncated frame", args: []string{"ab0006000e830100910000"}, wantErr: ydble.ErrTruncated},
		{name: "corrupt frame", args: []string{"ab0006000000010091000a010027"}, wantErr: ydble.ErrChecksum},
		{name: "state not block aligned", args: []string{"0102", "--key", testutils.TestLockUUID}, wantErr: ydble.ErrBlockSize},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.ExecuteCommand(append([]string{"decode"}, tt.args...)...)
			s.Require().Error(err)
			if tt.wantErr != nil {
				s.ErrorIs(err, tt.wantErr)
			}
			if tt.wantMsg != "" {
				s.ErrorContains(err, tt.wantMsg)
			}
		})
	}
}

func TestDecodeTestSuite(t *testing.T) {
	suite.Run(t, new(DecodeTestSuite))
}
