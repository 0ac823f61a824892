package main

import (
	"testing"

	"github.com/srg/ydbolt/internal/lock"
	"github.com/stretchr/testify/suite"
)

type MACTestSuite struct {
	CommandTestSuite
}

func (s *MACTestSuite) TestDerive() {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr error
	}{
		{name: "reversed pairs", raw: "ab8967452301", want: "01:23:45:67:89:AB\n"},
		{name: "upper case input", raw: "FFEEDDCCBBAA", want: "AA:BB:CC:DD:EE:FF\n"},
		{name: "too short", raw: "abcd", wantErr: lock.ErrInvalidMAC},
		{name: "not hex", raw: "zz8967452301", wantErr: lock.ErrInvalidMAC},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			out, err := s.ExecuteCommand("mac", tt.raw)
			if tt.wantErr != nil {
				s.ErrorIs(err, tt.wantErr)
				return
			}
			s.Require().NoError(err)
			s.Equal(tt.want, out)
		})
	}
}

func TestMACTestSuite(t *testing.T) {
	suite.Run(t, new(MACTestSuite))
}
