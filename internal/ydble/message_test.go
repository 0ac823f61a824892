package ydble

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestL2RoundTripPreservesOrder(t *testing.T) {
	msg := NewMessage(0x86, 0x01,
		Field{Tag: 0xF7, Value: []byte{1}},
		Field{Tag: 0x01, Value: []byte{}},
		Field{Tag: 0xD2, Value: []byte{0xde, 0xad, 0xbe, 0xef}},
	)

	for _, codec := range []Codec{DefaultCodec, NewCodec(binary.BigEndian)} {
		packed, err := codec.PackL2(msg)
		require.NoError(t, err)

		parsed, err := codec.ParseL2(packed)
		require.NoError(t, err)
		assert.Equal(t, uint8(0x86), parsed.Cmd)
		assert.Equal(t, uint8(0x01), parsed.Flags)

		var tags []uint8
		for _, f := range parsed.List() {
			tags = append(tags, f.Tag)
		}
		assert.Equal(t, []uint8{0xF7, 0x01, 0xD2}, tags, "fields MUST keep wire order")

		v, ok := parsed.Get(0xD2)
		require.True(t, ok)
		assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, v)
	}
}

func TestPackL2Layout(t *testing.T) {
	packed, err := PackL2(ChallengeRequestMessage())
	require.NoError(t, err)
	assert.Equal(t, []byte{0x91, 0x00, 0x0a, 0x01, 0x00, 0x27}, packed)

	packed, err = NewCodec(binary.BigEndian).PackL2(ChallengeRequestMessage())
	require.NoError(t, err)
	assert.Equal(t, []byte{0x91, 0x00, 0x0a, 0x00, 0x01, 0x27}, packed)
}

func TestParseL2Truncated(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{name: "empty", input: nil},
		{name: "cmd only", input: []byte{0x86}},
		{name: "partial field header", input: []byte{0x86, 0x00, 0xd2, 0x01}},
		{name: "value overrun", input: []byte{0x86, 0x00, 0xd2, 0x04, 0x00, 0xaa}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseL2(tt.input)
			assert.ErrorIs(t, err, ErrTruncated)
		})
	}
}

func TestParseL2HeaderOnly(t *testing.T) {
	msg, err := ParseL2([]byte{0x04, 0x00})
	require.NoError(t, err)
	assert.Equal(t, CmdConfirm, msg.Cmd)
	assert.Empty(t, msg.List())
}

func TestParseL2CopiesValues(t *testing.T) {
	data := []byte{0x86, 0x00, 0xd2, 0x01, 0x00, 0x42}
	msg, err := ParseL2(data)
	require.NoError(t, err)
	data[5] = 0x00

	v, _ := msg.Get(0xD2)
	assert.Equal(t, []byte{0x42}, v)
}
