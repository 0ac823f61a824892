package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "16-bit", input: "2902", expected: "2902"},
		{name: "16-bit with 0x prefix", input: "0x2902", expected: "2902"},
		{name: "16-bit with 0X prefix", input: "0X2902", expected: "2902"},
		{name: "SIG base with dashes", input: "00002902-0000-1000-8000-00805f9b34fb", expected: "2902"},
		{name: "SIG base uppercase", input: "0000180D-0000-1000-8000-00805F9B34FB", expected: "180d"},
		{name: "lock state characteristic", input: "00002220-0000-6B63-6F6C-2E6B636F6C79", expected: "0000222000006b636f6c2e6b636f6c79"},
		{name: "custom UUID wrong prefix", input: "AA002902-0000-1000-8000-00805f9b34fb", expected: "aa00290200001000800000805f9b34fb"},
		{name: "partial", input: "00002902", expected: "00002902"},
		{name: "surrounding space", input: " 2A19 ", expected: "2a19"},
		{name: "empty", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeUUID(tt.input))
		})
	}
}

func TestShortenUUID(t *testing.T) {
	assert.Equal(t, "00002221", ShortenUUID("0000222100006b636f6c2e6b636f6c79"))
	assert.Equal(t, "2902", ShortenUUID("2902"))
}
