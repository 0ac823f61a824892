package lock

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/srg/ydbolt/internal/testutils"
	"github.com/srg/ydbolt/internal/ydble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveMAC(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "ab8967452301", want: "01:23:45:67:89:AB"},
		{raw: testutils.TestRawMAC, want: testutils.TestMAC},
		{raw: " ab8967452301 ", want: "01:23:45:67:89:AB"},
		{raw: "ab89674523", wantErr: true},
		{raw: "zz8967452301", wantErr: true},
		{raw: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := DeriveMAC(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMAC)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIdentityResolve(t *testing.T) {
	id, err := Identity{RawMAC: "ab8967452301"}.Resolve()
	require.NoError(t, err)
	assert.True(t, id.Ready())
	assert.Equal(t, "01:23:45:67:89:AB", id.MAC)

	explicit, err := Identity{RawMAC: "ab8967452301", MAC: "11:22:33:44:55:66"}.Resolve()
	require.NoError(t, err)
	assert.Equal(t, "11:22:33:44:55:66", explicit.MAC, "explicit MAC wins")

	empty, err := Identity{}.Resolve()
	require.NoError(t, err)
	assert.False(t, empty.Ready())
}

func TestIdentityDisplayName(t *testing.T) {
	assert.Equal(t, "porch", Identity{Name: "porch", UUID: "u"}.DisplayName())
	assert.Equal(t, "u", Identity{UUID: "u"}.DisplayName())
}

func TestDecodeState(t *testing.T) {
	// GOAL: Verify the state characteristic decrypts with the UUID derived key
	//
	// TEST SCENARIO: Encrypt state+timestamp in each byte order → decoded back

	key, err := ydble.StateKey(testutils.TestLockUUID)
	require.NoError(t, err)

	tests := []struct {
		name  string
		codec ydble.Codec
		value byte
	}{
		{"locked little endian", ydble.DefaultCodec, StateLocked},
		{"unlocked big endian", ydble.NewCodec(binary.BigEndian), StateUnlocked},
		{"unknown value", ydble.DefaultCodec, 0x07},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plain := make([]byte, 16)
			plain[0] = tt.value
			tt.codec.ByteOrder().PutUint32(plain[1:5], 1700000000)
			data, err := ydble.EncryptECB(key, plain)
			require.NoError(t, err)

			st, err := DecodeState(tt.codec, testutils.TestLockUUID, data)
			require.NoError(t, err)
			assert.Equal(t, tt.value, st.Value)
			assert.Equal(t, tt.value == StateLocked, st.IsLocked())
			assert.Equal(t, time.Unix(1700000000, 0), st.Timestamp)
		})
	}
}

func TestDecodeStateErrors(t *testing.T) {
	_, err := DecodeState(ydble.DefaultCodec, testutils.TestLockUUID, []byte{1, 2, 3})
	assert.ErrorIs(t, err, ydble.ErrBlockSize)

	_, err = DecodeState(ydble.DefaultCodec, "short", make([]byte, 16))
	assert.ErrorIs(t, err, ydble.ErrKeySize)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "locked", State{Value: StateLocked}.String())
	assert.Equal(t, "unlocked", State{Value: StateUnlocked}.String())
	assert.Equal(t, "state(0x07)", State{Value: 7}.String())
}
