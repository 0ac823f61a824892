package lock

import (
	"fmt"
	"time"

	"github.com/srg/ydbolt/internal/ydble"
)

// Bolt state values carried in the first byte of the state characteristic
const (
	StateUnlocked byte = 0
	StateLocked   byte = 1
)

// State is the decoded content of the state characteristic.
type State struct {
	Value     byte      `json:"state"`
	Timestamp time.Time `json:"last_operated"`
}

func (s State) IsLocked() bool {
	return s.Value == StateLocked
}

func (s State) String() string {
	switch s.Value {
	case StateLocked:
		return "locked"
	case StateUnlocked:
		return "unlocked"
	default:
		return fmt.Sprintf("state(0x%02x)", s.Value)
	}
}

// DecodeState decrypts a state characteristic value with the key derived
// from uuid: byte 0 is the bolt state, bytes 1..4 the epoch of the last
// operation in codec byte order.
func DecodeState(codec ydble.Codec, uuid string, data []byte) (State, error) {
	key, err := ydble.StateKey(uuid)
	if err != nil {
		return State{}, err
	}
	plain, err := ydble.DecryptECB(key, data)
	if err != nil {
		return State{}, fmt.Errorf("decrypt state: %w", err)
	}
	if len(plain) < 5 {
		return State{}, fmt.Errorf("%w: state payload of %d bytes", ydble.ErrTruncated, len(plain))
	}
	return State{
		Value:     plain[0],
		Timestamp: time.Unix(int64(codec.ByteOrder().Uint32(plain[1:5])), 0),
	}, nil
}
