package ydble

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Command is the direction of a bolt operation. Its value is the leading
// byte of the matching magic template.
type Command uint8

const (
	CommandUnlock Command = 0x01
	CommandLock   Command = 0x02
)

func (c Command) String() string {
	switch c {
	case CommandLock:
		return "lock"
	case CommandUnlock:
		return "unlock"
	default:
		return fmt.Sprintf("command(0x%02x)", uint8(c))
	}
}

// ParseCommand accepts "lock" or "unlock" in any case.
func ParseCommand(s string) (Command, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lock":
		return CommandLock, nil
	case "unlock":
		return CommandUnlock, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCommand, s)
	}
}

// Sequence numbers of the two client requests
const (
	SeqChallengeRequest uint16 = 1
	SeqAction           uint16 = 2
)

// challengeKind is the value of TagChallengeKind in a challenge request.
const challengeKind byte = 0x27

// Magic templates XORed over the encrypted challenge.
var (
	unlockMagic = mustHex("01000000000000000000006C6F6F636B")
	lockMagic   = mustHex("02000000000000000000006C6F6F636B")
)

func mustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

func (c Command) magic() ([]byte, error) {
	switch c {
	case CommandLock:
		return lockMagic, nil
	case CommandUnlock:
		return unlockMagic, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, c)
	}
}

// ChallengeRequestMessage is the L2 message asking the lock for a challenge.
func ChallengeRequestMessage() *Message {
	return NewMessage(CmdChallengeRequest, 0, Field{Tag: TagChallengeKind, Value: []byte{challengeKind}})
}

// ChallengeRequest returns the complete frame (seq 1) requesting a challenge.
func (c Codec) ChallengeRequest() []byte {
	payload, err := c.PackL2(ChallengeRequestMessage())
	if err != nil {
		// fixed single byte field, cannot exceed limits
		panic(err)
	}
	return c.PackL1(FlagsRequest, SeqChallengeRequest, payload)
}

// MaskChallenge encrypts challenge with the token key and XORs the result
// with the template of cmd. The result is as long as the shorter of the two.
func MaskChallenge(token string, challenge []byte, cmd Command) ([]byte, error) {
	magic, err := cmd.magic()
	if err != nil {
		return nil, err
	}
	key, err := TokenKey(token)
	if err != nil {
		return nil, err
	}
	encrypted, err := EncryptECB(key, challenge)
	if err != nil {
		return nil, fmt.Errorf("encrypt challenge: %w", err)
	}
	n := min(len(encrypted), len(magic))
	masked := make([]byte, n)
	for i := 0; i < n; i++ {
		masked[i] = encrypted[i] ^ magic[i]
	}
	return masked, nil
}

// ActionMessage builds the L2 lock/unlock action answering challenge.
func (c Codec) ActionMessage(bleID uint16, token string, challenge []byte, cmd Command) (*Message, error) {
	masked, err := MaskChallenge(token, challenge, cmd)
	if err != nil {
		return nil, err
	}
	id := make([]byte, 2)
	c.order().PutUint16(id, bleID)
	return NewMessage(CmdAction, 0,
		Field{Tag: TagBLEID, Value: id},
		Field{Tag: TagActionPayload, Value: masked},
		Field{Tag: TagActionAD, Value: []byte{0x00}},
		Field{Tag: TagActionF4, Value: []byte{0x01}},
		Field{Tag: TagActionF7, Value: []byte{0x01}},
	), nil
}

// Action returns the complete frame (seq 2) carrying the lock/unlock action.
func (c Codec) Action(bleID uint16, token string, challenge []byte, cmd Command) ([]byte, error) {
	msg, err := c.ActionMessage(bleID, token, challenge, cmd)
	if err != nil {
		return nil, err
	}
	payload, err := c.PackL2(msg)
	if err != nil {
		return nil, err
	}
	return c.PackL1(FlagsRequest, SeqAction, payload), nil
}

// Ack returns the empty acknowledgement frame for seqNo.
func (c Codec) Ack(seqNo uint16) []byte {
	return c.PackL1(FlagsAck, seqNo, nil)
}

// DescribeFrame renders a frame for logs, decoding the L2 message when the
// payload holds one.
func (c Codec) DescribeFrame(f Frame) string {
	if len(f.Payload) == 0 {
		return f.String()
	}
	msg, err := c.ParseL2(f.Payload)
	if err != nil {
		return f.String()
	}
	return fmt.Sprintf("flags=0x%02x seq=%d %s", f.Flags, f.SeqNo, msg)
}
