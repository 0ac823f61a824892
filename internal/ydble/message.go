package ydble

import (
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// L2 command and tag values used by the lock/unlock exchange
const (
	CmdChallengeRequest uint8 = 0x91 // client asks for a challenge
	CmdChallenge        uint8 = 0x86 // lock delivers the challenge
	CmdAction           uint8 = 0x04 // client lock/unlock action
	CmdConfirm          uint8 = 0x04 // lock confirms the action

	TagChallengeKind uint8 = 0x0A
	TagChallenge     uint8 = 0xD2
	TagBLEID         uint8 = 0x05
	TagActionPayload uint8 = 0x04
	TagActionAD      uint8 = 0xAD
	TagActionF4      uint8 = 0xF4
	TagActionF7      uint8 = 0xF7
)

// l2HeaderLen covers cmd and flags; fieldHeaderLen covers tag and length.
const (
	l2HeaderLen    = 2
	fieldHeaderLen = 3
)

// Field is one tag/value entry of an L2 message.
type Field struct {
	Tag   uint8
	Value []byte
}

// Message is an L2 application message. Fields keep insertion order, which
// is the order they are written on the wire.
type Message struct {
	Cmd    uint8
	Flags  uint8
	Fields *orderedmap.OrderedMap[uint8, []byte]
}

// NewMessage builds a message with fields in the given order. A repeated tag
// keeps its first position and takes the last value.
func NewMessage(cmd, flags uint8, fields ...Field) *Message {
	m := &Message{
		Cmd:    cmd,
		Flags:  flags,
		Fields: orderedmap.New[uint8, []byte](orderedmap.WithCapacity[uint8, []byte](len(fields))),
	}
	for _, f := range fields {
		m.Fields.Set(f.Tag, f.Value)
	}
	return m
}

// Get returns the value stored under tag.
func (m *Message) Get(tag uint8) ([]byte, bool) {
	if m.Fields == nil {
		return nil, false
	}
	return m.Fields.Get(tag)
}

// Set stores value under tag, appending the tag if it is new.
func (m *Message) Set(tag uint8, value []byte) {
	if m.Fields == nil {
		m.Fields = orderedmap.New[uint8, []byte]()
	}
	m.Fields.Set(tag, value)
}

// List returns the fields in wire order.
func (m *Message) List() []Field {
	if m.Fields == nil {
		return nil
	}
	out := make([]Field, 0, m.Fields.Len())
	for p := m.Fields.Oldest(); p != nil; p = p.Next() {
		out = append(out, Field{Tag: p.Key, Value: p.Value})
	}
	return out
}

func (m *Message) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "cmd=0x%02x flags=0x%02x", m.Cmd, m.Flags)
	for _, f := range m.List() {
		fmt.Fprintf(&sb, " [0x%02x]=%x", f.Tag, f.Value)
	}
	return sb.String()
}

// PackL2 serializes m: [cmd][flags] then [tag][len][value] per field.
func (c Codec) PackL2(m *Message) ([]byte, error) {
	o := c.order()
	size := l2HeaderLen
	fields := m.List()
	for _, f := range fields {
		if len(f.Value) > MaxPayloadLen {
			return nil, fmt.Errorf("%w: tag 0x%02x has %d bytes", ErrFieldTooLarge, f.Tag, len(f.Value))
		}
		size += fieldHeaderLen + len(f.Value)
	}

	out := make([]byte, 0, size)
	out = append(out, m.Cmd, m.Flags)
	var length [2]byte
	for _, f := range fields {
		o.PutUint16(length[:], uint16(len(f.Value)))
		out = append(out, f.Tag)
		out = append(out, length[:]...)
		out = append(out, f.Value...)
	}
	return out, nil
}

// ParseL2 decodes an L2 message. A field whose header or value runs past the
// end of data fails with ErrTruncated.
func (c Codec) ParseL2(data []byte) (*Message, error) {
	if len(data) < l2HeaderLen {
		return nil, fmt.Errorf("%w: %d byte message header", ErrTruncated, len(data))
	}
	o := c.order()
	m := NewMessage(data[0], data[1])

	cur := l2HeaderLen
	for cur < len(data) {
		if len(data)-cur < fieldHeaderLen {
			return nil, fmt.Errorf("%w: field header at offset %d", ErrTruncated, cur)
		}
		tag := data[cur]
		length := int(o.Uint16(data[cur+1 : cur+3]))
		start := cur + fieldHeaderLen
		if start+length > len(data) {
			return nil, fmt.Errorf("%w: tag 0x%02x declares %d bytes, %d available",
				ErrTruncated, tag, length, len(data)-start)
		}
		value := make([]byte, length)
		copy(value, data[start:start+length])
		m.Fields.Set(tag, value)
		cur = start + length
	}
	return m, nil
}

// PackL2 packs m with DefaultCodec.
func PackL2(m *Message) ([]byte, error) {
	return DefaultCodec.PackL2(m)
}

// ParseL2 parses data with DefaultCodec.
func ParseL2(data []byte) (*Message, error) {
	return DefaultCodec.ParseL2(data)
}
