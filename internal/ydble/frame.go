package ydble

import (
	"encoding/binary"
	"fmt"
)

const (
	// StartByte opens every L1 frame.
	StartByte byte = 0xAB

	// HeaderLen is the size of the L1 header preceding the payload.
	HeaderLen = 8

	// MaxPayloadLen is the largest payload a 16 bit length field can declare.
	MaxPayloadLen = 0xFFFF
)

// L1 flag values observed on the wire
const (
	FlagsRequest   uint8 = 0x00 // client request
	FlagsAck       uint8 = 0x08 // client acknowledgement (empty payload)
	FlagsNotify    uint8 = 0x40 // lock data notification
	FlagsNotifyAck uint8 = 0x48 // lock acknowledgement of a client request
)

// Frame is a decoded L1 frame.
type Frame struct {
	Flags   uint8
	SeqNo   uint16
	Payload []byte
}

func (f Frame) String() string {
	return fmt.Sprintf("flags=0x%02x seq=%d len=%d payload=%x", f.Flags, f.SeqNo, len(f.Payload), f.Payload)
}

// Codec packs and parses frames using a fixed byte order for 16 bit integers.
type Codec struct {
	Order binary.ByteOrder
}

// DefaultCodec encodes integers little endian.
var DefaultCodec = Codec{Order: binary.LittleEndian}

// NewCodec returns a codec for the given byte order; nil selects little endian.
func NewCodec(order binary.ByteOrder) Codec {
	if order == nil {
		order = binary.LittleEndian
	}
	return Codec{Order: order}
}

func (c Codec) order() binary.ByteOrder {
	if c.Order == nil {
		return binary.LittleEndian
	}
	return c.Order
}

// ByteOrder returns the byte order in effect.
func (c Codec) ByteOrder() binary.ByteOrder {
	return c.order()
}

// PackL1 serializes a frame: [0xAB][flags][len][crc16][seq][payload].
// Payloads longer than MaxPayloadLen are not representable and panic.
func (c Codec) PackL1(flags uint8, seqNo uint16, payload []byte) []byte {
	if len(payload) > MaxPayloadLen {
		panic(fmt.Sprintf("ydble: payload of %d bytes exceeds frame limit", len(payload)))
	}
	o := c.order()
	out := make([]byte, HeaderLen, HeaderLen+len(payload))
	out[0] = StartByte
	out[1] = flags
	o.PutUint16(out[2:4], uint16(len(payload)))
	o.PutUint16(out[4:6], CRC16(payload))
	o.PutUint16(out[6:8], seqNo)
	return append(out, payload...)
}

// ParseL1 decodes a frame from data.
//
// When data holds fewer bytes than the header plus the declared length, the
// returned frame carries whatever payload is available and remaining reports
// how many more bytes are needed at least; the caller buffers data and parses
// again once more arrives. remaining is 0 only for a complete frame whose CRC
// has been verified. Bytes past the declared length are ignored.
func (c Codec) ParseL1(data []byte) (frame Frame, remaining int, err error) {
	if len(data) == 0 {
		return Frame{}, HeaderLen, nil
	}
	if data[0] != StartByte {
		return Frame{}, 0, fmt.Errorf("%w: got 0x%02x", ErrFraming, data[0])
	}
	if len(data) < HeaderLen {
		if len(data) > 1 {
			frame.Flags = data[1]
		}
		return frame, HeaderLen - len(data), nil
	}

	o := c.order()
	frame.Flags = data[1]
	length := int(o.Uint16(data[2:4]))
	declared := o.Uint16(data[4:6])
	frame.SeqNo = o.Uint16(data[6:8])

	payload := data[HeaderLen:]
	if len(payload) > length {
		payload = payload[:length]
	}
	frame.Payload = payload
	if len(payload) < length {
		return frame, length - len(payload), nil
	}

	if computed := CRC16(payload); computed != declared {
		return frame, 0, &ChecksumError{Declared: declared, Computed: computed}
	}
	return frame, 0, nil
}

// PackL1 packs a frame with DefaultCodec.
func PackL1(flags uint8, seqNo uint16, payload []byte) []byte {
	return DefaultCodec.PackL1(flags, seqNo, payload)
}

// ParseL1 parses a frame with DefaultCodec.
func ParseL1(data []byte) (Frame, int, error) {
	return DefaultCodec.ParseL1(data)
}
