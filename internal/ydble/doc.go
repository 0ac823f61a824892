// Package ydble implements the wire protocol spoken by the BLE bolt lock.
//
// The protocol has two layers:
//   - L1 frames: [0xAB][flags][length:2][crc16:2][seq:2][payload]
//   - L2 messages carried in an L1 payload: [cmd][flags] followed by
//     tag/length/value entries ([tag:1][length:2][value])
//
// Multi-byte integers use the byte order of the Codec; DefaultCodec is
// little endian. Payload integrity is protected by a table driven CRC16
// (reflected polynomial 0xA001, initial value 0).
//
// The package also carries the AES-128-ECB helpers used to decrypt the
// lock state characteristic and to answer the lock's challenge, and the
// builders for the three frames a client ever sends: the challenge request,
// the lock/unlock action and the acknowledgement.
package ydble
