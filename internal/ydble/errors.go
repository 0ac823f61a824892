package ydble

import (
	"errors"
	"fmt"
)

// Decode and crypto errors
var (
	// ErrFraming indicates data that does not start with the L1 start byte.
	ErrFraming = errors.New("invalid frame start byte")

	// ErrChecksum is matched by every *ChecksumError.
	ErrChecksum = errors.New("frame checksum mismatch")

	// ErrTruncated indicates an L2 message (or decrypted payload) that ends
	// before a declared field does.
	ErrTruncated = errors.New("truncated message")

	// ErrBlockSize indicates cipher input that is not a multiple of the AES block size.
	ErrBlockSize = errors.New("data is not block aligned")

	// ErrKeySize indicates key material that does not yield a 16 byte AES-128 key.
	ErrKeySize = errors.New("invalid key size")

	// ErrFieldTooLarge indicates an L2 value longer than a 16 bit length can describe.
	ErrFieldTooLarge = errors.New("field value too large")

	// ErrUnknownCommand indicates a command name other than lock or unlock.
	ErrUnknownCommand = errors.New("unknown command")
)

// ChecksumError carries both sides of a failed CRC comparison.
type ChecksumError struct {
	Declared uint16
	Computed uint16
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("%s: declared 0x%04x, computed 0x%04x", ErrChecksum, e.Declared, e.Computed)
}

// Is allows errors.Is(err, ErrChecksum)
func (e *ChecksumError) Is(target error) bool {
	return target == ErrChecksum
}
