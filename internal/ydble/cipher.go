package ydble

import (
	"crypto/aes"
	"fmt"
	"strings"
)

// KeySize is the AES-128 key length used by the lock.
const KeySize = 16

// EncryptECB encrypts data block by block with AES-128. No padding is
// applied; data must be a multiple of aes.BlockSize.
func EncryptECB(key, data []byte) ([]byte, error) {
	return ecb(key, data, true)
}

// DecryptECB is the inverse of EncryptECB.
func DecryptECB(key, data []byte) ([]byte, error) {
	return ecb(key, data, false)
}

func ecb(key, data []byte, encrypt bool) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrKeySize, len(key), KeySize)
	}
	if len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrBlockSize, len(data))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += aes.BlockSize {
		if encrypt {
			block.Encrypt(out[i:i+aes.BlockSize], data[i:i+aes.BlockSize])
		} else {
			block.Decrypt(out[i:i+aes.BlockSize], data[i:i+aes.BlockSize])
		}
	}
	return out, nil
}

// StateKey derives the state characteristic key from the lock UUID: the last
// 16 characters, lower-cased.
func StateKey(uuid string) ([]byte, error) {
	if len(uuid) < KeySize {
		return nil, fmt.Errorf("%w: uuid %q is shorter than %d characters", ErrKeySize, uuid, KeySize)
	}
	return []byte(strings.ToLower(uuid[len(uuid)-KeySize:])), nil
}

// TokenKey derives the challenge key from the cloud issued BLE token: the
// characters following the first 16.
func TokenKey(token string) ([]byte, error) {
	if len(token) != 2*KeySize {
		return nil, fmt.Errorf("%w: ble token has %d characters, want %d", ErrKeySize, len(token), 2*KeySize)
	}
	return []byte(token[KeySize:]), nil
}
