package lock

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/srg/ydbolt/internal/ydble"
)

// Identity is what the cloud knows about a bolt. It is immutable once
// fetched; a refresh replaces it as a whole.
type Identity struct {
	Name   string `json:"name" yaml:"name"`
	UUID   string `json:"uuid" yaml:"uuid"`
	RawMAC string `json:"hardware_mac,omitempty" yaml:"hardware_mac"`
	MAC    string `json:"mac,omitempty" yaml:"mac"`
	BLEID  uint16 `json:"ble_id" yaml:"ble_id"`
	Token  string `json:"ble_token" yaml:"ble_token"`
	Model  string `json:"model,omitempty" yaml:"model"`
}

// DeriveMAC turns the reversed, colon-less hardware MAC reported by the
// cloud into a standard address: "ab8967452301" becomes "01:23:45:67:89:AB".
func DeriveMAC(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if len(raw) != 12 {
		return "", fmt.Errorf("%w: %q has %d characters, want 12", ErrInvalidMAC, raw, len(raw))
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidMAC, raw, err)
	}
	groups := make([]string, 0, 6)
	for i := len(raw); i > 0; i -= 2 {
		groups = append(groups, raw[i-2:i])
	}
	return strings.ToUpper(strings.Join(groups, ":")), nil
}

// Resolve fills MAC from RawMAC when only the latter is known.
func (id Identity) Resolve() (Identity, error) {
	if id.MAC != "" || id.RawMAC == "" {
		return id, nil
	}
	mac, err := DeriveMAC(id.RawMAC)
	if err != nil {
		return id, err
	}
	id.MAC = mac
	return id, nil
}

// Ready reports whether the BLE address is known.
func (id Identity) Ready() bool {
	return id.MAC != ""
}

// Validate checks the key material without touching the address.
func (id Identity) Validate() error {
	if _, err := ydble.StateKey(id.UUID); err != nil {
		return fmt.Errorf("lock %q: %w", id.Name, err)
	}
	if _, err := ydble.TokenKey(id.Token); err != nil {
		return fmt.Errorf("lock %q: %w", id.Name, err)
	}
	return nil
}

// DisplayName prefers Name over UUID.
func (id Identity) DisplayName() string {
	if id.Name != "" {
		return id.Name
	}
	return id.UUID
}
