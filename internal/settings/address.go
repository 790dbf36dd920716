package settings

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Address is a 48-bit Bluetooth device address (BDA) of a remote peer.
type Address [6]byte

// ParseAddress parses "aa:bb:cc:dd:ee:ff", "aa-bb-cc-dd-ee-ff" or
// "aabbccddeeff".
func ParseAddress(s string) (Address, error) {
	var a Address
	clean := strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(s))
	if len(clean) != 12 {
		return a, fmt.Errorf("settings: address %q must have 6 bytes", s)
	}
	b, err := hex.DecodeString(clean)
	if err != nil {
		return a, fmt.Errorf("settings: address %q: %w", s, err)
	}
	copy(a[:], b)
	return a, nil
}

// String renders the address as colon separated lowercase hex.
func (a Address) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", a[0], a[1], a[2], a[3], a[4], a[5])
}

// Hex renders the address as 12 lowercase hex digits without separators.
func (a Address) Hex() string {
	return hex.EncodeToString(a[:])
}

// IsZero reports whether every byte of the address is zero. A zero address
// means the peer has not been identified yet.
func (a Address) IsZero() bool {
	return a == Address{}
}
