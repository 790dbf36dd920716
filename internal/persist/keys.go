// Package persist saves and restores settings and cached session keys in the
// kv store. Per-device entries are keyed by a short hash of the option name
// and the device address so they fit the store's key length limit.
package persist

import (
	"fmt"

	"github.com/chaz8081/pgpemu/internal/settings"
)

// Namespaces.
const (
	GlobalNamespace  = "global_settings"
	DeviceNamespace  = "device_settings"
	SecretsNamespace = "pgpsecret"
)

// Option names. Global keys are stored as-is, device options go through
// DeriveKey.
const (
	KeyTargetConnections = "maxcon"
	KeyLogLevel          = "llevel"

	OptionAutoCatch       = "catch"
	OptionAutoSpin        = "spin"
	OptionSpinProbability = "spinp"

	OptionSessionKey         = "sesskey"
	OptionReconnectChallenge = "rechall"
)

// DerivedKeyLen is the length of every key produced by DeriveKey.
const DerivedKeyLen = 15

const keyMask = 0x0FFFFFFFFFFFFFFF

// FNV-1a parameters. The offset basis is the one the accessory firmware
// stores its keys with, not the published 14695981039346656037.
const (
	fnvOffsetBasis uint64 = 1469598103934665603
	fnvPrime       uint64 = 1099511628211
)

// DeriveKey returns the storage key for option on the device addr: the
// 64-bit FNV-1a hash of "option_aabbccddeeff", truncated to 60 bits and
// rendered as 15 lowercase hex digits. Different inputs may collide; the
// store does not detect it.
func DeriveKey(option string, addr settings.Address) string {
	h := fnvOffsetBasis
	for _, b := range []byte(option + "_" + addr.Hex()) {
		h = (h ^ uint64(b)) * fnvPrime
	}
	return fmt.Sprintf("%0*x", DerivedKeyLen, h&keyMask)
}
