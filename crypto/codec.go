package crypto

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// ToHex renders b as a canonical, 0x-prefixed lowercase hex string,
// matching spec.md §3's "hex canonically 0x-prefixed lowercase".
func ToHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// FromHex parses a hex string, accepting an optional "0x"/"0X" prefix.
func FromHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return hex.DecodeString(s)
}

// ToBase58 renders b using the Bitcoin base58 alphabet, as used
// throughout the Carrier ecosystem for short human-facing identifiers.
func ToBase58(b []byte) string {
	return base58.Encode(b)
}

// FromBase58 decodes a base58 string produced by ToBase58.
func FromBase58(s string) ([]byte, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid base58 string: %w", err)
	}
	return b, nil
}
