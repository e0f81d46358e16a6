// Package id implements the 256-bit identifier algebra described in
// spec.md §3: XOR distance, three-way closeness comparison, and the
// bit-prefix arithmetic the routing table is built on. Arithmetic is done
// byte-wise over the big-endian representation rather than via big.Int
// conversions, per spec.md §9 ("Identifier arithmetic"), mirroring the
// teacher's p2p/discover package which likewise avoids big-integer
// conversions for its distance metric (see logdist in table.go) even
// though the underlying metric there is hash-based rather than raw-XOR.
package id

import (
	"bytes"
	"crypto/ed25519"
	"fmt"

	"github.com/elastos-carrier/carrier-go/crypto"
)

// Size is the width in bytes of an ID (256 bits).
const Size = 32

// ID is an opaque 256-bit node/value identifier. It may be reinterpreted
// as an Ed25519 public key (and, via crypto.PublicKeyToBox, as an X25519
// public key).
type ID [Size]byte

// Zero is the all-zero identifier.
var Zero ID

// FromBytes copies b into a new ID. b must be exactly Size bytes.
func FromBytes(b []byte) (ID, error) {
	var out ID
	if len(b) != Size {
		return out, fmt.Errorf("id: expected %d bytes, got %d", Size, len(b))
	}
	copy(out[:], b)
	return out, nil
}

// FromPublicKey reinterprets an Ed25519 public key as an ID.
func FromPublicKey(pub ed25519.PublicKey) (ID, error) {
	return FromBytes(pub)
}

// Random returns a cryptographically random ID.
func Random() (ID, error) {
	b, err := crypto.RandomBytes(Size)
	if err != nil {
		return Zero, err
	}
	return FromBytes(b)
}

// Bytes returns the big-endian byte slice backing id. The caller must not
// modify it through further aliasing without copying.
func (id ID) Bytes() []byte { return id[:] }

// Equal reports whether id and other are the same identifier.
func (id ID) Equal(other ID) bool { return id == other }

// Less implements the identifiers' lexicographic (unsigned big-endian)
// order, used for canonical sorting, not for the XOR metric.
func (id ID) Less(other ID) bool { return bytes.Compare(id[:], other[:]) < 0 }

// Compare returns -1, 0 or +1 per bytes.Compare semantics on the
// big-endian representation.
func (id ID) Compare(other ID) int { return bytes.Compare(id[:], other[:]) }

// Xor returns the bit-wise XOR distance d(a,b) = a ^ b.
func Xor(a, b ID) ID {
	var out ID
	for i := 0; i < Size; i++ {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// Distance is an alias for the XOR-metric result, distinguishing "an ID
// used as a distance" from "an ID used as an address" at call sites.
type Distance = ID

// CompareCloser returns the sign of d(self,a) - d(self,b) interpreted as
// unsigned big-endian integers: negative if a is closer to self than b,
// positive if b is closer, zero if equidistant. This realizes spec.md
// §8's cmp_closer(self; a, b) law.
func CompareCloser(self, a, b ID) int {
	da := Xor(self, a)
	db := Xor(self, b)
	return da.Compare(db)
}

// CloserThan reports whether a is strictly closer to target than b is.
func CloserThan(target, a, b ID) bool {
	return CompareCloser(target, a, b) < 0
}

// bitAt returns the value (0 or 1) of the i-th most-significant bit of
// id, where i is a 0-based index into the 256-bit big-endian value.
func bitAt(id ID, i int) byte {
	byteIdx := i / 8
	bitIdx := uint(7 - (i % 8))
	return (id[byteIdx] >> bitIdx) & 1
}

func setBit(id *ID, i int, v byte) {
	byteIdx := i / 8
	bitIdx := uint(7 - (i % 8))
	if v == 0 {
		id[byteIdx] &^= 1 << bitIdx
	} else {
		id[byteIdx] |= 1 << bitIdx
	}
}

// BitsEqual reports whether a and b agree in their first n most
// significant bits; n <= 0 always holds and n is capped at 256. It is
// monotone in n (spec.md §8): if it holds for n it need not hold for n+1,
// but if BitsEqual(a,b,n) is false, then BitsEqual(a,b,m) is false for
// every m >= n.
func BitsEqual(a, b ID, n int) bool {
	if n <= 0 {
		return true
	}
	if n > 256 {
		n = 256
	}
	fullBytes := n / 8
	if fullBytes > 0 && !bytes.Equal(a[:fullBytes], b[:fullBytes]) {
		return false
	}
	rem := n % 8
	if rem == 0 {
		return true
	}
	mask := byte(0xFF << uint(8-rem))
	return a[fullBytes]&mask == b[fullBytes]&mask
}

// LeadingZeros returns the number of leading zero bits in id, used to
// locate which bucket depth a remote ID falls under relative to a local
// prefix tree root.
func (id ID) LeadingZeros() int {
	for i := 0; i < Size; i++ {
		if id[i] == 0 {
			continue
		}
		b := id[i]
		n := 0
		for mask := byte(0x80); mask != 0; mask >>= 1 {
			if b&mask != 0 {
				break
			}
			n++
		}
		return i*8 + n
	}
	return Size * 8
}

// Hex renders id as a canonical 0x-prefixed lowercase hex string.
func (id ID) Hex() string { return crypto.ToHex(id[:]) }

// Base58 renders id using the base58 alphabet.
func (id ID) Base58() string { return crypto.ToBase58(id[:]) }

// String implements fmt.Stringer using the hex form.
func (id ID) String() string { return id.Hex() }

// FromHex parses a canonical hex-encoded ID.
func FromHex(s string) (ID, error) {
	b, err := crypto.FromHex(s)
	if err != nil {
		return Zero, err
	}
	return FromBytes(b)
}

// FromBase58 parses a base58-encoded ID.
func FromBase58(s string) (ID, error) {
	b, err := crypto.FromBase58(s)
	if err != nil {
		return Zero, err
	}
	return FromBytes(b)
}
