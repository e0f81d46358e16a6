package crypto

import (
	"crypto/sha512"
	"errors"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// BoxKeySize is the length in bytes of an X25519 key, shared by both the
// public and private forms.
const BoxKeySize = 32

// NonceSize is the length in bytes of the XSalsa20-Poly1305 nonce, equal
// to the Value.Nonce field's width (spec.md §3).
const NonceSize = 24

// PublicKeyToBox converts an Ed25519 public key to its Curve25519
// (X25519) counterpart, using the standard birational map between the
// twisted Edwards curve and the Montgomery curve: the X25519 public key
// is the Montgomery u-coordinate of the same curve point.
func PublicKeyToBox(ed25519PublicKey []byte) (*[BoxKeySize]byte, error) {
	if len(ed25519PublicKey) != PublicKeySize {
		return nil, errors.New("crypto: invalid ed25519 public key length")
	}
	p, err := new(edwards25519.Point).SetBytes(ed25519PublicKey)
	if err != nil {
		return nil, errors.New("crypto: public key is not a valid curve point")
	}
	var out [BoxKeySize]byte
	copy(out[:], p.BytesMontgomery())
	return &out, nil
}

// PrivateKeyToBox converts an Ed25519 private key seed to its Curve25519
// counterpart: the X25519 scalar is the clamped low half of
// SHA-512(seed), exactly as libsodium's crypto_sign_ed25519_sk_to_curve25519
// derives it.
func PrivateKeyToBox(ed25519PrivateKeySeed []byte) (*[BoxKeySize]byte, error) {
	if len(ed25519PrivateKeySeed) != PrivateKeySize {
		return nil, errors.New("crypto: invalid ed25519 private key length")
	}
	h := sha512.Sum512(ed25519PrivateKeySeed)
	var out [BoxKeySize]byte
	copy(out[:], h[:BoxKeySize])
	clamp(&out)
	return &out, nil
}

func clamp(s *[BoxKeySize]byte) {
	s[0] &= 248
	s[31] &= 127
	s[31] |= 64
}

// DerivedPublicKey returns the X25519 public key corresponding to a
// Curve25519 private scalar, used when only the private side is known
// (e.g. to sanity-check a locally held key pair).
func DerivedPublicKey(boxPrivateKey *[BoxKeySize]byte) (*[BoxKeySize]byte, error) {
	var out [BoxKeySize]byte
	pub, err := curve25519.X25519(boxPrivateKey[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	copy(out[:], pub)
	return &out, nil
}

// Seal encrypts plaintext for recipientBoxPublicKey using the sender's
// Curve25519 private key and the given nonce, per spec.md §3: "the stored
// data is the sealed-box encryption of the plaintext ... under the x25519
// key derived from public_key/recipient. Nonce is shared with the outer
// record." This is libsodium's crypto_box primitive (X25519 ECDH +
// XSalsa20-Poly1305), not crypto_box_seal — there is no ephemeral key
// because the long-term sender key already travels with the record as
// Value.PublicKey.
func Seal(plaintext []byte, nonce *[NonceSize]byte, recipientBoxPublicKey, senderBoxPrivateKey *[BoxKeySize]byte) []byte {
	return box.Seal(nil, plaintext, nonce, recipientBoxPublicKey, senderBoxPrivateKey)
}

// Open decrypts a record produced by Seal. It returns (nil, false) if
// authentication fails.
func Open(sealed []byte, nonce *[NonceSize]byte, senderBoxPublicKey, recipientBoxPrivateKey *[BoxKeySize]byte) ([]byte, bool) {
	return box.Open(nil, sealed, nonce, senderBoxPublicKey, recipientBoxPrivateKey)
}

// RandomNonce returns a fresh random nonce suitable for both signing
// (Value.Nonce) and sealing.
func RandomNonce() ([NonceSize]byte, error) {
	var n [NonceSize]byte
	if err := randRead(n[:]); err != nil {
		return n, err
	}
	return n, nil
}
