// Package crypto provides the cryptographic primitives Carrier's data
// model is built on: Ed25519 signing, X25519-derived sealed-box
// encryption, SHA-256 content addressing, and the hex/base58 codecs used
// for human-readable identifiers. It follows the teacher's pattern of
// keeping all crypto plumbing in one leaf package that the rest of the
// module imports but never reimplements (see crypto/crypto_test.go in the
// teacher tree, which exercises the equivalent secp256k1 surface).
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
)

// PublicKeySize and PrivateKeySize are the lengths in bytes of an Ed25519
// public key and private seed (the public key length is also that of a
// Carrier node/value identifier); SignatureSize is that of a signature.
const (
	PublicKeySize  = ed25519.PublicKeySize
	PrivateKeySize = ed25519.SeedSize
	SignatureSize  = ed25519.SignatureSize
)

// GenerateKeyPair creates a new random Ed25519 signing key pair. The
// returned private key is the 32-byte seed, not the expanded 64-byte form
// — Carrier never persists or transmits the expanded form.
func GenerateKeyPair() (publicKey ed25519.PublicKey, privateKey []byte, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	return pub, priv.Seed(), nil
}

// PublicKeyFromPrivateKey derives the public key from a 32-byte seed.
func PublicKeyFromPrivateKey(seed []byte) (ed25519.PublicKey, error) {
	if len(seed) != PrivateKeySize {
		return nil, errors.New("crypto: invalid private key seed length")
	}
	return ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey), nil
}

// Sign signs data with the Ed25519 private key derived from seed.
func Sign(seed []byte, data []byte) ([]byte, error) {
	if len(seed) != PrivateKeySize {
		return nil, errors.New("crypto: invalid private key seed length")
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return ed25519.Sign(priv, data), nil
}

// Verify reports whether sig is a valid Ed25519 signature of data under
// publicKey.
func Verify(publicKey ed25519.PublicKey, data, sig []byte) bool {
	if len(publicKey) != PublicKeySize || len(sig) != SignatureSize {
		return false
	}
	return ed25519.Verify(publicKey, data, sig)
}
