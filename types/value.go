// Package types implements Carrier's self-certifying wire records: Value
// (immutable / signed-mutable / encrypted-mutable), PeerInfo and NodeInfo,
// per spec.md §3. Each record derives its own ID and/or validates its own
// signature, so the overlay never needs a separate PKI (spec.md §1
// Non-goals).
package types

import (
	"crypto/ed25519"
	"encoding/binary"
	"errors"

	"github.com/elastos-carrier/carrier-go/crypto"
	"github.com/elastos-carrier/carrier-go/id"
)

// Errors returned by Value's crypto and state operations.
var (
	ErrNotMutable     = errors.New("types: value is not mutable")
	ErrNotEncrypted   = errors.New("types: value is not encrypted")
	ErrMissingPrivate = errors.New("types: owner private key required for this operation")
)

// Value is a self-certifying record. The same struct represents all three
// variants from spec.md §3; PublicKey == nil means immutable, Recipient
// == nil means the mutable value is signed-but-not-encrypted.
type Value struct {
	PublicKey  ed25519.PublicKey // nil for immutable values
	PrivateKey []byte            // owner-only; never serialized to the wire
	Recipient  *id.ID            // non-nil for encrypted-mutable values
	Nonce      [24]byte
	Sequence   uint32
	Signature  []byte
	Data       []byte // ciphertext for encrypted values, plaintext otherwise
}

// IsMutable reports whether v carries a signing key (signed or
// encrypted-mutable), as opposed to a plain immutable blob.
func (v *Value) IsMutable() bool { return v.PublicKey != nil }

// IsEncrypted reports whether v's Data is sealed for a Recipient.
func (v *Value) IsEncrypted() bool { return v.Recipient != nil }

// ID computes the content address of v per spec.md §3:
// SHA-256(data) for immutable values, SHA-256(public_key || nonce)
// otherwise.
func (v *Value) ID() id.ID {
	if !v.IsMutable() {
		sum := crypto.Sum256(v.Data)
		out, _ := id.FromBytes(sum[:])
		return out
	}
	sum := crypto.Sum256(v.PublicKey, v.Nonce[:])
	out, _ := id.FromBytes(sum[:])
	return out
}

// signedPayload builds the byte string the signature covers:
// (recipient? || nonce || sequence_number || data), per spec.md §3.
func (v *Value) signedPayload() []byte {
	var buf []byte
	if v.Recipient != nil {
		buf = append(buf, v.Recipient.Bytes()...)
	}
	buf = append(buf, v.Nonce[:]...)
	var seq [4]byte
	binary.BigEndian.PutUint32(seq[:], v.Sequence)
	buf = append(buf, seq[:]...)
	buf = append(buf, v.Data...)
	return buf
}

// IsValid reports whether v is internally consistent: always true for
// immutable values, and true for mutable values iff the signature
// verifies under PublicKey.
func (v *Value) IsValid() bool {
	if !v.IsMutable() {
		return true // immutable values are self-certifying by construction
	}
	if len(v.PublicKey) != crypto.PublicKeySize || len(v.Signature) == 0 {
		return false
	}
	return crypto.Verify(v.PublicKey, v.signedPayload(), v.Signature)
}

// NewImmutableValue builds an immutable Value whose ID is SHA-256(data).
func NewImmutableValue(data []byte) *Value {
	return &Value{Data: append([]byte(nil), data...)}
}

// NewSignedValue builds and signs a mutable, unencrypted Value owned by
// the key pair (publicKey, privateKeySeed).
func NewSignedValue(publicKey ed25519.PublicKey, privateKeySeed []byte, nonce [24]byte, sequence uint32, data []byte) (*Value, error) {
	v := &Value{
		PublicKey:  append(ed25519.PublicKey(nil), publicKey...),
		PrivateKey: append([]byte(nil), privateKeySeed...),
		Nonce:      nonce,
		Sequence:   sequence,
		Data:       append([]byte(nil), data...),
	}
	sig, err := crypto.Sign(privateKeySeed, v.signedPayload())
	if err != nil {
		return nil, err
	}
	v.Signature = sig
	return v, nil
}

// NewEncryptedValue builds a mutable Value whose Data is the sealed-box
// encryption of plaintext for recipient, signed by (publicKey,
// privateKeySeed). The sender must hold their own private key to derive
// the X25519 key used for sealing (spec.md §3).
func NewEncryptedValue(publicKey ed25519.PublicKey, privateKeySeed []byte, recipient id.ID, nonce [24]byte, sequence uint32, plaintext []byte) (*Value, error) {
	senderBoxPriv, err := crypto.PrivateKeyToBox(privateKeySeed)
	if err != nil {
		return nil, err
	}
	recipientBoxPub, err := crypto.PublicKeyToBox(recipient.Bytes())
	if err != nil {
		return nil, err
	}
	sealed := crypto.Seal(plaintext, &nonce, recipientBoxPub, senderBoxPriv)

	v := &Value{
		PublicKey:  append(ed25519.PublicKey(nil), publicKey...),
		PrivateKey: append([]byte(nil), privateKeySeed...),
		Recipient:  &recipient,
		Nonce:      nonce,
		Sequence:   sequence,
		Data:       sealed,
	}
	sig, err := crypto.Sign(privateKeySeed, v.signedPayload())
	if err != nil {
		return nil, err
	}
	v.Signature = sig
	return v, nil
}

// Decrypt recovers the plaintext of an encrypted value using the
// recipient's private key seed. It fails if v is not encrypted or if
// decryption is not authentic under recipientPrivateKeySeed.
func (v *Value) Decrypt(recipientPrivateKeySeed []byte) ([]byte, error) {
	if !v.IsEncrypted() {
		return nil, ErrNotEncrypted
	}
	recipientBoxPriv, err := crypto.PrivateKeyToBox(recipientPrivateKeySeed)
	if err != nil {
		return nil, err
	}
	senderBoxPub, err := crypto.PublicKeyToBox(v.PublicKey)
	if err != nil {
		return nil, err
	}
	plaintext, ok := crypto.Open(v.Data, &v.Nonce, senderBoxPub, recipientBoxPriv)
	if !ok {
		return nil, errors.New("types: decryption failed (wrong key or tampered ciphertext)")
	}
	return plaintext, nil
}

// Update produces a new Value with Sequence = v.Sequence+1 and the given
// plaintext/ciphertext payload, preserving ID, PublicKey, Nonce and
// Recipient, per spec.md §8's update law. It requires PrivateKey to
// re-sign (and, for encrypted values, to re-seal).
func (v *Value) Update(newPayload []byte) (*Value, error) {
	if !v.IsMutable() {
		return nil, ErrNotMutable
	}
	if len(v.PrivateKey) == 0 {
		return nil, ErrMissingPrivate
	}
	if v.IsEncrypted() {
		return NewEncryptedValue(v.PublicKey, v.PrivateKey, *v.Recipient, v.Nonce, v.Sequence+1, newPayload)
	}
	return NewSignedValue(v.PublicKey, v.PrivateKey, v.Nonce, v.Sequence+1, newPayload)
}

// StripPrivateKey returns a copy of v with PrivateKey cleared, suitable
// for placing on the wire (spec.md §9: "serialize it never to the wire").
func (v *Value) StripPrivateKey() *Value {
	cp := *v
	cp.PrivateKey = nil
	return &cp
}
