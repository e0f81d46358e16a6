package crypto

import (
	"bytes"
	"testing"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	data := []byte("hello carrier")
	sig, err := Sign(priv, data)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !Verify(pub, data, sig) {
		t.Fatal("Verify: expected valid signature")
	}
	if Verify(pub, []byte("tampered"), sig) {
		t.Fatal("Verify: expected invalid signature for tampered data")
	}
}

func TestPublicKeyFromPrivateKey(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	derived, err := PublicKeyFromPrivateKey(priv)
	if err != nil {
		t.Fatalf("PublicKeyFromPrivateKey: %v", err)
	}
	if !bytes.Equal(pub, derived) {
		t.Fatal("derived public key does not match generated public key")
	}
}

func TestBoxKeyConversionAndSeal(t *testing.T) {
	senderPub, senderPriv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	recipientPub, recipientPriv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	senderBoxPriv, err := PrivateKeyToBox(senderPriv)
	if err != nil {
		t.Fatalf("PrivateKeyToBox: %v", err)
	}
	senderBoxPub, err := PublicKeyToBox(senderPub)
	if err != nil {
		t.Fatalf("PublicKeyToBox: %v", err)
	}
	if derived, err := DerivedPublicKey(senderBoxPriv); err != nil || !bytes.Equal(derived[:], senderBoxPub[:]) {
		t.Fatalf("DerivedPublicKey mismatch: err=%v", err)
	}

	recipientBoxPriv, err := PrivateKeyToBox(recipientPriv)
	if err != nil {
		t.Fatalf("PrivateKeyToBox: %v", err)
	}
	recipientBoxPub, err := PublicKeyToBox(recipientPub)
	if err != nil {
		t.Fatalf("PublicKeyToBox: %v", err)
	}

	nonce, err := RandomNonce()
	if err != nil {
		t.Fatalf("RandomNonce: %v", err)
	}
	plaintext := []byte("only the recipient should read this")
	sealed := Seal(plaintext, &nonce, recipientBoxPub, senderBoxPriv)

	opened, ok := Open(sealed, &nonce, senderBoxPub, recipientBoxPriv)
	if !ok {
		t.Fatal("Open: expected successful decryption by recipient")
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("Open: got %q, want %q", opened, plaintext)
	}

	// Any other private key must fail to decrypt.
	_, otherPriv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	otherBoxPriv, err := PrivateKeyToBox(otherPriv)
	if err != nil {
		t.Fatalf("PrivateKeyToBox: %v", err)
	}
	if _, ok := Open(sealed, &nonce, senderBoxPub, otherBoxPriv); ok {
		t.Fatal("Open: expected decryption failure under wrong key")
	}
}

func TestHexRoundTrip(t *testing.T) {
	b := []byte{0xde, 0xad, 0xbe, 0xef}
	s := ToHex(b)
	if s != "0xdeadbeef" {
		t.Fatalf("ToHex: got %q", s)
	}
	got, err := FromHex(s)
	if err != nil || !bytes.Equal(got, b) {
		t.Fatalf("FromHex: got %x, err %v", got, err)
	}
}

func TestBase58RoundTrip(t *testing.T) {
	b, err := RandomBytes(32)
	if err != nil {
		t.Fatalf("RandomBytes: %v", err)
	}
	s := ToBase58(b)
	got, err := FromBase58(s)
	if err != nil || !bytes.Equal(got, b) {
		t.Fatalf("FromBase58: got %x, err %v", got, err)
	}
}
