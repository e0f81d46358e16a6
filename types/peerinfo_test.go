package types

import (
	"testing"

	"github.com/elastos-carrier/carrier-go/id"
)

func TestSelfAnnouncedPeerInfoValid(t *testing.T) {
	pub, priv := mustKeyPair(t)
	nodeID, err := id.Random()
	if err != nil {
		t.Fatalf("Random: %v", err)
	}
	p, err := NewPeerInfo(pub, priv, nodeID, 1234, "")
	if err != nil {
		t.Fatalf("NewPeerInfo: %v", err)
	}
	if !p.IsValid() {
		t.Fatal("freshly signed peer info should be valid")
	}
	if p.IsDelegated() {
		t.Fatal("self-announced peer info should not be delegated")
	}
}

func TestDelegatedPeerInfoValid(t *testing.T) {
	pub, priv := mustKeyPair(t)
	hostID, err := id.Random()
	if err != nil {
		t.Fatalf("Random: %v", err)
	}
	delegateID, err := id.Random()
	if err != nil {
		t.Fatalf("Random: %v", err)
	}
	p, err := NewDelegatedPeerInfo(pub, priv, hostID, delegateID, 4567, "https://example.invalid/alt")
	if err != nil {
		t.Fatalf("NewDelegatedPeerInfo: %v", err)
	}
	if !p.IsValid() {
		t.Fatal("freshly signed delegated peer info should be valid")
	}
	if !p.IsDelegated() {
		t.Fatal("peer info with differing node/origin ids should be delegated")
	}
}

func TestPeerInfoTamperInvalidatesSignature(t *testing.T) {
	pub, priv := mustKeyPair(t)
	nodeID, err := id.Random()
	if err != nil {
		t.Fatalf("Random: %v", err)
	}
	p, err := NewPeerInfo(pub, priv, nodeID, 1234, "")
	if err != nil {
		t.Fatalf("NewPeerInfo: %v", err)
	}
	p.Port = 9999
	if p.IsValid() {
		t.Fatal("tampering with a signed field should invalidate the signature")
	}
}

func TestPeerInfoStripPrivateKey(t *testing.T) {
	pub, priv := mustKeyPair(t)
	nodeID, err := id.Random()
	if err != nil {
		t.Fatalf("Random: %v", err)
	}
	p, err := NewPeerInfo(pub, priv, nodeID, 1234, "")
	if err != nil {
		t.Fatalf("NewPeerInfo: %v", err)
	}
	stripped := p.StripPrivateKey()
	if stripped.PrivateKey != nil {
		t.Fatal("StripPrivateKey should clear the private key")
	}
	if !stripped.IsValid() {
		t.Fatal("stripping the private key should not affect validity")
	}
}
