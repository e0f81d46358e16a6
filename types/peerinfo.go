package types

import (
	"crypto/ed25519"
	"encoding/binary"

	"github.com/elastos-carrier/carrier-go/crypto"
	"github.com/elastos-carrier/carrier-go/id"
)

// PeerInfo announces that a service is reachable through a DHT node.
// PeerID is the service's own long-term identity (an Ed25519 public key
// reinterpreted as an ID, same convention as Value); NodeID is the DHT
// node currently hosting it; OriginID equals NodeID for a self-announce,
// or names the delegate when the announcement is made on another node's
// behalf.
type PeerInfo struct {
	PeerID          id.ID
	PrivateKey      []byte // owner-only; never serialized to the wire
	NodeID          id.ID
	OriginID        id.ID
	Port            uint16
	AlternativeURL  string
	HasAlternateURL bool
	Signature       []byte
}

// signedPayload builds (node_id || origin_id || port || alternative_url),
// the byte string PeerInfo's signature covers.
func (p *PeerInfo) signedPayload() []byte {
	buf := make([]byte, 0, id.Size*2+2+len(p.AlternativeURL))
	buf = append(buf, p.NodeID.Bytes()...)
	buf = append(buf, p.OriginID.Bytes()...)
	var port [2]byte
	binary.BigEndian.PutUint16(port[:], p.Port)
	buf = append(buf, port[:]...)
	if p.HasAlternateURL {
		buf = append(buf, []byte(p.AlternativeURL)...)
	}
	return buf
}

// IsValid reports whether the signature verifies under PeerID treated as
// an Ed25519 public key.
func (p *PeerInfo) IsValid() bool {
	if len(p.Signature) == 0 {
		return false
	}
	return crypto.Verify(ed25519.PublicKey(p.PeerID.Bytes()), p.signedPayload(), p.Signature)
}

// IsDelegated reports whether this announcement was made on behalf of a
// node other than the one that produced it.
func (p *PeerInfo) IsDelegated() bool { return !p.NodeID.Equal(p.OriginID) }

// NewPeerInfo builds and signs a self-announced PeerInfo owned by
// (peerPublicKey, peerPrivateKeySeed): node_id and origin_id are both
// nodeID.
func NewPeerInfo(peerPublicKey ed25519.PublicKey, peerPrivateKeySeed []byte, nodeID id.ID, port uint16, alternativeURL string) (*PeerInfo, error) {
	return NewDelegatedPeerInfo(peerPublicKey, peerPrivateKeySeed, nodeID, nodeID, port, alternativeURL)
}

// NewDelegatedPeerInfo builds and signs a PeerInfo announced on behalf of
// another node: nodeID is where the service is reachable, originID is the
// delegate that produced the announcement. Both are bound into the
// signature, so a delegated announcement cannot later be re-attributed to
// a different node_id without re-signing.
func NewDelegatedPeerInfo(peerPublicKey ed25519.PublicKey, peerPrivateKeySeed []byte, nodeID, originID id.ID, port uint16, alternativeURL string) (*PeerInfo, error) {
	peerID, err := id.FromPublicKey(peerPublicKey)
	if err != nil {
		return nil, err
	}
	p := &PeerInfo{
		PeerID:          peerID,
		PrivateKey:      append([]byte(nil), peerPrivateKeySeed...),
		NodeID:          nodeID,
		OriginID:        originID,
		Port:            port,
		AlternativeURL:  alternativeURL,
		HasAlternateURL: alternativeURL != "",
	}
	sig, err := crypto.Sign(peerPrivateKeySeed, p.signedPayload())
	if err != nil {
		return nil, err
	}
	p.Signature = sig
	return p, nil
}

// StripPrivateKey returns a copy of p with PrivateKey cleared, suitable
// for placing on the wire.
func (p *PeerInfo) StripPrivateKey() *PeerInfo {
	cp := *p
	cp.PrivateKey = nil
	return &cp
}
