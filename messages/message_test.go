package messages

import (
	"bytes"
	"net"
	"testing"

	"github.com/elastos-carrier/carrier-go/id"
)

func mustID(t *testing.T) id.ID {
	t.Helper()
	v, err := id.Random()
	if err != nil {
		t.Fatalf("Random: %v", err)
	}
	return v
}

func TestPingRoundTrip(t *testing.T) {
	m := NewPingRequest(42, 0x0100)
	b, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Kind != KindRequest || decoded.Method != MethodPing || decoded.TxID != 42 {
		t.Fatalf("unexpected decoded envelope: %+v", decoded)
	}
}

func TestFindNodeRoundTrip(t *testing.T) {
	target := mustID(t)
	m := NewFindNodeRequest(7, 1, target, WantIPv4|WantToken)
	b, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Request == nil || decoded.Request.Target == nil || *decoded.Request.Target != target {
		t.Fatalf("find_node request target mismatch: %+v", decoded.Request)
	}
	if decoded.Request.Want != WantIPv4|WantToken {
		t.Fatalf("want mask mismatch: got %d", decoded.Request.Want)
	}
}

func TestFindNodeResponseRoundTripWithContacts(t *testing.T) {
	n1 := ContactFrom(mustID(t), &net.UDPAddr{IP: net.ParseIP("203.0.113.1"), Port: 4000})
	n2 := ContactFrom(mustID(t), &net.UDPAddr{IP: net.ParseIP("203.0.113.2"), Port: 4001})
	m := NewFindNodeResponse(7, 1, []Contact{n1, n2}, nil, []byte("token"))
	b, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded.Response.Nodes4) != 2 {
		t.Fatalf("expected 2 ipv4 contacts, got %d", len(decoded.Response.Nodes4))
	}
	if decoded.Response.Nodes4[0].ID != n1.ID || !bytes.Equal(decoded.Response.Nodes4[0].IP, n1.IP) {
		t.Fatalf("contact round trip mismatch: got %+v want %+v", decoded.Response.Nodes4[0], n1)
	}
	if !bytes.Equal(decoded.Response.Token, []byte("token")) {
		t.Fatalf("token round trip mismatch: got %q", decoded.Response.Token)
	}
}

func TestStoreValueRequestRoundTrip(t *testing.T) {
	wv := WireValue{PublicKey: []byte("pub"), Nonce: []byte("nonce-24-bytes-padded-out-abc"), Sequence: 3, Signature: []byte("sig"), Data: []byte("payload")}
	cas := uint32(2)
	m := NewStoreValueRequest(9, 1, []byte("tok"), wv, &cas)
	b, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	req := decoded.Request
	if !bytes.Equal(req.PublicKey, wv.PublicKey) || !bytes.Equal(req.Nonce, wv.Nonce) {
		t.Fatalf("store_value request fields mismatch: %+v", req)
	}
	if req.StoreSequence == nil || *req.StoreSequence != wv.Sequence {
		t.Fatalf("store_value sequence mismatch: %+v", req.StoreSequence)
	}
	if req.Cas == nil || *req.Cas != cas {
		t.Fatalf("store_value cas mismatch: %+v", req.Cas)
	}
	if !bytes.Equal(req.Value, wv.Data) {
		t.Fatalf("store_value payload mismatch: got %q", req.Value)
	}
}

func TestFindPeerResponseRoundTrip(t *testing.T) {
	peerID, nodeID := mustID(t), mustID(t)
	wp := WirePeer{PeerID: peerID, NodeID: nodeID, Port: 1234, Signature: []byte("sig")}
	m := NewFindPeerResponse(11, 1, nil, nil, nil, []WirePeer{wp})
	b, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded.Response.Peers) != 1 {
		t.Fatalf("expected 1 peer, got %d", len(decoded.Response.Peers))
	}
	got := decoded.Response.Peers[0]
	if got.PeerID != peerID || got.NodeID != nodeID || got.Port != 1234 {
		t.Fatalf("peer round trip mismatch: got %+v", got)
	}
}

func TestAnnouncePeerRoundTrip(t *testing.T) {
	peerID, nodeID := mustID(t), mustID(t)
	m := NewAnnouncePeerRequest(13, 1, []byte("tok"), peerID, nodeID, nil, 9999, "https://example.invalid", []byte("sig"))
	b, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	req := decoded.Request
	if req.PeerID == nil || *req.PeerID != peerID || req.Port != 9999 {
		t.Fatalf("announce_peer request mismatch: %+v", req)
	}
	if req.AlternativeURL != "https://example.invalid" {
		t.Fatalf("alternative url mismatch: %q", req.AlternativeURL)
	}
}

func TestErrorMessageRoundTrip(t *testing.T) {
	m := NewErrorMessage(5, 1, MethodFindNode, 201, "server error")
	b, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Kind != KindError || decoded.Error.Code != 201 || decoded.Error.Message != "server error" {
		t.Fatalf("error envelope mismatch: %+v", decoded.Error)
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	m := NewPingRequest(1, 1)
	b, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// Corrupt the kind byte-for-byte is brittle against CBOR's layout, so
	// instead round-trip through a map with a bogus "y" to build a message
	// Decode must reject.
	bad := map[string]interface{}{"y": "z", "t": 1, "v": 1, "m": "ping"}
	corrupted, err := encMode.Marshal(bad)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := Decode(corrupted); err == nil {
		t.Fatal("Decode should reject an unknown envelope kind")
	}
	_ = b
}
