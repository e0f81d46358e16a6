// Package messages implements the CBOR wire schema exchanged between
// Carrier DHT nodes: request/response/error envelopes for ping,
// find_node, find_value, store_value, find_peer and announce_peer.
package messages

import (
	"net"

	"github.com/elastos-carrier/carrier-go/id"
)

// Kind distinguishes the three envelope shapes.
type Kind string

const (
	KindRequest  Kind = "q"
	KindResponse Kind = "r"
	KindError    Kind = "e"
)

// Method names the RPC being invoked, carried on every envelope so a
// response or error can be dispatched without replaying request state.
type Method string

const (
	MethodPing         Method = "ping"
	MethodFindNode     Method = "find_node"
	MethodFindValue    Method = "find_value"
	MethodStoreValue   Method = "store_value"
	MethodFindPeer     Method = "find_peer"
	MethodAnnouncePeer Method = "announce_peer"
)

// Want mask bits requested by find_node/find_value/find_peer.
const (
	WantIPv4  uint8 = 1 << 0
	WantIPv6  uint8 = 1 << 1
	WantToken uint8 = 1 << 2
)

// Contact is a compact node reference: `[id, inet_bytes, port]`.
type Contact struct {
	ID   id.ID     `cbor:"0,keyasint"`
	IP   []byte    `cbor:"1,keyasint"`
	Port uint16    `cbor:"2,keyasint"`
}

// ToUDPAddr renders the contact as a resolved *net.UDPAddr.
func (c Contact) ToUDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.IP(c.IP), Port: int(c.Port)}
}

// ContactFrom builds a Contact from an ID and UDP address.
func ContactFrom(nodeID id.ID, addr *net.UDPAddr) Contact {
	ip := addr.IP.To4()
	if ip == nil {
		ip = addr.IP.To16()
	}
	return Contact{ID: nodeID, IP: ip, Port: uint16(addr.Port)}
}

// Message is the top-level envelope. Exactly one of Request, Response or
// Error is populated, selected by Kind.
type Message struct {
	Kind     Kind          `cbor:"y"`
	TxID     uint32        `cbor:"t"`
	Version  uint32        `cbor:"v"`
	Method   Method        `cbor:"m"`
	Request  *RequestBody  `cbor:"q,omitempty"`
	Response *ResponseBody `cbor:"r,omitempty"`
	Error    *ErrorBody    `cbor:"e,omitempty"`
}

// ErrorBody carries a protocol-level error: `(code, message)`.
type ErrorBody struct {
	Code    int    `cbor:"0,keyasint"`
	Message string `cbor:"1,keyasint"`
}

// RequestBody is a superset of the fields any single request method
// populates; unused fields are omitted from the wire form.
type RequestBody struct {
	Target     *id.ID `cbor:"t,omitempty"`   // find_node / find_value / find_peer
	Want       uint8  `cbor:"w,omitempty"`   // find_node / find_value / find_peer
	Sequence   *int64 `cbor:"seq,omitempty"` // find_value: expected sequence, -1/omitted for any
	MaxPeers   int    `cbor:"mp,omitempty"`  // find_peer

	Token          []byte `cbor:"tok,omitempty"` // store_value / announce_peer
	PublicKey      []byte `cbor:"k,omitempty"`   // store_value
	Recipient      []byte `cbor:"rec,omitempty"` // store_value
	Nonce          []byte `cbor:"n,omitempty"`   // store_value
	StoreSequence  *uint32 `cbor:"sq,omitempty"`  // store_value
	Cas            *uint32 `cbor:"cas,omitempty"` // store_value
	Value          []byte `cbor:"v,omitempty"`    // store_value: payload
	StoreSignature []byte `cbor:"sig,omitempty"`  // store_value

	PeerID         *id.ID `cbor:"pt,omitempty"`  // announce_peer: peer_id
	PeerNodeID     *id.ID `cbor:"pnid,omitempty"` // announce_peer: node_id (signed, may differ from peer_id)
	ProxyID        *id.ID `cbor:"pn,omitempty"`  // announce_peer: origin_id, present only when delegated
	Port           uint16 `cbor:"p,omitempty"`   // announce_peer
	AlternativeURL string `cbor:"alt,omitempty"` // announce_peer
	PeerSignature  []byte `cbor:"psig,omitempty"`
}

// ResponseBody is a superset of the fields any single response method
// populates.
type ResponseBody struct {
	Nodes4 []Contact `cbor:"n4,omitempty"`
	Nodes6 []Contact `cbor:"n6,omitempty"`
	Token  []byte    `cbor:"tok,omitempty"`

	Value *WireValue `cbor:"val,omitempty"` // find_value

	Peers []WirePeer `cbor:"peers,omitempty"` // find_peer
}

// WireValue is a Value serialized for the wire, never carrying the
// owner's private key.
type WireValue struct {
	PublicKey []byte `cbor:"k,omitempty"`
	Recipient []byte `cbor:"rec,omitempty"`
	Nonce     []byte `cbor:"n,omitempty"`
	Sequence  uint32 `cbor:"seq,omitempty"`
	Signature []byte `cbor:"sig,omitempty"`
	Data      []byte `cbor:"data"`
}

// WirePeer is a PeerInfo serialized for the wire: a leading peer_id
// element plus `[node_id, origin_id?, port, alt_url?, signature]`.
type WirePeer struct {
	PeerID         id.ID  `cbor:"pid"`
	NodeID         id.ID  `cbor:"nid"`
	OriginID       *id.ID `cbor:"oid,omitempty"`
	Port           uint16 `cbor:"p"`
	AlternativeURL string `cbor:"alt,omitempty"`
	Signature      []byte `cbor:"sig"`
}
