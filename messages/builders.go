package messages

import "github.com/elastos-carrier/carrier-go/id"

// NewPingRequest builds a ping query envelope.
func NewPingRequest(txID uint32, version uint32) *Message {
	return &Message{Kind: KindRequest, TxID: txID, Version: version, Method: MethodPing}
}

// NewPingResponse builds an empty ping reply envelope.
func NewPingResponse(txID uint32, version uint32) *Message {
	return &Message{Kind: KindResponse, TxID: txID, Version: version, Method: MethodPing, Response: &ResponseBody{}}
}

// NewFindNodeRequest builds a find_node query for target, requesting the
// contact families and token indicated by want.
func NewFindNodeRequest(txID, version uint32, target id.ID, want uint8) *Message {
	return &Message{
		Kind: KindRequest, TxID: txID, Version: version, Method: MethodFindNode,
		Request: &RequestBody{Target: &target, Want: want},
	}
}

// NewFindNodeResponse builds a find_node reply carrying the closest
// contacts known and, if requested, a write token.
func NewFindNodeResponse(txID, version uint32, nodes4, nodes6 []Contact, token []byte) *Message {
	return &Message{
		Kind: KindResponse, TxID: txID, Version: version, Method: MethodFindNode,
		Response: &ResponseBody{Nodes4: nodes4, Nodes6: nodes6, Token: token},
	}
}

// NewFindValueRequest builds a find_value query, optionally constraining
// the response to a sequence number at or above expectedSequence.
func NewFindValueRequest(txID, version uint32, target id.ID, want uint8, expectedSequence *int64) *Message {
	return &Message{
		Kind: KindRequest, TxID: txID, Version: version, Method: MethodFindValue,
		Request: &RequestBody{Target: &target, Want: want, Sequence: expectedSequence},
	}
}

// NewFindValueResponse builds a find_value reply: either the value
// itself, or the closest contacts known, per the find_node(r) shape.
func NewFindValueResponse(txID, version uint32, nodes4, nodes6 []Contact, token []byte, value *WireValue) *Message {
	return &Message{
		Kind: KindResponse, TxID: txID, Version: version, Method: MethodFindValue,
		Response: &ResponseBody{Nodes4: nodes4, Nodes6: nodes6, Token: token, Value: value},
	}
}

// NewStoreValueRequest builds a store_value query carrying the token
// issued for the target and the value's wire encoding.
func NewStoreValueRequest(txID, version uint32, token []byte, v WireValue, cas *uint32) *Message {
	return &Message{
		Kind: KindRequest, TxID: txID, Version: version, Method: MethodStoreValue,
		Request: &RequestBody{
			Token:          token,
			PublicKey:      v.PublicKey,
			Recipient:      v.Recipient,
			Nonce:          v.Nonce,
			StoreSequence:  seqPtr(v),
			Cas:            cas,
			Value:          v.Data,
			StoreSignature: v.Signature,
		},
	}
}

func seqPtr(v WireValue) *uint32 {
	if v.PublicKey == nil {
		return nil
	}
	s := v.Sequence
	return &s
}

// NewStoreValueResponse builds an empty store_value acknowledgement.
func NewStoreValueResponse(txID, version uint32) *Message {
	return &Message{Kind: KindResponse, TxID: txID, Version: version, Method: MethodStoreValue, Response: &ResponseBody{}}
}

// NewFindPeerRequest builds a find_peer query for peerID, bounding the
// reply to at most maxPeers matching announcements.
func NewFindPeerRequest(txID, version uint32, peerID id.ID, want uint8, maxPeers int) *Message {
	return &Message{
		Kind: KindRequest, TxID: txID, Version: version, Method: MethodFindPeer,
		Request: &RequestBody{Target: &peerID, Want: want, MaxPeers: maxPeers},
	}
}

// NewFindPeerResponse builds a find_peer reply: matching peers, or the
// closest contacts known, per the find_node(r) shape.
func NewFindPeerResponse(txID, version uint32, nodes4, nodes6 []Contact, token []byte, peers []WirePeer) *Message {
	return &Message{
		Kind: KindResponse, TxID: txID, Version: version, Method: MethodFindPeer,
		Response: &ResponseBody{Nodes4: nodes4, Nodes6: nodes6, Token: token, Peers: peers},
	}
}

// NewAnnouncePeerRequest builds an announce_peer query using the token
// issued by the target node for peerID. nodeID is the node_id bound into
// the announcement's signature; originID is non-nil only for a delegated
// announcement, naming the delegate that produced it.
func NewAnnouncePeerRequest(txID, version uint32, token []byte, peerID, nodeID id.ID, originID *id.ID, port uint16, alternativeURL string, signature []byte) *Message {
	return &Message{
		Kind: KindRequest, TxID: txID, Version: version, Method: MethodAnnouncePeer,
		Request: &RequestBody{
			Token:          token,
			PeerID:         &peerID,
			PeerNodeID:     &nodeID,
			ProxyID:        originID,
			Port:           port,
			AlternativeURL: alternativeURL,
			PeerSignature:  signature,
		},
	}
}

// NewAnnouncePeerResponse builds an empty announce_peer acknowledgement.
func NewAnnouncePeerResponse(txID, version uint32) *Message {
	return &Message{Kind: KindResponse, TxID: txID, Version: version, Method: MethodAnnouncePeer, Response: &ResponseBody{}}
}

// NewErrorMessage builds an error envelope replying to txID.
func NewErrorMessage(txID, version uint32, method Method, code int, msg string) *Message {
	return &Message{
		Kind: KindError, TxID: txID, Version: version, Method: method,
		Error: &ErrorBody{Code: code, Message: msg},
	}
}
