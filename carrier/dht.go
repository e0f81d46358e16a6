package carrier

import (
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/elastos-carrier/carrier-go/id"
	"github.com/elastos-carrier/carrier-go/kbucket"
	"github.com/elastos-carrier/carrier-go/logger"
	"github.com/elastos-carrier/carrier-go/messages"
	"github.com/elastos-carrier/carrier-go/rpc"
	"github.com/elastos-carrier/carrier-go/storage"
	"github.com/elastos-carrier/carrier-go/task"
	"github.com/elastos-carrier/carrier-go/types"
)

var log = logger.NewLogger("carrier")

// dhtInstance is one address family's DHT: its own socket, routing table
// and task manager, sharing the owning Node's storage, keypair and token
// secret (spec.md §4.5). mu is the single cooperative scheduler lock for
// this instance (spec.md §5): every public-API entry point and every
// maintenance action holds it, and it is armed on the transport via
// SetDispatchLock so inbound datagrams serialize against the same lock
// from the ServeLoop goroutine.
type dhtInstance struct {
	mu sync.Mutex

	family    string // "ipv4" or "ipv6", for logging
	wantBit   uint8
	localID   id.ID
	conn      *net.UDPConn
	transport *rpc.Transport
	table     *kbucket.RoutingTable
	manager   *task.Manager

	store  *storage.Store
	tokens *rpc.TokenManager

	bootstrap       []types.NodeInfo
	lastBootstrapAt time.Time
	started         bool

	closed chan struct{}
}

// newDHTInstance binds addr and wires the RPC/table/task layers together,
// but does not start ServeLoop — the caller (Node.start) does that once
// every instance is constructed.
func newDHTInstance(family string, wantBit uint8, localID id.ID, addr *net.UDPAddr, store *storage.Store, tokens *rpc.TokenManager, bootstrap []types.NodeInfo) (*dhtInstance, error) {
	conn, err := net.ListenUDP(addr.Network(), addr)
	if err != nil {
		return nil, wrapErr(KindIO, "listen", err)
	}
	d := &dhtInstance{
		family:    family,
		wantBit:   wantBit,
		localID:   localID,
		conn:      conn,
		table:     kbucket.NewRoutingTable(localID),
		manager:   task.NewManager(),
		store:     store,
		tokens:    tokens,
		bootstrap: bootstrap,
		closed:    make(chan struct{}),
	}
	d.transport = rpc.NewTransport(conn, d.handleRequest)
	d.transport.SetDispatchLock(&d.mu)
	return d, nil
}

func (d *dhtInstance) start() {
	d.mu.Lock()
	d.started = true
	d.mu.Unlock()
	go d.transport.ServeLoop()
}

func (d *dhtInstance) stop() {
	close(d.closed)
	d.transport.Close()
}

// seedCandidates returns the local routing table's closest known entries
// to target, the per-lookup seed set (spec.md §4.3).
func (d *dhtInstance) seedCandidates(target id.ID) []types.NodeInfo {
	entries := d.table.ClosestEntries(target, 2*kbucket.K)
	out := make([]types.NodeInfo, len(entries))
	for i, e := range entries {
		out[i] = e.NodeInfo
	}
	return out
}

// checkTimeouts runs the DHT-update tick's call-aging pass. Must be
// called with mu held.
func (d *dhtInstance) checkTimeouts(now time.Time) {
	d.transport.CheckTimeouts(now)
}

// issueToken derives the write token owed to addr, encoded for the wire.
func (d *dhtInstance) issueToken(addr *net.UDPAddr) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], d.tokens.Issue(addr))
	return b[:]
}

func (d *dhtInstance) validateToken(addr *net.UDPAddr, token []byte) bool {
	if len(token) != 4 {
		return false
	}
	return d.tokens.Validate(addr, binary.BigEndian.Uint32(token))
}

// handleRequest is the rpc.RequestHandler for this instance: it runs on
// the ServeLoop goroutine with d.mu already held (armed via
// SetDispatchLock) and dispatches by method. It does not add the sender
// to the routing table.
func (d *dhtInstance) handleRequest(from *net.UDPAddr, req *messages.Message) *messages.Message {
	if req.Request == nil && req.Method != messages.MethodPing {
		return errProtocol(req)
	}

	var reply *messages.Message
	switch req.Method {
	case messages.MethodPing:
		reply = messages.NewPingResponse(req.TxID, nodeVersion)
	case messages.MethodFindNode:
		reply = d.handleFindNode(from, req)
	case messages.MethodFindValue:
		reply = d.handleFindValue(from, req)
	case messages.MethodStoreValue:
		reply = d.handleStoreValue(from, req)
	case messages.MethodFindPeer:
		reply = d.handleFindPeer(from, req)
	case messages.MethodAnnouncePeer:
		reply = d.handleAnnouncePeer(from, req)
	default:
		return messages.NewErrorMessage(req.TxID, nodeVersion, req.Method, codeMethodUnknown, "unknown method")
	}

	return reply
}

func errProtocol(req *messages.Message) *messages.Message {
	return messages.NewErrorMessage(req.TxID, nodeVersion, req.Method, codeProtocolError, "malformed request")
}

// closestContacts renders the K closest known contacts to target as
// wire Contact lists, split by family the way find_node(r)/find_value(r)
// transmit them: this instance's own table only ever holds peers of its
// own address family, so all results land in the matching slot.
func (d *dhtInstance) closestContacts(target id.ID) ([]messages.Contact, []messages.Contact) {
	entries := d.table.ClosestEntries(target, kbucket.K)
	contacts := make([]messages.Contact, 0, len(entries))
	for _, e := range entries {
		contacts = append(contacts, messages.ContactFrom(e.ID, e.Addr))
	}
	if d.family == "ipv6" {
		return nil, contacts
	}
	return contacts, nil
}

func (d *dhtInstance) handleFindNode(from *net.UDPAddr, req *messages.Message) *messages.Message {
	if req.Request.Target == nil {
		return errProtocol(req)
	}
	n4, n6 := d.closestContacts(*req.Request.Target)
	var token []byte
	if req.Request.Want&messages.WantToken != 0 {
		token = d.issueToken(from)
	}
	return messages.NewFindNodeResponse(req.TxID, nodeVersion, n4, n6, token)
}

func (d *dhtInstance) handleFindValue(from *net.UDPAddr, req *messages.Message) *messages.Message {
	if req.Request.Target == nil {
		return errProtocol(req)
	}
	target := *req.Request.Target
	v, err := d.store.GetValue(target)
	if err != nil {
		log.Warnf("%s: find_value lookup: %v", d.family, err)
	}
	var token []byte
	if req.Request.Want&messages.WantToken != 0 {
		token = d.issueToken(from)
	}
	if v != nil && satisfiesSequence(v, req.Request.Sequence) {
		wv := task.ToWireValue(v)
		return messages.NewFindValueResponse(req.TxID, nodeVersion, nil, nil, token, &wv)
	}
	n4, n6 := d.closestContacts(target)
	return messages.NewFindValueResponse(req.TxID, nodeVersion, n4, n6, token, nil)
}

func satisfiesSequence(v *types.Value, expected *int64) bool {
	if expected == nil || *expected < 0 {
		return true
	}
	return int64(v.Sequence) >= *expected
}

func (d *dhtInstance) handleStoreValue(from *net.UDPAddr, req *messages.Message) *messages.Message {
	if !d.validateToken(from, req.Request.Token) {
		return messages.NewErrorMessage(req.TxID, nodeVersion, req.Method, codeProtocolError, "invalid or expired token")
	}
	v := &types.Value{
		Nonce:     toNonce(req.Request.Nonce),
		Signature: req.Request.StoreSignature,
		Data:      req.Request.Value,
	}
	if len(req.Request.PublicKey) > 0 {
		v.PublicKey = append([]byte(nil), req.Request.PublicKey...)
		if req.Request.StoreSequence != nil {
			v.Sequence = *req.Request.StoreSequence
		}
	}
	if len(req.Request.Recipient) > 0 {
		rid, err := id.FromBytes(req.Request.Recipient)
		if err != nil {
			return errProtocol(req)
		}
		v.Recipient = &rid
	}

	var cas *int64
	if req.Request.Cas != nil {
		c := int64(*req.Request.Cas)
		cas = &c
	}
	if err := d.store.PutValue(v, cas, false, time.Now()); err != nil {
		return storeErrorResponse(req, err)
	}
	return messages.NewStoreValueResponse(req.TxID, nodeVersion)
}

func storeErrorResponse(req *messages.Message, err error) *messages.Message {
	switch err {
	case storage.ErrInvalidValue:
		return messages.NewErrorMessage(req.TxID, nodeVersion, req.Method, codeInvalidSig, "value does not validate")
	case storage.ErrCASMismatch, storage.ErrStaleSequence:
		return messages.NewErrorMessage(req.TxID, nodeVersion, req.Method, codeCASMismatch, err.Error())
	default:
		return messages.NewErrorMessage(req.TxID, nodeVersion, req.Method, codeServerError, err.Error())
	}
}

func toNonce(b []byte) [24]byte {
	var n [24]byte
	copy(n[:], b)
	return n
}

func (d *dhtInstance) handleFindPeer(from *net.UDPAddr, req *messages.Message) *messages.Message {
	if req.Request.Target == nil {
		return errProtocol(req)
	}
	target := *req.Request.Target
	limit := req.Request.MaxPeers
	if limit <= 0 {
		limit = kbucket.K
	}
	peers, err := d.store.GetPeers(target, limit)
	if err != nil {
		log.Warnf("%s: find_peer lookup: %v", d.family, err)
	}
	var token []byte
	if req.Request.Want&messages.WantToken != 0 {
		token = d.issueToken(from)
	}
	if len(peers) > 0 {
		wp := make([]messages.WirePeer, len(peers))
		for i, p := range peers {
			wp[i] = toWirePeer(p)
		}
		return messages.NewFindPeerResponse(req.TxID, nodeVersion, nil, nil, token, wp)
	}
	n4, n6 := d.closestContacts(target)
	return messages.NewFindPeerResponse(req.TxID, nodeVersion, n4, n6, token, nil)
}

func toWirePeer(p *types.PeerInfo) messages.WirePeer {
	wp := messages.WirePeer{
		PeerID:    p.PeerID,
		NodeID:    p.NodeID,
		Port:      p.Port,
		Signature: p.Signature,
	}
	if p.IsDelegated() {
		origin := p.OriginID
		wp.OriginID = &origin
	}
	if p.HasAlternateURL {
		wp.AlternativeURL = p.AlternativeURL
	}
	return wp
}

// handleAnnouncePeer validates the token and signature, reconstructs the
// exact PeerInfo the announcer signed (peer_id, the wire-carried node_id,
// and an origin_id equal to node_id unless a proxy_id was sent), and
// stores it under (peer_id, origin_id).
func (d *dhtInstance) handleAnnouncePeer(from *net.UDPAddr, req *messages.Message) *messages.Message {
	if req.Request.PeerID == nil || req.Request.PeerNodeID == nil {
		return errProtocol(req)
	}
	if !d.validateToken(from, req.Request.Token) {
		return messages.NewErrorMessage(req.TxID, nodeVersion, req.Method, codeProtocolError, "invalid or expired token")
	}

	nodeID := *req.Request.PeerNodeID
	originID := nodeID
	if req.Request.ProxyID != nil {
		originID = *req.Request.ProxyID
	}
	p := &types.PeerInfo{
		PeerID:          *req.Request.PeerID,
		NodeID:          nodeID,
		OriginID:        originID,
		Port:            req.Request.Port,
		AlternativeURL:  req.Request.AlternativeURL,
		HasAlternateURL: req.Request.AlternativeURL != "",
		Signature:       req.Request.PeerSignature,
	}
	if err := d.store.PutPeer(p, false, time.Now()); err != nil {
		return storeErrorResponse(req, err)
	}
	return messages.NewAnnouncePeerResponse(req.TxID, nodeVersion)
}
