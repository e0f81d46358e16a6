package carrier

import (
	"context"
	"crypto/ed25519"
	"errors"
	"sort"
	"time"

	"github.com/elastos-carrier/carrier-go/crypto"
	"github.com/elastos-carrier/carrier-go/id"
	"github.com/elastos-carrier/carrier-go/kbucket"
	"github.com/elastos-carrier/carrier-go/messages"
	"github.com/elastos-carrier/carrier-go/rpc"
	"github.com/elastos-carrier/carrier-go/storage"
	"github.com/elastos-carrier/carrier-go/task"
	"github.com/elastos-carrier/carrier-go/types"
)

var (
	errNoAcceptingTarget = errors.New("no target accepted the write")
	errNoSuchFamily      = errors.New("no dht instance for that address family")
)

// nodeVersion is this implementation's wire version stamp: a two-letter
// name code packed with a numeric revision, per spec.md §6's `v` field.
const nodeVersion = uint32('C')<<24 | uint32('G')<<16 | 1

// Node composes up to two dhtInstances (IPv4 and IPv6), sharing one
// identity, one storage engine and one token secret (spec.md §4.5).
type Node struct {
	cfg       Config
	privSeed  []byte
	publicKey ed25519.PublicKey
	localID   id.ID

	store  *storage.Store
	tokens *rpc.TokenManager

	v4, v6 *dhtInstance

	stopMaint chan struct{}
	maintDone chan struct{}
}

// New validates cfg and constructs a Node without touching the network;
// call Start to bind sockets and join the network.
func New(cfg Config) (*Node, error) {
	if err := cfg.validate(); err != nil {
		return nil, wrapErr(KindState, "new", err)
	}
	publicKey, err := crypto.PublicKeyFromPrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, wrapErr(KindCrypto, "new", err)
	}
	localID, err := id.FromPublicKey(publicKey)
	if err != nil {
		return nil, wrapErr(KindCrypto, "new", err)
	}
	store, err := storage.Open(dbPath(cfg.DataDir))
	if err != nil {
		return nil, wrapErr(KindIO, "new", err)
	}
	tokens, err := rpc.NewTokenManager()
	if err != nil {
		store.Close()
		return nil, wrapErr(KindCrypto, "new", err)
	}

	n := &Node{
		cfg:       cfg,
		privSeed:  append([]byte(nil), cfg.PrivateKey...),
		publicKey: publicKey,
		localID:   localID,
		store:     store,
		tokens:    tokens,
	}

	bootstrap := make([]types.NodeInfo, 0, len(cfg.BootstrapNodes))
	for _, b := range cfg.BootstrapNodes {
		bootstrap = append(bootstrap, *b)
	}

	if cfg.Addr4 != nil {
		if n.v4, err = newDHTInstance("ipv4", messages.WantIPv4, localID, cfg.Addr4, store, tokens, bootstrap); err != nil {
			store.Close()
			return nil, err
		}
	}
	if cfg.Addr6 != nil {
		if n.v6, err = newDHTInstance("ipv6", messages.WantIPv6, localID, cfg.Addr6, store, tokens, bootstrap); err != nil {
			if n.v4 != nil {
				n.v4.stop()
			}
			store.Close()
			return nil, err
		}
	}
	return n, nil
}

func dbPath(dir string) string {
	if dir == "" {
		return ""
	}
	return dir + "/storage.db"
}

// LocalID returns this node's routing identity.
func (n *Node) LocalID() id.ID { return n.localID }

func (n *Node) instances() []*dhtInstance {
	var out []*dhtInstance
	if n.v4 != nil {
		out = append(out, n.v4)
	}
	if n.v6 != nil {
		out = append(out, n.v6)
	}
	return out
}

// Start seeds each instance's bootstrap set from the persisted routing
// cache, begins serving each socket, and starts the maintenance loop
// (spec.md §4.5).
func (n *Node) Start() error {
	cached, err := n.store.LoadRoutingCache()
	if err != nil {
		return wrapErr(KindIO, "start", err)
	}
	for _, d := range n.instances() {
		d.mu.Lock()
		d.bootstrap = append(d.bootstrap, cachedForFamily(cached, d.family)...)
		d.mu.Unlock()
		d.start()
	}
	n.stopMaint = make(chan struct{})
	n.maintDone = make(chan struct{})
	go n.maintenanceLoop()
	return nil
}

func cachedForFamily(cached []storage.CachedNode, family string) []types.NodeInfo {
	wantV4 := family == "ipv4"
	out := make([]types.NodeInfo, 0, len(cached))
	for _, c := range cached {
		isV4 := c.Info.Addr.IP.To4() != nil
		if isV4 == wantV4 {
			out = append(out, c.Info)
		}
	}
	return out
}

// Stop cancels the maintenance loop, persists the routing table cache,
// and closes every socket and the shared storage engine.
func (n *Node) Stop() error {
	if n.stopMaint != nil {
		close(n.stopMaint)
		<-n.maintDone
	}
	now := time.Now()
	var cache []storage.CachedNode
	for _, d := range n.instances() {
		d.mu.Lock()
		for _, b := range d.table.Buckets() {
			for _, e := range b.Entries {
				cache = append(cache, storage.CachedNode{Info: e.NodeInfo, CreatedAt: e.CreatedAt, LastSeen: now})
			}
		}
		d.mu.Unlock()
		d.stop()
	}
	if err := n.store.SaveRoutingCache(cache); err != nil {
		n.store.Close()
		return wrapErr(KindIO, "stop", err)
	}
	return n.store.Close()
}

// FindNode runs a node lookup for target on every active instance and
// merges the results, deduplicated by ID, into at most K contacts.
func (n *Node) FindNode(ctx context.Context, target id.ID, mode task.Mode) ([]types.NodeInfo, error) {
	var all []types.NodeInfo
	for _, d := range n.instances() {
		done := make(chan []types.NodeInfo, 1)
		d.mu.Lock()
		lookup := task.NewNodeLookup(target, mode, kbucket.K, d.seedCandidates(target), d.bootstrap, d.transport, false, func(l *task.Lookup) {
			d.manager.Release()
			done <- l.ClosestSet.Members()
		})
		d.manager.Submit(lookup)
		d.mu.Unlock()

		select {
		case nodes := <-done:
			all = append(all, nodes...)
		case <-ctx.Done():
			return nil, wrapErr(KindTimeout, "find_node", ctx.Err())
		}
	}
	return dedupNodes(all, target, kbucket.K), nil
}

func dedupNodes(nodes []types.NodeInfo, target id.ID, limit int) []types.NodeInfo {
	seen := make(map[id.ID]bool, len(nodes))
	out := make([]types.NodeInfo, 0, len(nodes))
	for _, nd := range nodes {
		if seen[nd.ID] {
			continue
		}
		seen[nd.ID] = true
		out = append(out, nd)
	}
	sort.Slice(out, func(i, j int) bool { return id.CloserThan(target, out[i].ID, out[j].ID) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// FindValue runs a value lookup for target, returning the first validating
// value seen across active instances, or (nil, nil) if none responds with
// one.
func (n *Node) FindValue(ctx context.Context, target id.ID, mode task.Mode, expectedSequence *int64) (*types.Value, error) {
	for _, d := range n.instances() {
		done := make(chan *task.ValueLookup, 1)
		d.mu.Lock()
		l := task.NewValueLookup(target, mode, kbucket.K, d.seedCandidates(target), d.bootstrap, d.transport, expectedSequence, func(vl *task.ValueLookup) {
			d.manager.Release()
			done <- vl
		})
		d.manager.Submit(l)
		d.mu.Unlock()

		select {
		case vl := <-done:
			if vl.Result != nil {
				return vl.Result, nil
			}
		case <-ctx.Done():
			return nil, wrapErr(KindTimeout, "find_value", ctx.Err())
		}
	}
	return nil, nil
}

// StoreValue runs a want_token node lookup for v's id on every active
// instance, then fans out store_value to every contact it visited. It
// succeeds if at least one target accepted the value.
func (n *Node) StoreValue(ctx context.Context, v *types.Value, persistent bool, cas *uint32) error {
	if err := n.store.PutValue(v, nil, persistent, time.Now()); err != nil {
		return wrapErr(KindProtocol, "store_value", err)
	}
	target := v.ID()
	accepted := 0
	for _, d := range n.instances() {
		targets, err := lookupTargets(ctx, d, target, true)
		if err != nil {
			return err
		}
		done := make(chan []task.FanOutResult, 1)
		d.mu.Lock()
		task.StoreValue(targets, v, cas, d.transport, func(results []task.FanOutResult) { done <- results })
		d.mu.Unlock()

		select {
		case results := <-done:
			for _, r := range results {
				if r.Err == nil {
					accepted++
				}
			}
		case <-ctx.Done():
			return wrapErr(KindTimeout, "store_value", ctx.Err())
		}
	}
	if accepted == 0 && len(n.instances()) > 0 {
		return wrapErr(KindProtocol, "store_value", errNoAcceptingTarget)
	}
	return nil
}

// AnnouncePeer runs a want_token node lookup for p's peer id on every
// active instance, then fans out announce_peer. It succeeds if at least
// one target accepted the announcement.
func (n *Node) AnnouncePeer(ctx context.Context, p *types.PeerInfo, persistent bool) error {
	if err := n.store.PutPeer(p, persistent, time.Now()); err != nil {
		return wrapErr(KindProtocol, "announce_peer", err)
	}
	target := p.PeerID
	accepted := 0
	for _, d := range n.instances() {
		targets, err := lookupTargets(ctx, d, target, true)
		if err != nil {
			return err
		}
		done := make(chan []task.FanOutResult, 1)
		d.mu.Lock()
		task.AnnouncePeer(targets, p, d.transport, func(results []task.FanOutResult) { done <- results })
		d.mu.Unlock()

		select {
		case results := <-done:
			for _, r := range results {
				if r.Err == nil {
					accepted++
				}
			}
		case <-ctx.Done():
			return wrapErr(KindTimeout, "announce_peer", ctx.Err())
		}
	}
	if accepted == 0 && len(n.instances()) > 0 {
		return wrapErr(KindProtocol, "announce_peer", errNoAcceptingTarget)
	}
	return nil
}

// lookupTargets runs a want_token node lookup for target on d and reduces
// its visited candidates to the (node, token) pairs a following
// store_value/announce_peer fans out to.
func lookupTargets(ctx context.Context, d *dhtInstance, target id.ID, wantToken bool) ([]task.FanOutTarget, error) {
	done := make(chan *task.Lookup, 1)
	d.mu.Lock()
	lookup := task.NewNodeLookup(target, task.Conservative, kbucket.K, d.seedCandidates(target), d.bootstrap, d.transport, wantToken, func(l *task.Lookup) {
		d.manager.Release()
		done <- l
	})
	d.manager.Submit(lookup)
	d.mu.Unlock()

	select {
	case l := <-done:
		var out []task.FanOutTarget
		for _, c := range l.Candidates.All() {
			if tok, ok := l.TokenFor(c.Node.ID); ok {
				out = append(out, task.FanOutTarget{Node: c.Node, Token: tok})
			}
		}
		return out, nil
	case <-ctx.Done():
		return nil, wrapErr(KindTimeout, "lookup", ctx.Err())
	}
}

// FindPeer runs a peer lookup for peerID on every active instance and
// merges the results, deduplicated by (peer_id, origin_id), into at most
// maxPeers records (spec.md §4.5's cross-family dedup).
func (n *Node) FindPeer(ctx context.Context, peerID id.ID, maxPeers int, mode task.Mode) ([]*types.PeerInfo, error) {
	var all []*types.PeerInfo
	for _, d := range n.instances() {
		done := make(chan *task.PeerLookup, 1)
		d.mu.Lock()
		l := task.NewPeerLookup(peerID, mode, kbucket.K, d.seedCandidates(peerID), d.bootstrap, d.transport, maxPeers, func(pl *task.PeerLookup) {
			d.manager.Release()
			done <- pl
		})
		d.manager.Submit(l)
		d.mu.Unlock()

		select {
		case pl := <-done:
			all = append(all, pl.Results...)
		case <-ctx.Done():
			return nil, wrapErr(KindTimeout, "find_peer", ctx.Err())
		}
	}
	return dedupPeers(all, maxPeers), nil
}

func dedupPeers(peers []*types.PeerInfo, limit int) []*types.PeerInfo {
	type key struct{ peer, origin id.ID }
	seen := make(map[key]bool, len(peers))
	out := make([]*types.PeerInfo, 0, len(peers))
	for _, p := range peers {
		k := key{p.PeerID, p.OriginID}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, p)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Ping probes a single contact's liveness on the instance matching its
// address family.
func (n *Node) Ping(ctx context.Context, node types.NodeInfo) (bool, error) {
	d := n.instanceFor(node)
	if d == nil {
		return false, wrapErr(KindState, "ping", errNoSuchFamily)
	}
	done := make(chan bool, 1)
	d.mu.Lock()
	task.Ping(node, d.transport, d.table, func(ok bool) { done <- ok })
	d.mu.Unlock()

	select {
	case ok := <-done:
		return ok, nil
	case <-ctx.Done():
		return false, wrapErr(KindTimeout, "ping", ctx.Err())
	}
}

func (n *Node) instanceFor(node types.NodeInfo) *dhtInstance {
	if node.Addr == nil {
		return nil
	}
	if node.Addr.IP.To4() != nil {
		return n.v4
	}
	return n.v6
}

// AnnounceSelf builds and announces a PeerInfo under this node's own
// identity, the common case of a service advertising its own reachable
// port rather than proxying on behalf of another identity.
func (n *Node) AnnounceSelf(ctx context.Context, port uint16, alternativeURL string, persistent bool) error {
	p, err := types.NewPeerInfo(n.publicKey, n.privSeed, n.localID, port, alternativeURL)
	if err != nil {
		return wrapErr(KindCrypto, "announce_self", err)
	}
	return n.AnnouncePeer(ctx, p, persistent)
}

// GetValue reads a value directly from local storage, bypassing the
// network (spec.md §4.5's storage-read helper).
func (n *Node) GetValue(vid id.ID) (*types.Value, error) {
	v, err := n.store.GetValue(vid)
	if err != nil {
		return nil, wrapErr(KindIO, "get_value", err)
	}
	return v, nil
}

// GetPeers reads locally stored announcements for peerID, bypassing the
// network.
func (n *Node) GetPeers(peerID id.ID, limit int) ([]*types.PeerInfo, error) {
	peers, err := n.store.GetPeers(peerID, limit)
	if err != nil {
		return nil, wrapErr(KindIO, "get_peers", err)
	}
	return peers, nil
}
