package carrier

import (
	"context"
	"math/rand"
	"time"

	"github.com/elastos-carrier/carrier-go/id"
	"github.com/elastos-carrier/carrier-go/kbucket"
	"github.com/elastos-carrier/carrier-go/storage"
	"github.com/elastos-carrier/carrier-go/task"
)

// maintenance tick periods, spec.md §4.6. dhtUpdate is deliberately the
// fastest: it drives call-timeout aging, the tick every other action
// piggybacks correctness on.
const (
	dhtUpdateInterval    = 1 * time.Second
	tokenRotateInterval  = 5 * time.Minute
	bootstrapInterval    = 4 * time.Minute
	selfLookupInterval   = 30 * time.Minute
	randomLookupInterval = 10 * time.Minute
	randomPingInterval   = 10 * time.Second
	routingTableInterval = 4 * time.Minute
	cachePersistInterval = 10 * time.Minute
)

// maintenanceLoop runs the ticker table that keeps a Node's routing
// tables populated and its storage tidy, mirroring the teacher's single
// refreshLoop goroutine per running component. Every tick acquires the
// target instance's dispatch lock before touching its table or manager,
// so it never races the ServeLoop goroutine or a concurrent public API
// call.
func (n *Node) maintenanceLoop() {
	defer close(n.maintDone)

	dhtUpdate := time.NewTicker(dhtUpdateInterval)
	tokenRotate := time.NewTicker(tokenRotateInterval)
	bootstrap := time.NewTicker(bootstrapInterval)
	selfLookup := time.NewTicker(selfLookupInterval)
	randomLookup := time.NewTicker(randomLookupInterval)
	randomPing := time.NewTicker(randomPingInterval)
	routingMaint := time.NewTicker(routingTableInterval)
	cachePersist := time.NewTicker(cachePersistInterval)
	storageExpire := time.NewTicker(storage.StorageExpireInterval)
	defer dhtUpdate.Stop()
	defer tokenRotate.Stop()
	defer bootstrap.Stop()
	defer selfLookup.Stop()
	defer randomLookup.Stop()
	defer randomPing.Stop()
	defer routingMaint.Stop()
	defer cachePersist.Stop()
	defer storageExpire.Stop()

	for {
		select {
		case <-n.stopMaint:
			return
		case now := <-dhtUpdate.C:
			n.tickDHTUpdate(now)
		case <-tokenRotate.C:
			n.tokens.Rotate()
		case now := <-bootstrap.C:
			n.tickBootstrap(now)
		case <-selfLookup.C:
			n.tickSelfLookup()
		case <-randomLookup.C:
			n.tickRandomLookup()
		case <-randomPing.C:
			n.tickRandomPing()
		case now := <-routingMaint.C:
			n.tickRoutingMaintenance(now)
		case <-cachePersist.C:
			n.tickCachePersist()
		case now := <-storageExpire.C:
			n.tickStorageExpire(now)
		}
	}
}

func (n *Node) tickDHTUpdate(now time.Time) {
	for _, d := range n.instances() {
		d.mu.Lock()
		d.checkTimeouts(now)
		d.mu.Unlock()
	}
}

// tickBootstrap re-seeds a thin routing table from the configured
// bootstrap set (spec.md §4.6): a self-lookup using the bootstrap nodes
// as the lookup's own seed set, run only when the table has fewer than
// BootstrapIfLessThanXPeers reachable entries and it has been at least
// bootstrapInterval since the last attempt.
func (n *Node) tickBootstrap(now time.Time) {
	for _, d := range n.instances() {
		d.mu.Lock()
		if d.table.ReachableCount() >= kbucket.BootstrapIfLessThanXPeers || now.Sub(d.lastBootstrapAt) < bootstrapInterval || len(d.bootstrap) == 0 {
			d.mu.Unlock()
			continue
		}
		d.lastBootstrapAt = now
		bootstrap := d.bootstrap
		manager := d.manager
		lookup := task.NewNodeLookup(d.localID, task.Conservative, kbucket.K, bootstrap, bootstrap, d.transport, false, func(*task.Lookup) {
			manager.Release()
		})
		manager.Submit(lookup)
		d.mu.Unlock()
	}
}

func (n *Node) tickSelfLookup() {
	for _, d := range n.instances() {
		d.mu.Lock()
		seeds := d.seedCandidates(d.localID)
		bootstrap, manager, localID := d.bootstrap, d.manager, d.localID
		lookup := task.NewNodeLookup(localID, task.Conservative, kbucket.K, seeds, bootstrap, d.transport, false, func(*task.Lookup) {
			manager.Release()
		})
		manager.Submit(lookup)
		d.mu.Unlock()
	}
}

// tickRandomLookup exercises an arbitrary part of the keyspace so buckets
// far from the local ID still see lookup traffic between their own
// refreshes.
func (n *Node) tickRandomLookup() {
	for _, d := range n.instances() {
		target, err := id.Random()
		if err != nil {
			continue
		}
		d.mu.Lock()
		seeds := d.seedCandidates(target)
		bootstrap, manager := d.bootstrap, d.manager
		lookup := task.NewNodeLookup(target, task.Arbitrary, kbucket.K, seeds, bootstrap, d.transport, false, func(*task.Lookup) {
			manager.Release()
		})
		manager.Submit(lookup)
		d.mu.Unlock()
	}
}

// tickRandomPing probes one entry drawn from a random bucket, the
// liveness check spec.md §4.6 runs independently of bucket refresh.
func (n *Node) tickRandomPing() {
	for _, d := range n.instances() {
		d.mu.Lock()
		buckets := d.table.Buckets()
		var nonEmpty []*kbucket.Bucket
		for _, b := range buckets {
			if len(b.Entries) > 0 {
				nonEmpty = append(nonEmpty, b)
			}
		}
		var target *kbucket.Entry
		if len(nonEmpty) > 0 {
			b := nonEmpty[rand.Intn(len(nonEmpty))]
			target = b.Entries[rand.Intn(len(b.Entries))]
		}
		if target == nil {
			d.mu.Unlock()
			continue
		}
		node, table := target.NodeInfo, d.table
		d.mu.Unlock()

		task.Ping(node, d.transport, table, func(bool) {})
	}
}

// tickRoutingMaintenance runs the table's own bookkeeping (stale
// replacement eviction, sibling merges) and refreshes any bucket that
// has gone BucketRefreshInterval without activity.
func (n *Node) tickRoutingMaintenance(now time.Time) {
	for _, d := range n.instances() {
		d.mu.Lock()
		d.table.RemoveStaleReplacements()
		d.table.MergeSiblings()
		stale := d.table.BucketsNeedingRefresh(now)
		manager, bootstrap := d.manager, d.bootstrap
		for _, prefix := range stale {
			d.table.MarkRefreshed(prefix)
			seeds := d.seedCandidates(prefix.First())
			lookup, err := task.RefreshBucket(prefix, kbucket.K, seeds, bootstrap, d.transport, func(*task.Lookup) {
				manager.Release()
			})
			if err != nil {
				continue
			}
			manager.Submit(lookup)
		}
		d.mu.Unlock()
	}
}

func (n *Node) tickCachePersist() {
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
	}
	if err := n.store.SaveRoutingCache(cache); err != nil {
		log.Warnf("cache persist: %v", err)
	}
}

// tickStorageExpire purges non-persistent records past their retention
// window and re-announces persistent ones due for refresh (spec.md
// §4.4's retention policy).
func (n *Node) tickStorageExpire(now time.Time) {
	if _, err := n.store.PurgeExpiredValues(now); err != nil {
		log.Warnf("storage expire: values: %v", err)
	}
	if _, err := n.store.PurgeExpiredPeers(now); err != nil {
		log.Warnf("storage expire: peers: %v", err)
	}

	due := now.Add(-storage.ReAnnounceInterval)
	values, err := n.store.GetPersistentValues(due)
	if err != nil {
		log.Warnf("storage expire: persistent values: %v", err)
	}
	for _, pv := range values {
		n.reannounceValue(pv)
	}
	peers, err := n.store.GetPersistentPeers(due)
	if err != nil {
		log.Warnf("storage expire: persistent peers: %v", err)
	}
	for _, pp := range peers {
		n.reannouncePeer(pp)
	}
}

func (n *Node) reannounceValue(pv storage.PersistentValue) {
	if err := n.store.UpdateValueLastAnnounce(pv.ID, time.Now()); err != nil {
		log.Warnf("re-announce value: %v", err)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), maintenanceOpTimeout)
		defer cancel()
		if err := n.StoreValue(ctx, pv.Value, true, nil); err != nil {
			log.Detailf("re-announce value %s: %v", pv.ID.Hex(), err)
		}
	}()
}

func (n *Node) reannouncePeer(pp storage.PersistentPeer) {
	if err := n.store.UpdatePeerLastAnnounce(pp.PeerID, pp.OriginID, time.Now()); err != nil {
		log.Warnf("re-announce peer: %v", err)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), maintenanceOpTimeout)
		defer cancel()
		if err := n.AnnouncePeer(ctx, pp.Peer, true); err != nil {
			log.Detailf("re-announce peer %s: %v", pp.PeerID.Hex(), err)
		}
	}()
}

// maintenanceOpTimeout bounds a background re-announce the way a
// caller's own context would bound a foreground one; maintenance has no
// caller to inherit a deadline from.
const maintenanceOpTimeout = 30 * time.Second
