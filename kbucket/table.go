package kbucket

import (
	"sort"
	"sync"
	"time"

	"github.com/elastos-carrier/carrier-go/id"
	"github.com/elastos-carrier/carrier-go/logger"
	"github.com/elastos-carrier/carrier-go/metrics"
	"github.com/elastos-carrier/carrier-go/types"
)

var log = logger.NewLogger("kbucket")

// BucketRefreshInterval is how long a bucket may go unseen before
// maintenance runs a random lookup into it.
const BucketRefreshInterval = 15 * time.Minute

// BootstrapIfLessThanXPeers is the reachable-entry floor below which
// maintenance re-bootstraps the table.
const BootstrapIfLessThanXPeers = 30

// RoutingTable is an ordered list of buckets whose prefixes tile the ID
// space, keyed by the local node's ID. Exactly one bucket (the home
// bucket) covers the local ID and is eligible to split when full.
type RoutingTable struct {
	mu      sync.Mutex
	localID id.ID
	buckets []*Bucket // sorted by Prefix.First() ascending
}

// NewRoutingTable creates a table with a single bucket spanning the
// whole ID space, marked as the home bucket.
func NewRoutingTable(localID id.ID) *RoutingTable {
	return &RoutingTable{
		localID: localID,
		buckets: []*Bucket{NewBucket(id.NewPrefix(), true)},
	}
}

// bucketIndexFor returns the index of the bucket covering nodeID.
func (t *RoutingTable) bucketIndexFor(nodeID id.ID) int {
	for i, b := range t.buckets {
		if b.Prefix.IsPrefixOf(nodeID) {
			return i
		}
	}
	return -1 // unreachable: prefixes always partition the space
}

// Size returns the total number of live entries across all buckets.
func (t *RoutingTable) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, b := range t.buckets {
		n += b.Len()
	}
	return n
}

// ReachableCount returns the number of live entries marked reachable,
// the figure maintenance checks against BootstrapIfLessThanXPeers.
func (t *RoutingTable) ReachableCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, b := range t.buckets {
		for _, e := range b.Entries {
			if e.Reachable {
				n++
			}
		}
	}
	return n
}

// Find returns a copy of the entry for nodeID, or nil.
func (t *RoutingTable) Find(nodeID id.ID) *Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.buckets[t.bucketIndexFor(nodeID)]
	return b.Find(nodeID)
}

// Put inserts or merges entry into the table per the bucket insertion
// policy: replace a bad entry, split the home bucket, replace the
// youngest resident, or discard. It returns true if entry ended up live
// in the table.
func (t *RoutingTable) Put(entry *Entry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.put(entry)
}

func (t *RoutingTable) put(entry *Entry) bool {
	idx := t.bucketIndexFor(entry.ID)
	b := t.buckets[idx]

	if existing := b.Find(entry.ID); existing != nil {
		if !existing.SameAddr(entry) {
			log.Warnf("kbucket: id conflict for %s, keeping existing address", entry.ID.Hex())
			return false
		}
		b.touch(entry)
		return true
	}
	for _, e := range b.Entries {
		if e.SameAddr(entry) {
			log.Warnf("kbucket: address conflict for %s, keeping existing id", entry.Addr)
			return false
		}
	}

	if !entry.Reachable {
		b.addReplacement(entry)
		return false
	}

	if !b.Full() {
		inserted := b.insert(entry)
		if inserted {
			metrics.KBucketEntries.Update(int64(t.sizeLocked()))
		}
		return inserted
	}

	if i := b.worstReplaceable(); i >= 0 {
		b.removeAt(i)
		b.insert(entry)
		return true
	}

	if b.IsHome && b.Prefix.Splittable() {
		t.splitBucket(idx)
		metrics.KBucketSplits.Inc(1)
		return t.put(entry)
	}

	youngestIdx := b.youngest()
	if entry.CreatedAt.Before(b.Entries[youngestIdx].CreatedAt) {
		b.removeAt(youngestIdx)
		b.insert(entry)
		return true
	}

	b.addReplacement(entry)
	return false
}

func (t *RoutingTable) sizeLocked() int {
	n := 0
	for _, b := range t.buckets {
		n += b.Len()
	}
	return n
}

// splitBucket splits the bucket at idx into two children, re-deriving
// which child is home from the local ID, and replaces it in place.
func (t *RoutingTable) splitBucket(idx int) {
	low, high := t.buckets[idx].split()
	lowPrefix, _ := t.buckets[idx].Prefix.Split()
	if lowPrefix.IsPrefixOf(t.localID) {
		low.IsHome = true
	} else {
		high.IsHome = true
	}
	t.buckets = append(t.buckets[:idx], append([]*Bucket{low, high}, t.buckets[idx+1:]...)...)
}

// Remove deletes the entry for nodeID if it is bad enough
// (EligibleForRemoval), or unconditionally if force is set.
func (t *RoutingTable) Remove(nodeID id.ID, force bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.buckets[t.bucketIndexFor(nodeID)]
	i := b.indexOf(nodeID)
	if i < 0 {
		return false
	}
	if !force && !b.Entries[i].EligibleForRemoval() {
		return false
	}
	b.removeAt(i)
	if r := b.popReplacement(); r != nil {
		b.insert(r)
	}
	return true
}

// OnSend records that a request was sent to nodeID.
func (t *RoutingTable) OnSend(nodeID id.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e := t.buckets[t.bucketIndexFor(nodeID)].Find(nodeID); e != nil {
		e.OnSend()
	}
}

// OnTimeout records an unanswered request to nodeID, removing the entry
// if it has become eligible for removal.
func (t *RoutingTable) OnTimeout(nodeID id.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.buckets[t.bucketIndexFor(nodeID)]
	if e := b.Find(nodeID); e != nil {
		e.OnTimeout()
		if e.EligibleForRemoval() {
			i := b.indexOf(nodeID)
			b.removeAt(i)
			if r := b.popReplacement(); r != nil {
				b.insert(r)
			}
		}
	}
}

// OnResponse merges a confirmed-live observation of info into the
// table, inserting it if not already present.
func (t *RoutingTable) OnResponse(info types.NodeInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx := t.bucketIndexFor(info.ID)
	b := t.buckets[idx]
	if e := b.Find(info.ID); e != nil {
		e.OnResponse()
		b.touch(e)
		return
	}
	entry := NewEntry(info)
	entry.OnResponse()
	t.put(entry)
}

// ClosestEntries returns up to count entries ordered by XOR distance to
// target, used to seed a lookup's closest-candidates.
func (t *RoutingTable) ClosestEntries(target id.ID, count int) []*Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var all []*Entry
	for _, b := range t.buckets {
		all = append(all, b.Entries...)
	}
	sort.Slice(all, func(i, j int) bool {
		return id.CloserThan(target, all[i].ID, all[j].ID)
	})
	if len(all) > count {
		all = all[:count]
	}
	return all
}

// Buckets returns a snapshot of the current bucket list, for maintenance
// and diagnostics.
func (t *RoutingTable) Buckets() []*Bucket {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Bucket, len(t.buckets))
	copy(out, t.buckets)
	return out
}

// RemoveStaleReplacements drops every bucket entry needing replacement,
// promoting a waiting replacement candidate in its place when one exists.
func (t *RoutingTable) RemoveStaleReplacements() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, b := range t.buckets {
		for i := len(b.Entries) - 1; i >= 0; i-- {
			e := b.Entries[i]
			if !e.NeedsReplacement() {
				continue
			}
			b.removeAt(i)
			if r := b.popReplacement(); r != nil {
				b.insert(r)
			}
		}
	}
}

// BucketsNeedingRefresh returns the prefixes of buckets not seen within
// BucketRefreshInterval, for the maintenance loop to re-lookup.
func (t *RoutingTable) BucketsNeedingRefresh(now time.Time) []id.Prefix {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []id.Prefix
	for _, b := range t.buckets {
		if now.Sub(b.LastRefreshTime) >= BucketRefreshInterval {
			out = append(out, b.Prefix)
		}
	}
	return out
}

// MarkRefreshed records that prefix's bucket was just refreshed.
func (t *RoutingTable) MarkRefreshed(prefix id.Prefix) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, b := range t.buckets {
		if b.Prefix == prefix {
			b.LastRefreshTime = time.Now()
			return
		}
	}
}

// MergeSiblings attempts pairwise merges of adjacent sibling leaf buckets
// whose combined occupancy is at most K and neither of which is home,
// per the maintenance loop's merge pass.
func (t *RoutingTable) MergeSiblings() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := 0; i < len(t.buckets)-1; i++ {
		a, b := t.buckets[i], t.buckets[i+1]
		if a.IsHome || b.IsHome {
			continue
		}
		if a.Prefix.SiblingOf() != b.Prefix {
			continue
		}
		if a.Len()+b.Len() > K {
			continue
		}
		merged := NewBucket(a.Prefix.Parent(), false)
		for _, e := range a.Entries {
			merged.insert(e)
		}
		for _, e := range b.Entries {
			merged.insert(e)
		}
		for _, r := range a.Replacements {
			merged.addReplacement(r)
		}
		for _, r := range b.Replacements {
			merged.addReplacement(r)
		}
		t.buckets = append(t.buckets[:i], append([]*Bucket{merged}, t.buckets[i+2:]...)...)
		metrics.KBucketMerges.Inc(1)
		i--
	}
}
