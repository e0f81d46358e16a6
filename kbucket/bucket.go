package kbucket

import (
	"net"
	"time"

	"github.com/elastos-carrier/carrier-go/id"
)

// K is the maximum number of live entries a bucket holds.
const K = 8

// MaxReplacements bounds the pending-replacement queue per bucket, mirroring
// the teacher's maxReplacements for p2p/discover's bucket.replacements.
const MaxReplacements = 10

// bucketIPLimit caps how many of a bucket's entries may share the same
// subnet (a /24 for IPv4, a /64 for IPv6), the per-bucket half of the
// table's IP-diversity defense: a bucket that let one subnet fill every
// slot would make the DHT trivial to partition from a single host.
const (
	bucketIPLimit  = 2
	bucketSubnetV4 = 24
	bucketSubnetV6 = 64
)

// subnetKey reduces ip to the bytes of its bucket-diversity subnet. A
// RoutingTable only ever holds one address family at a time (a Node
// keeps separate tables for its v4 and v6 dhtInstance), so unlike the
// teacher's DistinctNetSet this needs no family tag to keep the two
// families from colliding in the same map.
func subnetKey(ip net.IP) string {
	if ip4 := ip.To4(); ip4 != nil {
		return string(ip4.Mask(net.CIDRMask(bucketSubnetV4, 32)))
	}
	return string(ip.Mask(net.CIDRMask(bucketSubnetV6, 128)))
}

// Bucket is a KBucket: entries whose ID falls under Prefix, ordered by
// most-recent activity first.
type Bucket struct {
	Prefix          id.Prefix
	IsHome          bool
	Entries         []*Entry
	Replacements    []*Entry
	LastRefreshTime time.Time

	subnets map[string]uint
}

// NewBucket creates an empty bucket covering prefix.
func NewBucket(prefix id.Prefix, isHome bool) *Bucket {
	return &Bucket{
		Prefix:  prefix,
		IsHome:  isHome,
		subnets: make(map[string]uint),
	}
}

// addSubnet reports whether ip may join the bucket: true and recorded if
// its subnet is under bucketIPLimit, false and not recorded otherwise.
func (b *Bucket) addSubnet(ip net.IP) bool {
	key := subnetKey(ip)
	if b.subnets[key] >= bucketIPLimit {
		return false
	}
	b.subnets[key]++
	return true
}

// removeSubnet releases one occurrence of ip's subnet slot.
func (b *Bucket) removeSubnet(ip net.IP) {
	key := subnetKey(ip)
	if n, ok := b.subnets[key]; ok {
		if n <= 1 {
			delete(b.subnets, key)
		} else {
			b.subnets[key] = n - 1
		}
	}
}

// Len returns the number of live entries.
func (b *Bucket) Len() int { return len(b.Entries) }

// Full reports whether the bucket already holds K live entries.
func (b *Bucket) Full() bool { return len(b.Entries) >= K }

// Find returns the live entry for id, or nil.
func (b *Bucket) Find(nodeID id.ID) *Entry {
	for _, e := range b.Entries {
		if e.ID.Equal(nodeID) {
			return e
		}
	}
	return nil
}

// indexOf returns the slice index of the entry for id, or -1.
func (b *Bucket) indexOf(nodeID id.ID) int {
	for i, e := range b.Entries {
		if e.ID.Equal(nodeID) {
			return i
		}
	}
	return -1
}

// bumpFront moves the entry at index i to the front of Entries, marking
// it as the most recently active.
func (b *Bucket) bumpFront(i int) {
	e := b.Entries[i]
	copy(b.Entries[1:i+1], b.Entries[:i])
	b.Entries[0] = e
}

// touch records a live observation of e, moving it to the front if
// already present.
func (b *Bucket) touch(e *Entry) {
	if i := b.indexOf(e.ID); i >= 0 {
		merged := b.Entries[i].Merge(e)
		b.Entries[i] = merged
		b.bumpFront(i)
		return
	}
}

// insert adds e at the front, enforcing the IP-diversity limit. It
// reports whether e was actually inserted.
func (b *Bucket) insert(e *Entry) bool {
	if e.Addr != nil && !b.addSubnet(e.Addr.IP) {
		return false
	}
	b.Entries = append(b.Entries, nil)
	copy(b.Entries[1:], b.Entries)
	b.Entries[0] = e
	return true
}

// removeAt deletes the entry at index i, releasing its IP-diversity slot.
func (b *Bucket) removeAt(i int) *Entry {
	e := b.Entries[i]
	if e.Addr != nil {
		b.removeSubnet(e.Addr.IP)
	}
	b.Entries = append(b.Entries[:i], b.Entries[i+1:]...)
	return e
}

// worstReplaceable returns the index of the entry most eligible to be
// evicted in favor of a new candidate (NeedsReplacement, oldest last-seen
// first), or -1 if none qualifies.
func (b *Bucket) worstReplaceable() int {
	best := -1
	for i, e := range b.Entries {
		if !e.NeedsReplacement() {
			continue
		}
		if best == -1 || e.LastSeen.Before(b.Entries[best].LastSeen) {
			best = i
		}
	}
	return best
}

// youngest returns the index of the most recently created entry, used by
// the insert policy's last-resort eviction rule.
func (b *Bucket) youngest() int {
	best := 0
	for i, e := range b.Entries {
		if e.CreatedAt.After(b.Entries[best].CreatedAt) {
			best = i
		}
	}
	return best
}

// addReplacement pushes e onto the bucket's replacement queue, evicting
// the oldest replacement if the queue is full, and deduplicating by ID.
func (b *Bucket) addReplacement(e *Entry) {
	for i, r := range b.Replacements {
		if r.ID.Equal(e.ID) {
			b.Replacements[i] = e
			return
		}
	}
	if len(b.Replacements) >= MaxReplacements {
		b.Replacements = b.Replacements[1:]
	}
	b.Replacements = append(b.Replacements, e)
}

// popReplacement removes and returns the most recently added replacement
// with no live-entry address conflict, or nil.
func (b *Bucket) popReplacement() *Entry {
	for i := len(b.Replacements) - 1; i >= 0; i-- {
		r := b.Replacements[i]
		conflict := false
		for _, e := range b.Entries {
			if e.SameAddr(r) {
				conflict = true
				break
			}
		}
		if conflict {
			continue
		}
		b.Replacements = append(b.Replacements[:i], b.Replacements[i+1:]...)
		return r
	}
	return nil
}

// split divides b's entries and replacements between two children at
// Prefix's next depth, keyed by which half of the split each entry's ID
// falls into.
func (b *Bucket) split() (low, high *Bucket) {
	lowPrefix, highPrefix := b.Prefix.Split()
	low = NewBucket(lowPrefix, false)
	high = NewBucket(highPrefix, false)
	for _, e := range b.Entries {
		if lowPrefix.IsPrefixOf(e.ID) {
			low.insert(e)
		} else {
			high.insert(e)
		}
	}
	for _, r := range b.Replacements {
		if lowPrefix.IsPrefixOf(r.ID) {
			low.addReplacement(r)
		} else {
			high.addReplacement(r)
		}
	}
	return low, high
}
