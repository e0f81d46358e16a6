// Package kbucket implements the Kademlia routing table: k-buckets keyed
// by XOR distance from the local ID, with splitting, replacement and
// refresh, grounded on the teacher's p2p/discover routing table (table.go)
// and its IP-diversity companion package p2p/distip.
package kbucket

import (
	"time"

	"github.com/elastos-carrier/carrier-go/types"
)

// KBucketMaxTimeouts is the number of consecutive unanswered requests
// after which an entry becomes eligible for removal.
const KBucketMaxTimeouts = 5

// Entry is a KBucketEntry: a NodeInfo plus the liveness bookkeeping the
// routing table needs to decide splits, replacements and removals.
type Entry struct {
	types.NodeInfo
	CreatedAt      time.Time
	LastSeen       time.Time
	LastSent       time.Time
	FailedRequests int
	Reachable      bool
}

// NewEntry wraps info as a freshly-seen, unverified routing table entry.
func NewEntry(info types.NodeInfo) *Entry {
	now := time.Now()
	return &Entry{NodeInfo: info, CreatedAt: now}
}

// SameIdentity reports whether e and other name the same (id, address)
// pair, the identity used for bucket membership and conflict detection.
func (e *Entry) SameIdentity(other *Entry) bool {
	return e.NodeInfo.Equal(&other.NodeInfo)
}

// SameAddr reports whether e and other share a socket address regardless
// of ID, the shape of an address-hijack attempt.
func (e *Entry) SameAddr(other *Entry) bool {
	if e.Addr == nil || other.Addr == nil {
		return e.Addr == other.Addr
	}
	return e.Addr.IP.Equal(other.Addr.IP) && e.Addr.Port == other.Addr.Port
}

// OnSend records that a request was just sent to this entry.
func (e *Entry) OnSend() { e.LastSent = time.Now() }

// OnTimeout records an unanswered request.
func (e *Entry) OnTimeout() { e.FailedRequests++ }

// OnResponse records a reply: the entry is live, its failure streak
// resets, and it is now verified reachable.
func (e *Entry) OnResponse() {
	e.LastSeen = time.Now()
	e.FailedRequests = 0
	e.Reachable = true
}

// NeedsReplacement reports whether e is a "bad" entry that a full
// bucket's insert path may evict in favor of a fresh candidate: it has
// never been confirmed reachable, or it has exceeded the timeout budget.
func (e *Entry) NeedsReplacement() bool {
	return !e.Reachable || e.FailedRequests > KBucketMaxTimeouts
}

// EligibleForRemoval reports whether e is bad enough for an explicit
// remove(id) to take effect: it has exceeded the timeout budget and has
// not been seen since the last request was sent to it.
func (e *Entry) EligibleForRemoval() bool {
	return e.FailedRequests > KBucketMaxTimeouts && !e.LastSeen.After(e.LastSent)
}

// Merge combines e with an incoming observation of the same (id, address)
// per the KBucketEntry merge rule: earliest created_at, latest
// last_seen/last_sent, logical-OR of reachable, minimum failed_requests.
func (e *Entry) Merge(other *Entry) *Entry {
	merged := *e
	if other.CreatedAt.Before(merged.CreatedAt) {
		merged.CreatedAt = other.CreatedAt
	}
	if other.LastSeen.After(merged.LastSeen) {
		merged.LastSeen = other.LastSeen
	}
	if other.LastSent.After(merged.LastSent) {
		merged.LastSent = other.LastSent
	}
	merged.Reachable = merged.Reachable || other.Reachable
	if other.FailedRequests < merged.FailedRequests {
		merged.FailedRequests = other.FailedRequests
	}
	merged.Version = other.Version
	return &merged
}
