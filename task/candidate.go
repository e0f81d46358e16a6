// Package task implements the iterative Kademlia lookup engine: the
// closest-candidates / closest-set convergence machinery shared by node,
// value and peer lookups, plus the store/announce follow-up tasks and the
// maintenance tasks (ping, refresh) that keep the routing table warm.
package task

import (
	"net"
	"sort"

	"github.com/elastos-carrier/carrier-go/id"
	"github.com/elastos-carrier/carrier-go/types"
)

// MaxConcurrentTaskRequests bounds how many candidates a single lookup
// may have in flight at once.
const MaxConcurrentTaskRequests = 10

// candidatesFactor sets ClosestCandidates' capacity to 3K (spec.md §3).
const candidatesFactor = 3

// Candidate is one node under consideration for a lookup, tracked by how
// many times it has been queried so unresponsive nodes sink to the back
// of the query order without being evicted outright.
type Candidate struct {
	Node       types.NodeInfo
	PingedTimes int
	InFlight    bool
	Failed      bool
	Token       []byte // token issued by this candidate, if any
}

// ClosestCandidates holds up to 3K entries eligible for querying, kept
// deduplicated by ID and address, ordered by (pinged-count ascending,
// distance ascending).
type ClosestCandidates struct {
	target   id.ID
	capacity int
	entries  []*Candidate
}

// NewClosestCandidates creates an empty container keyed to target with
// capacity 3K.
func NewClosestCandidates(target id.ID, k int) *ClosestCandidates {
	return &ClosestCandidates{target: target, capacity: candidatesFactor * k}
}

func (c *ClosestCandidates) indexOf(nodeID id.ID) int {
	for i, e := range c.entries {
		if e.Node.ID.Equal(nodeID) {
			return i
		}
	}
	return -1
}

func (c *ClosestCandidates) hasAddr(addr *net.UDPAddr) bool {
	for _, e := range c.entries {
		if e.Node.Addr.IP.Equal(addr.IP) && e.Node.Addr.Port == addr.Port {
			return true
		}
	}
	return false
}

// Add inserts info as a fresh candidate unless it is already present by
// ID or address. When that puts the container over capacity, the last
// member in (pinged-count, distance) order is dropped, which may be info
// itself. It reports whether info is held afterwards.
func (c *ClosestCandidates) Add(info types.NodeInfo) bool {
	if c.indexOf(info.ID) >= 0 || c.hasAddr(info.Addr) {
		return false
	}
	c.entries = append(c.entries, &Candidate{Node: info})
	c.resort()
	if len(c.entries) > c.capacity {
		c.entries = c.entries[:c.capacity]
		return c.indexOf(info.ID) >= 0
	}
	return true
}

func (c *ClosestCandidates) resort() {
	sort.SliceStable(c.entries, func(i, j int) bool {
		a, b := c.entries[i], c.entries[j]
		if a.PingedTimes != b.PingedTimes {
			return a.PingedTimes < b.PingedTimes
		}
		return id.CloserThan(c.target, a.Node.ID, b.Node.ID)
	})
}

// Next returns up to n eligible candidates to query next: not in flight,
// queried fewer than 3 times (whether those queries failed or not),
// ordered by (pinged-count, distance).
func (c *ClosestCandidates) Next(n int) []*Candidate {
	c.resort()
	var out []*Candidate
	for _, e := range c.entries {
		if e.InFlight || e.PingedTimes >= 3 {
			continue
		}
		out = append(out, e)
		if len(out) == n {
			break
		}
	}
	return out
}

// MarkSent increments the candidate's pinged count and flags it in flight.
func (c *Candidate) MarkSent() {
	c.PingedTimes++
	c.InFlight = true
}

// MarkDone clears the in-flight flag, optionally marking a failure.
func (c *Candidate) MarkDone(failed bool) {
	c.InFlight = false
	c.Failed = failed
}

// Empty reports whether no candidates remain to query.
func (c *ClosestCandidates) Empty() bool { return len(c.entries) == 0 }

// Exhausted reports whether no candidate is left that a lookup could
// still query: the container is empty, or every member has either been
// queried 3 times or is currently in flight. Callers are expected to check
// this only once no candidate is in flight, so in practice it reduces to
// "all remaining members have been queried 3 times".
func (c *ClosestCandidates) Exhausted() bool { return len(c.Next(1)) == 0 }

// Len returns the number of tracked candidates.
func (c *ClosestCandidates) Len() int { return len(c.entries) }

// Head returns the closest candidate to target, or nil if empty.
func (c *ClosestCandidates) Head() *Candidate {
	if len(c.entries) == 0 {
		return nil
	}
	c.resort()
	return c.entries[0]
}

// HasInFlight reports whether any candidate is currently being queried.
func (c *ClosestCandidates) HasInFlight() bool {
	for _, e := range c.entries {
		if e.InFlight {
			return true
		}
	}
	return false
}

// All returns every tracked candidate, closest first.
func (c *ClosestCandidates) All() []*Candidate {
	c.resort()
	return append([]*Candidate(nil), c.entries...)
}
