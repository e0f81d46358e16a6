package task

import (
	"sort"

	"github.com/elastos-carrier/carrier-go/id"
	"github.com/elastos-carrier/carrier-go/types"
)

// ClosestSet holds up to K entries that have actually replied, tracking
// how many insert attempts have occurred since its head or tail last
// changed so a lookup's mode can judge stability.
type ClosestSet struct {
	target id.ID
	k      int
	nodes  []types.NodeInfo

	attemptsSinceHead int
	attemptsSinceTail int
}

// NewClosestSet creates an empty container keyed to target with capacity k.
func NewClosestSet(target id.ID, k int) *ClosestSet {
	return &ClosestSet{target: target, k: k}
}

func (s *ClosestSet) contains(nodeID id.ID) bool {
	for _, n := range s.nodes {
		if n.ID.Equal(nodeID) {
			return true
		}
	}
	return false
}

// Insert admits info if it is not already present and either the set has
// room or info is closer than the current farthest member. Every call
// counts as an insert attempt; an admission resets the tail counter, and
// the head counter too when the closest member changed.
func (s *ClosestSet) Insert(info types.NodeInfo) {
	s.attemptsSinceHead++
	s.attemptsSinceTail++

	if s.contains(info.ID) {
		return
	}
	prevHead := s.headID()
	if len(s.nodes) < s.k {
		s.nodes = append(s.nodes, info)
	} else {
		tail := s.nodes[len(s.nodes)-1]
		if !id.CloserThan(s.target, info.ID, tail.ID) {
			return
		}
		s.nodes[len(s.nodes)-1] = info
	}

	sort.Slice(s.nodes, func(i, j int) bool {
		return id.CloserThan(s.target, s.nodes[i].ID, s.nodes[j].ID)
	})
	if s.headID() != prevHead {
		s.attemptsSinceHead = 0
	}
	s.attemptsSinceTail = 0
}

func (s *ClosestSet) headID() id.ID {
	if len(s.nodes) == 0 {
		return id.Zero
	}
	return s.nodes[0].ID
}

// Len returns the number of members.
func (s *ClosestSet) Len() int { return len(s.nodes) }

// Full reports whether the set holds K members.
func (s *ClosestSet) Full() bool { return len(s.nodes) >= s.k }

// Tail returns the farthest member, or the zero value if empty.
func (s *ClosestSet) Tail() (types.NodeInfo, bool) {
	if len(s.nodes) == 0 {
		return types.NodeInfo{}, false
	}
	return s.nodes[len(s.nodes)-1], true
}

// Members returns the set's contents, closest first.
func (s *ClosestSet) Members() []types.NodeInfo {
	return append([]types.NodeInfo(nil), s.nodes...)
}

// StableHead reports whether OPTIMISTIC mode's termination predicate
// holds: more than K insert attempts have passed since the head changed.
func (s *ClosestSet) StableHead() bool { return s.attemptsSinceHead > s.k }

// StableTail reports whether CONSERVATIVE mode's termination predicate
// holds: more than K insert attempts have passed since the tail changed.
func (s *ClosestSet) StableTail() bool { return s.attemptsSinceTail > s.k }
