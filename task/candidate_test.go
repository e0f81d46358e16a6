package task

import (
	"net"
	"testing"

	"github.com/elastos-carrier/carrier-go/types"
)

func TestClosestCandidatesDedupAndOrder(t *testing.T) {
	target := mustRandomID(t)
	c := NewClosestCandidates(target, 2) // capacity 3*2 = 6
	n1 := types.NodeInfo{ID: mustRandomID(t), Addr: &net.UDPAddr{IP: net.ParseIP("203.0.113.1"), Port: 4000}}
	n2 := types.NodeInfo{ID: mustRandomID(t), Addr: &net.UDPAddr{IP: net.ParseIP("203.0.113.2"), Port: 4000}}

	if !c.Add(n1) {
		t.Fatal("first add should succeed")
	}
	if c.Add(n1) {
		t.Fatal("duplicate id should be rejected")
	}
	sameAddr := n2
	sameAddr.ID = mustRandomID(t)
	sameAddr.Addr = n1.Addr
	if c.Add(sameAddr) {
		t.Fatal("duplicate address under a different id should be rejected")
	}
	if !c.Add(n2) {
		t.Fatal("distinct id and address should be accepted")
	}
	if c.Len() != 2 {
		t.Fatalf("expected 2 candidates, got %d", c.Len())
	}
}

func TestClosestCandidatesNextSkipsInFlightAndFailed(t *testing.T) {
	target := mustRandomID(t)
	c := NewClosestCandidates(target, 8)
	for i := 0; i < 3; i++ {
		c.Add(types.NodeInfo{ID: mustRandomID(t), Addr: &net.UDPAddr{IP: net.ParseIP("203.0.113.1"), Port: 4000 + i}})
	}
	all := c.All()
	all[0].MarkSent() // now in flight
	for i := 0; i < 3; i++ {
		all[1].MarkSent()
		all[1].MarkDone(true) // fail 3 times
	}

	next := c.Next(10)
	for _, n := range next {
		if n.Node.ID.Equal(all[0].Node.ID) {
			t.Fatal("in-flight candidate should not be eligible")
		}
		if n.Node.ID.Equal(all[1].Node.ID) {
			t.Fatal("thrice-failed candidate should not be eligible")
		}
	}
	if len(next) != 1 {
		t.Fatalf("expected exactly 1 eligible candidate, got %d", len(next))
	}
}
