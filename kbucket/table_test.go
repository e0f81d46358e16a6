package kbucket

import (
	"net"
	"testing"

	"github.com/elastos-carrier/carrier-go/id"
	"github.com/elastos-carrier/carrier-go/types"
)

func mustRandomID(t *testing.T) id.ID {
	t.Helper()
	v, err := id.Random()
	if err != nil {
		t.Fatalf("Random: %v", err)
	}
	return v
}

func reachableEntry(t *testing.T, ip string, port int) *Entry {
	t.Helper()
	info := types.NodeInfo{ID: mustRandomID(t), Addr: &net.UDPAddr{IP: net.ParseIP(ip), Port: port}}
	e := NewEntry(info)
	e.OnResponse()
	return e
}

func TestNewRoutingTableHasSingleHomeBucket(t *testing.T) {
	local := mustRandomID(t)
	tab := NewRoutingTable(local)
	buckets := tab.Buckets()
	if len(buckets) != 1 {
		t.Fatalf("expected 1 bucket, got %d", len(buckets))
	}
	if !buckets[0].IsHome {
		t.Fatal("sole bucket must be the home bucket")
	}
	if !buckets[0].Prefix.IsPrefixOf(local) {
		t.Fatal("home bucket must cover the local id")
	}
}

func TestPutInsertsReachableEntry(t *testing.T) {
	local := mustRandomID(t)
	tab := NewRoutingTable(local)
	e := reachableEntry(t, "203.0.113.1", 4000)
	if !tab.Put(e) {
		t.Fatal("Put should accept a reachable entry into a non-full bucket")
	}
	if got := tab.Find(e.ID); got == nil {
		t.Fatal("entry should be findable after Put")
	}
	if tab.Size() != 1 {
		t.Fatalf("Size: got %d, want 1", tab.Size())
	}
}

func TestPutUnreachableGoesToReplacements(t *testing.T) {
	local := mustRandomID(t)
	tab := NewRoutingTable(local)
	info := types.NodeInfo{ID: mustRandomID(t), Addr: &net.UDPAddr{IP: net.ParseIP("203.0.113.2"), Port: 4000}}
	e := NewEntry(info)
	if tab.Put(e) {
		t.Fatal("Put should not directly insert an unverified entry")
	}
	if tab.Size() != 0 {
		t.Fatalf("unreachable entry should not count toward Size: got %d", tab.Size())
	}
}

func TestPutRejectsIDConflict(t *testing.T) {
	local := mustRandomID(t)
	tab := NewRoutingTable(local)
	original := reachableEntry(t, "203.0.113.3", 4000)
	tab.Put(original)

	imposter := *original
	imposter.Addr = &net.UDPAddr{IP: net.ParseIP("203.0.113.4"), Port: 4000}
	if tab.Put(&imposter) {
		t.Fatal("Put should reject an entry claiming an existing id from a different address")
	}
	got := tab.Find(original.ID)
	if got == nil || !got.Addr.IP.Equal(net.ParseIP("203.0.113.3")) {
		t.Fatal("original entry's address should be preserved on conflict")
	}
}

func TestBucketSplitsWhenHomeBucketFull(t *testing.T) {
	local := mustRandomID(t)
	tab := NewRoutingTable(local)
	for i := 0; i < K+5; i++ {
		e := reachableEntry(t, "203.0.113.1", 5000+i)
		// Ensure distinct IPs so the diversity limiter never blocks the insert.
		e.Addr.IP = net.ParseIP("203.0." + itoaSmall(i) + ".1")
		tab.Put(e)
	}
	buckets := tab.Buckets()
	if len(buckets) <= 1 {
		t.Fatalf("expected the table to split past one bucket, got %d buckets", len(buckets))
	}
	homeBuckets := 0
	for _, b := range buckets {
		if b.IsHome {
			homeBuckets++
		}
		if b.Len() > K {
			t.Fatalf("bucket exceeds K=%d entries: %d", K, b.Len())
		}
	}
	if homeBuckets != 1 {
		t.Fatalf("expected exactly one home bucket, got %d", homeBuckets)
	}
}

func TestOnTimeoutEventuallyRemovesEntry(t *testing.T) {
	local := mustRandomID(t)
	tab := NewRoutingTable(local)
	e := reachableEntry(t, "203.0.113.9", 4000)
	tab.Put(e)
	for i := 0; i <= KBucketMaxTimeouts; i++ {
		tab.OnSend(e.ID)
		tab.OnTimeout(e.ID)
	}
	if got := tab.Find(e.ID); got != nil {
		t.Fatal("entry exceeding the timeout budget without being reseen should be removed")
	}
}

func TestClosestEntriesOrderedByDistance(t *testing.T) {
	local := mustRandomID(t)
	tab := NewRoutingTable(local)
	target := mustRandomID(t)
	for i := 0; i < 5; i++ {
		e := reachableEntry(t, "203.0."+itoaSmall(i)+".1", 4000+i)
		tab.Put(e)
	}
	closest := tab.ClosestEntries(target, 3)
	if len(closest) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(closest))
	}
	for i := 1; i < len(closest); i++ {
		if id.CloserThan(target, closest[i].ID, closest[i-1].ID) {
			t.Fatal("ClosestEntries should be sorted by ascending distance to target")
		}
	}
}

func itoaSmall(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [4]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
