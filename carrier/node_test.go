package carrier

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/elastos-carrier/carrier-go/crypto"
	"github.com/elastos-carrier/carrier-go/task"
	"github.com/elastos-carrier/carrier-go/types"
)

func mustKeyPair(t *testing.T) (pub []byte, priv []byte) {
	t.Helper()
	pubKey, privKey, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	return pubKey, privKey
}

func loopbackAddr(t *testing.T) *net.UDPAddr {
	t.Helper()
	return &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
}

// newTestNode builds a Node bound to an ephemeral loopback v4 port, with
// an in-memory store, and registers its teardown.
func newTestNode(t *testing.T, bootstrap []*types.NodeInfo) *Node {
	t.Helper()
	_, priv := mustKeyPair(t)
	n, err := New(Config{
		PrivateKey:     priv,
		Addr4:          loopbackAddr(t),
		BootstrapNodes: bootstrap,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { n.Stop() })
	return n
}

func nodeInfo(n *Node) types.NodeInfo {
	return types.NodeInfo{ID: n.LocalID(), Addr: n.v4.conn.LocalAddr().(*net.UDPAddr)}
}

func TestNodePingRoundTrip(t *testing.T) {
	a := newTestNode(t, nil)
	b := newTestNode(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ok, err := a.Ping(ctx, nodeInfo(b))
	if err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if !ok {
		t.Fatal("expected ping to succeed")
	}
}

func TestNodeFindNodeDiscoversBootstrapPeer(t *testing.T) {
	seed := newTestNode(t, nil)
	info := nodeInfo(seed)
	joiner := newTestNode(t, []*types.NodeInfo{&info})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	target := joiner.LocalID()
	nodes, err := joiner.FindNode(ctx, target, task.Conservative)
	if err != nil {
		t.Fatalf("FindNode: %v", err)
	}
	found := false
	for _, nd := range nodes {
		if nd.ID == seed.LocalID() {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected seed %s among %d results", seed.LocalID().Hex(), len(nodes))
	}
}

func TestNodeStoreValueThenFindValueRoundTrips(t *testing.T) {
	seed := newTestNode(t, nil)
	info := nodeInfo(seed)
	writer := newTestNode(t, []*types.NodeInfo{&info})
	reader := newTestNode(t, []*types.NodeInfo{&info})

	v := types.NewImmutableValue([]byte("hello carrier"))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := writer.StoreValue(ctx, v, false, nil); err != nil {
		t.Fatalf("StoreValue: %v", err)
	}

	got, err := reader.FindValue(context.Background(), v.ID(), task.Conservative, nil)
	if err != nil {
		t.Fatalf("FindValue: %v", err)
	}
	if got == nil {
		t.Fatal("expected to find the stored value")
	}
	if string(got.Data) != "hello carrier" {
		t.Fatalf("got data %q", got.Data)
	}
}

func TestNodeAnnounceSelfThenFindPeerRoundTrips(t *testing.T) {
	seed := newTestNode(t, nil)
	info := nodeInfo(seed)
	announcer := newTestNode(t, []*types.NodeInfo{&info})
	finder := newTestNode(t, []*types.NodeInfo{&info})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := announcer.AnnounceSelf(ctx, 12345, "", false); err != nil {
		t.Fatalf("AnnounceSelf: %v", err)
	}

	peers, err := finder.FindPeer(context.Background(), announcer.LocalID(), 8, task.Conservative)
	if err != nil {
		t.Fatalf("FindPeer: %v", err)
	}
	if len(peers) == 0 {
		t.Fatal("expected at least one peer")
	}
	if peers[0].Port != 12345 {
		t.Fatalf("got port %d, want 12345", peers[0].Port)
	}
}

func TestNodeFindValueReturnsNilWhenAbsent(t *testing.T) {
	seed := newTestNode(t, nil)
	info := nodeInfo(seed)
	reader := newTestNode(t, []*types.NodeInfo{&info})

	missing := types.NewImmutableValue([]byte("never stored")).ID()

	v, err := reader.FindValue(context.Background(), missing, task.Conservative, nil)
	if err != nil {
		t.Fatalf("FindValue: %v", err)
	}
	if v != nil {
		t.Fatalf("expected no value, got %v", v)
	}
}
