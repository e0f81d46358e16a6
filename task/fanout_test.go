package task

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/elastos-carrier/carrier-go/messages"
	"github.com/elastos-carrier/carrier-go/types"
)

func targetsFrom(nodes []types.NodeInfo, token []byte) []FanOutTarget {
	out := make([]FanOutTarget, len(nodes))
	for i, n := range nodes {
		out[i] = FanOutTarget{Node: n, Token: token}
	}
	return out
}

func TestFanOutReportsEveryTarget(t *testing.T) {
	nodes := buildNetwork(t, 4)
	sender := &fakeSender{respond: func(from types.NodeInfo, req *messages.Message) *messages.Message {
		if from.Addr.Port == nodes[2].Addr.Port {
			return nil // simulate a timeout from one target
		}
		return messages.NewStoreValueResponse(0, 1)
	}}

	done := make(chan []FanOutResult, 1)
	FanOut(targetsFrom(nodes, []byte("tok")), sender, func(target FanOutTarget, txID uint32) *messages.Message {
		return messages.NewStoreValueRequest(txID, 1, target.Token, messages.WireValue{Data: []byte("x")}, nil)
	}, func(results []FanOutResult) {
		done <- results
	})

	select {
	case results := <-done:
		if len(results) != len(nodes) {
			t.Fatalf("expected %d results, got %d", len(nodes), len(results))
		}
		failures := 0
		for _, r := range results {
			if r.Err != nil {
				failures++
			}
		}
		if failures != 1 {
			t.Fatalf("expected exactly 1 failure, got %d", failures)
		}
	case <-time.After(time.Second):
		t.Fatal("fan-out never completed")
	}
}

func TestFanOutEmptyTargetsCallsDoneImmediately(t *testing.T) {
	done := make(chan []FanOutResult, 1)
	FanOut(nil, &fakeSender{}, func(target FanOutTarget, txID uint32) *messages.Message {
		t.Fatal("build should not be called with no targets")
		return nil
	}, func(results []FanOutResult) {
		done <- results
	})
	select {
	case results := <-done:
		if results != nil {
			t.Fatalf("expected nil results, got %v", results)
		}
	default:
		t.Fatal("onDone should fire synchronously for an empty target list")
	}
}

func TestStoreValueSendsToEveryTarget(t *testing.T) {
	nodes := buildNetwork(t, 3)
	var gotTokens [][]byte
	sender := &fakeSender{respond: func(from types.NodeInfo, req *messages.Message) *messages.Message {
		gotTokens = append(gotTokens, req.Request.Token)
		return messages.NewStoreValueResponse(0, 1)
	}}
	v := types.NewImmutableValue([]byte("payload"))

	done := make(chan []FanOutResult, 1)
	StoreValue(targetsFrom(nodes, []byte("abc")), v, nil, sender, func(results []FanOutResult) {
		done <- results
	})

	select {
	case results := <-done:
		for _, r := range results {
			if r.Err != nil {
				t.Fatalf("unexpected failure: %v", r.Err)
			}
		}
	case <-time.After(time.Second):
		t.Fatal("store value fan-out never completed")
	}
	if len(gotTokens) != len(nodes) {
		t.Fatalf("expected %d requests, got %d", len(nodes), len(gotTokens))
	}
	for _, tok := range gotTokens {
		if string(tok) != "abc" {
			t.Fatalf("expected token %q forwarded, got %q", "abc", tok)
		}
	}
}

func TestAnnouncePeerCarriesProxyIDWhenDelegated(t *testing.T) {
	self := buildNetwork(t, 1)[0]
	delegate := buildNetwork(t, 1)[0]
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	p, err := types.NewDelegatedPeerInfo(pub, priv.Seed(), self.ID, delegate.ID, 1234, "")
	if err != nil {
		t.Fatalf("NewDelegatedPeerInfo: %v", err)
	}

	var sawProxy bool
	sender := &fakeSender{respond: func(from types.NodeInfo, req *messages.Message) *messages.Message {
		sawProxy = req.Request.ProxyID != nil
		return messages.NewAnnouncePeerResponse(0, 1)
	}}

	targets := buildNetwork(t, 2)
	done := make(chan []FanOutResult, 1)
	AnnouncePeer(targetsFrom(targets, []byte("t")), p, sender, func(results []FanOutResult) {
		done <- results
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("announce fan-out never completed")
	}
	if !sawProxy {
		t.Fatal("expected a delegated announcement to carry a proxy id")
	}
}
