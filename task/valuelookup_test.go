package task

import (
	"crypto/ed25519"
	"net"
	"testing"
	"time"

	"github.com/elastos-carrier/carrier-go/messages"
	"github.com/elastos-carrier/carrier-go/types"
)

func TestValueLookupFindsImmutableValue(t *testing.T) {
	holder := types.NodeInfo{ID: mustRandomID(t), Addr: &net.UDPAddr{IP: net.ParseIP("203.0.113.9"), Port: 4100}}
	other := buildNetwork(t, 3)

	v := types.NewImmutableValue([]byte("hello carrier"))
	target := v.ID()
	wv := ToWireValue(v)

	sender := &fakeSender{respond: func(from types.NodeInfo, req *messages.Message) *messages.Message {
		if from.ID.Equal(holder.ID) {
			return messages.NewFindValueResponse(0, 1, nil, nil, nil, &wv)
		}
		return messages.NewFindValueResponse(0, 1, []messages.Contact{messages.ContactFrom(holder.ID, holder.Addr)}, nil, nil, nil)
	}}

	done := make(chan *ValueLookup, 1)
	vl := NewValueLookup(target, Conservative, K, other, nil, sender, nil, func(vl *ValueLookup) {
		done <- vl
	})
	vl.Start()

	select {
	case result := <-done:
		if result.Result == nil {
			t.Fatal("expected the lookup to recover the value")
		}
		if result.Result.ID() != target {
			t.Fatal("recovered value's id does not match the lookup target")
		}
		if string(result.Result.Data) != "hello carrier" {
			t.Fatalf("unexpected payload: %q", result.Result.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("value lookup never completed")
	}
}

func TestValueLookupRejectsStaleSequence(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	var nonce [24]byte
	v, err := types.NewSignedValue(pub, priv.Seed(), nonce, 1, []byte("v1"))
	if err != nil {
		t.Fatalf("NewSignedValue: %v", err)
	}
	target := v.ID()
	wv := ToWireValue(v)

	holder := types.NodeInfo{ID: mustRandomID(t), Addr: &net.UDPAddr{IP: net.ParseIP("203.0.113.9"), Port: 4100}}
	sender := &fakeSender{respond: func(from types.NodeInfo, req *messages.Message) *messages.Message {
		return messages.NewFindValueResponse(0, 1, nil, nil, nil, &wv)
	}}

	expected := int64(5)
	done := make(chan *ValueLookup, 1)
	vl := NewValueLookup(target, Arbitrary, K, []types.NodeInfo{holder}, nil, sender, &expected, func(vl *ValueLookup) {
		done <- vl
	})
	vl.Start()

	select {
	case result := <-done:
		if result.Result != nil {
			t.Fatal("a value below the expected sequence should not be accepted")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("value lookup never completed")
	}
}
