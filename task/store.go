package task

import (
	"github.com/elastos-carrier/carrier-go/messages"
	"github.com/elastos-carrier/carrier-go/types"
)

// ToWireValue strips v's private key and renders it for the wire.
func ToWireValue(v *types.Value) messages.WireValue {
	wv := messages.WireValue{
		Nonce:     append([]byte(nil), v.Nonce[:]...),
		Sequence:  v.Sequence,
		Signature: v.Signature,
		Data:      v.Data,
	}
	if v.PublicKey != nil {
		wv.PublicKey = append([]byte(nil), v.PublicKey...)
	}
	if v.Recipient != nil {
		wv.Recipient = append([]byte(nil), v.Recipient.Bytes()...)
	}
	return wv
}

// StoreValue issues store_value to every target from a preceding
// want_token node lookup, passing back each target's issued token.
func StoreValue(targets []FanOutTarget, v *types.Value, cas *uint32, sender Sender, onDone func([]FanOutResult)) {
	wv := ToWireValue(v)
	FanOut(targets, sender, func(target FanOutTarget, txID uint32) *messages.Message {
		return messages.NewStoreValueRequest(txID, 1, target.Token, wv, cas)
	}, onDone)
}
