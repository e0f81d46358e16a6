package task

import (
	"github.com/elastos-carrier/carrier-go/id"
	"github.com/elastos-carrier/carrier-go/messages"
	"github.com/elastos-carrier/carrier-go/types"
)

// ValueLookup is a find_value lookup; Result holds the first validating
// value seen, once the lookup completes.
type ValueLookup struct {
	*Lookup
	Result *types.Value
}

// NewValueLookup builds a find_value lookup for target, optionally
// requiring the returned value's sequence to be >= expectedSequence.
func NewValueLookup(target id.ID, mode Mode, k int, seeds, bootstrap []types.NodeInfo, sender Sender, expectedSequence *int64, onDone func(*ValueLookup)) *ValueLookup {
	vl := &ValueLookup{}
	build := func(target id.ID, txID uint32) *messages.Message {
		return messages.NewFindValueRequest(txID, 1, target, messages.WantIPv4, expectedSequence)
	}
	handle := func(l *Lookup, c *Candidate, resp *messages.Message) bool {
		if resp.Response == nil {
			return false
		}
		if wv := resp.Response.Value; wv != nil && vl.Result == nil {
			if v := decodeAndValidate(target, wv, expectedSequence); v != nil {
				vl.Result = v
				return true
			}
		}
		l.AddContacts(resp.Response.Nodes4)
		l.AddContacts(resp.Response.Nodes6)
		l.ClosestSet.Insert(c.Node)
		return false
	}
	vl.Lookup = NewLookup(target, mode, k, seeds, bootstrap, sender, build, handle, func(l *Lookup) {
		if onDone != nil {
			onDone(vl)
		}
	})
	return vl
}

// decodeAndValidate reinterprets a wire value and checks that its id
// equals target, and that mutable values carry a verifying signature at
// or above the expected sequence.
func decodeAndValidate(target id.ID, wv *messages.WireValue, expectedSequence *int64) *types.Value {
	v := &types.Value{
		Nonce:     toNonce(wv.Nonce),
		Sequence:  wv.Sequence,
		Signature: wv.Signature,
		Data:      wv.Data,
	}
	if len(wv.PublicKey) > 0 {
		v.PublicKey = append([]byte(nil), wv.PublicKey...)
	}
	if len(wv.Recipient) > 0 {
		rid, err := id.FromBytes(wv.Recipient)
		if err != nil {
			return nil
		}
		v.Recipient = &rid
	}
	if v.ID() != target {
		return nil
	}
	if !v.IsValid() {
		return nil
	}
	if expectedSequence != nil && *expectedSequence >= 0 && int64(v.Sequence) < *expectedSequence {
		return nil
	}
	return v
}

func toNonce(b []byte) [24]byte {
	var n [24]byte
	copy(n[:], b)
	return n
}
