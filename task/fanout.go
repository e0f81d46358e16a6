package task

import (
	"fmt"

	"github.com/elastos-carrier/carrier-go/messages"
	"github.com/elastos-carrier/carrier-go/rpc"
	"github.com/elastos-carrier/carrier-go/types"
)

// FanOutTarget is one destination of a store/announce task: the contact
// plus the write token it issued during the preceding lookup.
type FanOutTarget struct {
	Node  types.NodeInfo
	Token []byte
}

// FanOutResult records the outcome of one destination's request.
type FanOutResult struct {
	Target FanOutTarget
	Err    error
}

// FanOut sends the same request shape (built per-target via build, since
// it must embed that target's token) to every target concurrently, per
// spec.md §4.3's store/announce description. onDone fires once with
// every result after all targets finish. Unlike a lookup, a store or
// announce fan-out has a small, already-known target set (the nodes
// visited during the preceding want_token lookup), so it is issued in
// one batch rather than windowed like Lookup.pump.
func FanOut(targets []FanOutTarget, sender Sender, build func(target FanOutTarget, txID uint32) *messages.Message, onDone func([]FanOutResult)) {
	if len(targets) == 0 {
		onDone(nil)
		return
	}
	results := make([]FanOutResult, len(targets))
	remaining := len(targets)
	var txIDSeq uint32
	finish := func(i int, err error) {
		results[i].Err = err
		remaining--
		if remaining == 0 {
			onDone(results)
		}
	}
	for i, target := range targets {
		i, target := i, target
		results[i].Target = target
		txIDSeq++
		req := build(target, txIDSeq)
		call := rpc.NewCall(target.Node, req, sender.EstimateTimeout(target.Node.Addr), func(call *rpc.Call, from, to rpc.State) {
			if !to.Terminal() {
				return
			}
			if to == rpc.Responded {
				finish(i, nil)
				return
			}
			err := call.Err
			if err == nil {
				err = fmt.Errorf("task: call to %s ended in state %s", target.Node.ID.Hex(), to)
			}
			finish(i, err)
		})
		if err := sender.Send(call); err != nil {
			finish(i, err)
		}
	}
}

