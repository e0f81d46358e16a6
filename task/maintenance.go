package task

import (
	"github.com/elastos-carrier/carrier-go/id"
	"github.com/elastos-carrier/carrier-go/messages"
	"github.com/elastos-carrier/carrier-go/rpc"
	"github.com/elastos-carrier/carrier-go/types"
)

// RoutingTableSink is the subset of *kbucket.RoutingTable the ping task
// needs, kept as an interface so task stays free of a kbucket import
// cycle and easy to fake in tests.
type RoutingTableSink interface {
	OnSend(nodeID id.ID)
	OnTimeout(nodeID id.ID)
	OnResponse(info types.NodeInfo)
}

// Ping sends a single liveness probe to node, updating table on the
// outcome. It is the maintenance loop's building block for bucket
// refresh candidate verification and random pings.
func Ping(node types.NodeInfo, sender Sender, table RoutingTableSink, onDone func(ok bool)) {
	table.OnSend(node.ID)
	req := messages.NewPingRequest(0, 1)
	call := rpc.NewCall(node, req, sender.EstimateTimeout(node.Addr), func(call *rpc.Call, from, to rpc.State) {
		if !to.Terminal() {
			return
		}
		switch to {
		case rpc.Responded:
			table.OnResponse(node)
			if onDone != nil {
				onDone(true)
			}
		default:
			table.OnTimeout(node.ID)
			if onDone != nil {
				onDone(false)
			}
		}
	})
	if err := sender.Send(call); err != nil {
		table.OnTimeout(node.ID)
		if onDone != nil {
			onDone(false)
		}
	}
}

// RefreshBucket runs a node lookup for a random ID within prefix, the
// maintenance action for a bucket that has gone BucketRefreshInterval
// without activity.
func RefreshBucket(prefix id.Prefix, k int, seeds, bootstrap []types.NodeInfo, sender Sender, onDone func(*Lookup)) (*Lookup, error) {
	target, err := prefix.RandomIDInPrefix()
	if err != nil {
		return nil, err
	}
	return NewNodeLookup(target, Conservative, k, seeds, bootstrap, sender, false, onDone), nil
}
