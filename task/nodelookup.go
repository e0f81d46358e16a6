package task

import (
	"github.com/elastos-carrier/carrier-go/id"
	"github.com/elastos-carrier/carrier-go/messages"
	"github.com/elastos-carrier/carrier-go/types"
)

// NewNodeLookup builds a find_node lookup for target. wantToken requests
// a write token from each responder, for a subsequent store/announce.
func NewNodeLookup(target id.ID, mode Mode, k int, seeds, bootstrap []types.NodeInfo, sender Sender, wantToken bool, onDone func(*Lookup)) *Lookup {
	want := messages.WantIPv4
	if wantToken {
		want |= messages.WantToken
	}
	build := func(target id.ID, txID uint32) *messages.Message {
		return messages.NewFindNodeRequest(txID, 1, target, want)
	}
	handle := func(l *Lookup, c *Candidate, resp *messages.Message) bool {
		if resp.Response == nil {
			return false
		}
		l.AddContacts(resp.Response.Nodes4)
		l.AddContacts(resp.Response.Nodes6)
		if len(resp.Response.Token) > 0 {
			c.Token = resp.Response.Token
		}
		l.ClosestSet.Insert(c.Node)
		return l.ClosestSet.Full()
	}
	return NewLookup(target, mode, k, seeds, bootstrap, sender, build, handle, onDone)
}
