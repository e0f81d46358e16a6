package task

import (
	"github.com/elastos-carrier/carrier-go/id"
	"github.com/elastos-carrier/carrier-go/messages"
	"github.com/elastos-carrier/carrier-go/types"
)

// PeerLookup is a find_peer lookup; Results accumulates matching,
// validated peer announcements as they arrive.
type PeerLookup struct {
	*Lookup
	MaxPeers int
	Results  []*types.PeerInfo
}

// NewPeerLookup builds a find_peer lookup for peerID, stopping once
// maxPeers validating peers have been collected or the set stabilizes.
func NewPeerLookup(peerID id.ID, mode Mode, k int, seeds, bootstrap []types.NodeInfo, sender Sender, maxPeers int, onDone func(*PeerLookup)) *PeerLookup {
	pl := &PeerLookup{MaxPeers: maxPeers}
	build := func(target id.ID, txID uint32) *messages.Message {
		return messages.NewFindPeerRequest(txID, 1, target, messages.WantIPv4, maxPeers)
	}
	handle := func(l *Lookup, c *Candidate, resp *messages.Message) bool {
		if resp.Response == nil {
			return false
		}
		for _, wp := range resp.Response.Peers {
			pi := decodePeer(wp)
			if pi != nil && pi.IsValid() {
				pl.Results = append(pl.Results, pi)
			}
		}
		l.AddContacts(resp.Response.Nodes4)
		l.AddContacts(resp.Response.Nodes6)
		l.ClosestSet.Insert(c.Node)
		if maxPeers > 0 && len(pl.Results) >= maxPeers {
			return true
		}
		return false
	}
	pl.Lookup = NewLookup(peerID, mode, k, seeds, bootstrap, sender, build, handle, func(l *Lookup) {
		if onDone != nil {
			onDone(pl)
		}
	})
	return pl
}

func decodePeer(wp messages.WirePeer) *types.PeerInfo {
	originID := wp.NodeID
	if wp.OriginID != nil {
		originID = *wp.OriginID
	}
	return &types.PeerInfo{
		PeerID:          wp.PeerID,
		NodeID:          wp.NodeID,
		OriginID:        originID,
		Port:            wp.Port,
		AlternativeURL:  wp.AlternativeURL,
		HasAlternateURL: wp.AlternativeURL != "",
		Signature:       wp.Signature,
	}
}
