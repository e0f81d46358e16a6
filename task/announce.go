package task

import (
	"github.com/elastos-carrier/carrier-go/id"
	"github.com/elastos-carrier/carrier-go/messages"
	"github.com/elastos-carrier/carrier-go/types"
)

// AnnouncePeer issues announce_peer to every target from a preceding
// want_token node lookup, passing back each target's issued token.
func AnnouncePeer(targets []FanOutTarget, p *types.PeerInfo, sender Sender, onDone func([]FanOutResult)) {
	var proxyID *id.ID
	if p.IsDelegated() {
		origin := p.OriginID
		proxyID = &origin
	}
	FanOut(targets, sender, func(target FanOutTarget, txID uint32) *messages.Message {
		return messages.NewAnnouncePeerRequest(txID, 1, target.Token, p.PeerID, p.NodeID, proxyID, p.Port, p.AlternativeURL, p.Signature)
	}, onDone)
}
