package types

import (
	"net"

	"github.com/elastos-carrier/carrier-go/id"
)

// NodeInfo identifies a DHT node: its 256-bit ID, reachable socket address,
// and the software version it reports during ping (spec.md §3).
type NodeInfo struct {
	ID      id.ID
	Addr    *net.UDPAddr
	Version int32
}

// String renders NodeInfo for logging.
func (n *NodeInfo) String() string {
	if n == nil {
		return "<nil>"
	}
	return n.ID.Hex() + "@" + n.Addr.String()
}

// Equal compares two NodeInfo by ID and address only; Version is
// informational and excluded from identity comparison.
func (n *NodeInfo) Equal(other *NodeInfo) bool {
	if n == nil || other == nil {
		return n == other
	}
	if !n.ID.Equal(other.ID) {
		return false
	}
	if (n.Addr == nil) != (other.Addr == nil) {
		return false
	}
	if n.Addr == nil {
		return true
	}
	return n.Addr.IP.Equal(other.Addr.IP) && n.Addr.Port == other.Addr.Port
}
