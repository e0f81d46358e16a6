package carrier

import (
	"errors"
	"net"

	"github.com/elastos-carrier/carrier-go/crypto"
	"github.com/elastos-carrier/carrier-go/types"
)

// Config is the plain, pre-validated setup a host application builds
// itself (spec.md §1 excludes config-file/flag parsing from this
// library's scope; SPEC_FULL.md §4.9 keeps the struct as the library's
// own surface).
type Config struct {
	// PrivateKey is the node's long-term Ed25519 identity seed
	// (crypto.PrivateKeySize bytes, as returned by crypto.GenerateKeyPair);
	// its derived public half becomes the node's routing ID.
	PrivateKey []byte
	// Addr4/Addr6 are the local sockets to bind for each address family.
	// A nil address disables that family's DHT instance entirely.
	Addr4, Addr6 *net.UDPAddr
	// DataDir holds the storage database file; empty opens an in-memory
	// store, useful for tests and ephemeral nodes.
	DataDir string
	// BootstrapNodes seeds lookups when the routing table is empty or thin.
	BootstrapNodes []*types.NodeInfo
}

func (c Config) validate() error {
	if len(c.PrivateKey) != crypto.PrivateKeySize {
		return errors.New("config: PrivateKey must be a 32-byte ed25519 seed")
	}
	if c.Addr4 == nil && c.Addr6 == nil {
		return errors.New("config: at least one of Addr4/Addr6 must be set")
	}
	return nil
}
