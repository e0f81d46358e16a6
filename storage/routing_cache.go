package storage

import (
	"fmt"
	"net"
	"time"

	"github.com/elastos-carrier/carrier-go/id"
	"github.com/elastos-carrier/carrier-go/types"
)

// CachedNode is one routing_cache row: a node worth re-seeding a routing
// table from across restarts.
type CachedNode struct {
	Info      types.NodeInfo
	CreatedAt time.Time
	LastSeen  time.Time
}

// SaveRoutingCache replaces the routing_cache table's contents with
// nodes, the snapshot taken on Node.stop() per spec.md §4.5.
func (s *Store) SaveRoutingCache(nodes []CachedNode) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("storage: save_routing_cache: begin: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM routing_cache`); err != nil {
		tx.Rollback()
		return fmt.Errorf("storage: save_routing_cache: clear: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO routing_cache (id, address, port, version, created_at, last_seen) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("storage: save_routing_cache: prepare: %w", err)
	}
	defer stmt.Close()
	for _, n := range nodes {
		if _, err := stmt.Exec(n.Info.ID.Bytes(), n.Info.Addr.IP.String(), n.Info.Addr.Port, n.Info.Version, unixMillis(n.CreatedAt), unixMillis(n.LastSeen)); err != nil {
			tx.Rollback()
			return fmt.Errorf("storage: save_routing_cache: insert: %w", err)
		}
	}
	return tx.Commit()
}

// LoadRoutingCache returns the persisted routing table snapshot, used to
// seed bootstrap candidates on Node.start() before the network has
// replied to anything.
func (s *Store) LoadRoutingCache() ([]CachedNode, error) {
	rows, err := s.db.Query(`SELECT id, address, port, version, created_at, last_seen FROM routing_cache`)
	if err != nil {
		return nil, fmt.Errorf("storage: load_routing_cache: %w", err)
	}
	defer rows.Close()

	var out []CachedNode
	for rows.Next() {
		var idBytes []byte
		var address string
		var port int
		var version int32
		var createdAtMillis, lastSeenMillis int64
		if err := rows.Scan(&idBytes, &address, &port, &version, &createdAtMillis, &lastSeenMillis); err != nil {
			return nil, fmt.Errorf("storage: load_routing_cache: scan: %w", err)
		}
		nodeID, err := id.FromBytes(idBytes)
		if err != nil {
			return nil, fmt.Errorf("storage: load_routing_cache: corrupt id: %w", err)
		}
		out = append(out, CachedNode{
			Info: types.NodeInfo{
				ID:      nodeID,
				Addr:    &net.UDPAddr{IP: net.ParseIP(address), Port: port},
				Version: version,
			},
			CreatedAt: time.UnixMilli(createdAtMillis),
			LastSeen:  time.UnixMilli(lastSeenMillis),
		})
	}
	return out, rows.Err()
}
