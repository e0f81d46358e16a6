package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/elastos-carrier/carrier-go/id"
	"github.com/elastos-carrier/carrier-go/metrics"
	"github.com/elastos-carrier/carrier-go/types"
)

// ErrPeerNotFound is returned by UpdatePeerLastAnnounce for an unknown
// (peer_id, origin_id) pair.
var ErrPeerNotFound = errors.New("storage: peer not found")

// PutPeer stores p under its (peer_id, origin_id) key, rejecting it if its
// signature does not validate.
func (s *Store) PutPeer(p *types.PeerInfo, persistent bool, now time.Time) error {
	if !p.IsValid() {
		return ErrInvalidValue
	}
	_, err := s.db.Exec(`
		INSERT INTO peers (peer_id, origin_id, private_key, node_id, port, alternative_url, signature, last_announce, persistent)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (peer_id, origin_id) DO UPDATE SET
			private_key = EXCLUDED.private_key,
			node_id = EXCLUDED.node_id,
			port = EXCLUDED.port,
			alternative_url = EXCLUDED.alternative_url,
			signature = EXCLUDED.signature,
			last_announce = EXCLUDED.last_announce,
			persistent = EXCLUDED.persistent
	`, p.PeerID.Bytes(), p.OriginID.Bytes(), nullableBytes(p.PrivateKey), p.NodeID.Bytes(), p.Port, nullableString(p.AlternativeURL), p.Signature, unixMillis(now), persistent)
	if err != nil {
		return fmt.Errorf("storage: put_peer: %w", err)
	}
	s.refreshCounts()
	return nil
}

// GetPeer returns the announcement made by originID for peerID, or
// (nil, nil) if none exists.
func (s *Store) GetPeer(peerID, originID id.ID) (*types.PeerInfo, error) {
	row := s.db.QueryRow(`SELECT private_key, node_id, port, alternative_url, signature FROM peers WHERE peer_id = ? AND origin_id = ?`, peerID.Bytes(), originID.Bytes())
	return scanPeer(row, peerID, originID)
}

// GetPeers returns up to limit announcements filed under peerID, across
// every origin that announced it.
func (s *Store) GetPeers(peerID id.ID, limit int) ([]*types.PeerInfo, error) {
	rows, err := s.db.Query(`SELECT origin_id, private_key, node_id, port, alternative_url, signature FROM peers WHERE peer_id = ? LIMIT ?`, peerID.Bytes(), limit)
	if err != nil {
		return nil, fmt.Errorf("storage: get_peers: %w", err)
	}
	defer rows.Close()

	var out []*types.PeerInfo
	for rows.Next() {
		var originBytes, privateKey, nodeBytes, altURL []byte
		var port uint16
		var signature []byte
		if err := rows.Scan(&originBytes, &privateKey, &nodeBytes, &port, &altURL, &signature); err != nil {
			return nil, fmt.Errorf("storage: get_peers: scan: %w", err)
		}
		originID, err := id.FromBytes(originBytes)
		if err != nil {
			return nil, fmt.Errorf("storage: get_peers: corrupt origin id: %w", err)
		}
		nodeID, err := id.FromBytes(nodeBytes)
		if err != nil {
			return nil, fmt.Errorf("storage: get_peers: corrupt node id: %w", err)
		}
		p := &types.PeerInfo{
			PeerID:          peerID,
			PrivateKey:      privateKey,
			NodeID:          nodeID,
			OriginID:        originID,
			Port:            port,
			AlternativeURL:  string(altURL),
			HasAlternateURL: len(altURL) > 0,
			Signature:       signature,
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPeer(row *sql.Row, peerID, originID id.ID) (*types.PeerInfo, error) {
	var privateKey, nodeBytes, altURL, signature []byte
	var port uint16
	err := row.Scan(&privateKey, &nodeBytes, &port, &altURL, &signature)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get_peer: %w", err)
	}
	nodeID, err := id.FromBytes(nodeBytes)
	if err != nil {
		return nil, fmt.Errorf("storage: get_peer: corrupt node id: %w", err)
	}
	return &types.PeerInfo{
		PeerID:          peerID,
		PrivateKey:      privateKey,
		NodeID:          nodeID,
		OriginID:        originID,
		Port:            port,
		AlternativeURL:  string(altURL),
		HasAlternateURL: len(altURL) > 0,
		Signature:       signature,
	}, nil
}

// RemovePeer deletes the (peerID, originID) announcement, if any.
func (s *Store) RemovePeer(peerID, originID id.ID) error {
	if _, err := s.db.Exec(`DELETE FROM peers WHERE peer_id = ? AND origin_id = ?`, peerID.Bytes(), originID.Bytes()); err != nil {
		return fmt.Errorf("storage: remove_peer: %w", err)
	}
	s.refreshCounts()
	return nil
}

// UpdatePeerLastAnnounce bumps (peerID, originID)'s last_announce to now.
func (s *Store) UpdatePeerLastAnnounce(peerID, originID id.ID, now time.Time) error {
	res, err := s.db.Exec(`UPDATE peers SET last_announce = ? WHERE peer_id = ? AND origin_id = ?`, unixMillis(now), peerID.Bytes(), originID.Bytes())
	if err != nil {
		return fmt.Errorf("storage: update_peer_last_announce: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrPeerNotFound
	}
	return nil
}

// PersistentPeer pairs a stored peer announcement with the key it was
// filed under.
type PersistentPeer struct {
	PeerID, OriginID id.ID
	Peer             *types.PeerInfo
}

// GetPersistentPeers returns persistent peer announcements whose
// last_announce is older than before.
func (s *Store) GetPersistentPeers(before time.Time) ([]PersistentPeer, error) {
	rows, err := s.db.Query(`SELECT peer_id, origin_id, private_key, node_id, port, alternative_url, signature FROM peers WHERE persistent = TRUE AND last_announce < ?`, unixMillis(before))
	if err != nil {
		return nil, fmt.Errorf("storage: get_persistent_peers: %w", err)
	}
	defer rows.Close()

	var out []PersistentPeer
	for rows.Next() {
		var peerBytes, originBytes, privateKey, nodeBytes, altURL, signature []byte
		var port uint16
		if err := rows.Scan(&peerBytes, &originBytes, &privateKey, &nodeBytes, &port, &altURL, &signature); err != nil {
			return nil, fmt.Errorf("storage: get_persistent_peers: scan: %w", err)
		}
		peerID, err := id.FromBytes(peerBytes)
		if err != nil {
			return nil, fmt.Errorf("storage: get_persistent_peers: corrupt peer id: %w", err)
		}
		originID, err := id.FromBytes(originBytes)
		if err != nil {
			return nil, fmt.Errorf("storage: get_persistent_peers: corrupt origin id: %w", err)
		}
		nodeID, err := id.FromBytes(nodeBytes)
		if err != nil {
			return nil, fmt.Errorf("storage: get_persistent_peers: corrupt node id: %w", err)
		}
		out = append(out, PersistentPeer{
			PeerID:   peerID,
			OriginID: originID,
			Peer: &types.PeerInfo{
				PeerID:          peerID,
				PrivateKey:      privateKey,
				NodeID:          nodeID,
				OriginID:        originID,
				Port:            port,
				AlternativeURL:  string(altURL),
				HasAlternateURL: len(altURL) > 0,
				Signature:       signature,
			},
		})
	}
	return out, rows.Err()
}

// PurgeExpiredPeers deletes non-persistent peer announcements whose
// last_announce is older than MaxPeerAge relative to now.
func (s *Store) PurgeExpiredPeers(now time.Time) (int64, error) {
	cutoff := unixMillis(now.Add(-MaxPeerAge))
	res, err := s.db.Exec(`DELETE FROM peers WHERE persistent = FALSE AND last_announce < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("storage: purge_expired_peers: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		metrics.StorageExpired.Mark(n)
		s.refreshCounts()
		log.Debugf("purged %d expired peer(s)", n)
	}
	return n, nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
