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

// Errors returned by PutValue's validation and CAS checks.
var (
	ErrInvalidValue  = errors.New("storage: value does not validate")
	ErrStaleSequence = errors.New("storage: sequence number is not strictly greater than the stored one")
	ErrCASMismatch   = errors.New("storage: expected_sequence does not match the stored sequence")
	ErrValueNotFound = errors.New("storage: value not found")
)

// PutValue stores v, rejecting it if invalid or if it loses to the
// existing row's compare-and-swap check, per spec.md §4.4. now stamps
// last_announce.
//
// The CAS check and the write that depends on it happen in the same
// UPDATE statement, so two concurrent PutValue calls for the same
// mutable id can never both observe a stale sequence_number and both
// proceed: the database, not this function, is the thing that decides
// which writer wins.
func (s *Store) PutValue(v *types.Value, expectedSequence *int64, persistent bool, now time.Time) error {
	if !v.IsValid() {
		return ErrInvalidValue
	}
	vid := v.ID()

	var publicKey, recipient, signature []byte
	if v.PublicKey != nil {
		publicKey = v.PublicKey
	}
	if v.Recipient != nil {
		recipient = v.Recipient.Bytes()
	}
	if len(v.Signature) > 0 {
		signature = v.Signature
	}

	if !v.IsMutable() {
		// Immutable values are content-addressed: the id already commits
		// to data, so no CAS guard applies and a repeated store is a
		// no-op rather than an error.
		if _, err := s.db.Exec(`INSERT OR IGNORE INTO "values" (id, nonce, sequence_number, signature, data, last_announce, persistent) VALUES (?, ?, 0, ?, ?, ?, ?)`,
			vid.Bytes(), v.Nonce[:], signature, v.Data, unixMillis(now), persistent); err != nil {
			return fmt.Errorf("storage: put_value insert: %w", err)
		}
		s.refreshCounts()
		return nil
	}

	var expectedSeq interface{}
	if expectedSequence != nil {
		expectedSeq = uint32(*expectedSequence)
	}

	res, err := s.db.Exec(`UPDATE "values" SET public_key=?, recipient=?, nonce=?, sequence_number=?, signature=?, data=?, last_announce=?, persistent=?
		WHERE id=? AND sequence_number<? AND (? IS NULL OR sequence_number=?)`,
		publicKey, recipient, v.Nonce[:], v.Sequence, signature, v.Data, unixMillis(now), persistent,
		vid.Bytes(), v.Sequence, expectedSeq, expectedSeq)
	if err != nil {
		return fmt.Errorf("storage: put_value update: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.refreshCounts()
		return nil
	}

	// The UPDATE matched no row: either there is no row yet (first write)
	// or an existing row failed the CAS guard. INSERT is itself the
	// atomic tie-breaker — it only succeeds against a genuinely absent
	// row, since id is the primary key.
	if _, err := s.db.Exec(`INSERT INTO "values" (id, public_key, recipient, nonce, sequence_number, signature, data, last_announce, persistent) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		vid.Bytes(), publicKey, recipient, v.Nonce[:], v.Sequence, signature, v.Data, unixMillis(now), persistent); err == nil {
		s.refreshCounts()
		return nil
	}

	existingSeq, lookupErr := s.sequenceOf(vid)
	if lookupErr != nil {
		return lookupErr
	}
	if v.Sequence <= existingSeq {
		return ErrStaleSequence
	}
	return ErrCASMismatch
}

// sequenceOf reports the stored sequence number for vid, used only to
// choose which CAS error PutValue reports after an UPDATE/INSERT race
// has already resolved which write won.
func (s *Store) sequenceOf(vid id.ID) (uint32, error) {
	var seq uint32
	err := s.db.QueryRow(`SELECT sequence_number FROM "values" WHERE id = ?`, vid.Bytes()).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("storage: put_value: %w", err)
	}
	return seq, nil
}

// GetValue returns the stored value for id, or (nil, nil) if absent.
func (s *Store) GetValue(vid id.ID) (*types.Value, error) {
	row := s.db.QueryRow(`SELECT public_key, recipient, nonce, sequence_number, signature, data FROM "values" WHERE id = ?`, vid.Bytes())
	var publicKey, recipient, nonce, signature, data []byte
	var seq uint32
	err := row.Scan(&publicKey, &recipient, &nonce, &seq, &signature, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get_value: %w", err)
	}
	v := &types.Value{Sequence: seq, Signature: signature, Data: data}
	copy(v.Nonce[:], nonce)
	if len(publicKey) > 0 {
		v.PublicKey = publicKey
	}
	if len(recipient) > 0 {
		rid, err := id.FromBytes(recipient)
		if err != nil {
			return nil, fmt.Errorf("storage: get_value: corrupt recipient: %w", err)
		}
		v.Recipient = &rid
	}
	return v, nil
}

// RemoveValue deletes id's row, if any.
func (s *Store) RemoveValue(vid id.ID) error {
	if _, err := s.db.Exec(`DELETE FROM "values" WHERE id = ?`, vid.Bytes()); err != nil {
		return fmt.Errorf("storage: remove_value: %w", err)
	}
	s.refreshCounts()
	return nil
}

// UpdateValueLastAnnounce bumps id's last_announce to now, used after a
// successful announce/store fan-out so retention and re-announce
// scheduling see fresh activity.
func (s *Store) UpdateValueLastAnnounce(vid id.ID, now time.Time) error {
	res, err := s.db.Exec(`UPDATE "values" SET last_announce = ? WHERE id = ?`, unixMillis(now), vid.Bytes())
	if err != nil {
		return fmt.Errorf("storage: update_value_last_announce: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrValueNotFound
	}
	return nil
}

// PersistentValue pairs a stored value with the id it was filed under,
// since an immutable value's id cannot be recomputed from a nil-sequence
// decode alone in every caller context.
type PersistentValue struct {
	ID    id.ID
	Value *types.Value
}

// GetPersistentValues returns persistent values whose last_announce is
// older than before, the candidate set for the re-announce ticker.
func (s *Store) GetPersistentValues(before time.Time) ([]PersistentValue, error) {
	rows, err := s.db.Query(`SELECT id, public_key, recipient, nonce, sequence_number, signature, data FROM "values" WHERE persistent = TRUE AND last_announce < ?`, unixMillis(before))
	if err != nil {
		return nil, fmt.Errorf("storage: get_persistent_values: %w", err)
	}
	defer rows.Close()

	var out []PersistentValue
	for rows.Next() {
		var idBytes, publicKey, recipient, nonce, signature, data []byte
		var seq uint32
		if err := rows.Scan(&idBytes, &publicKey, &recipient, &nonce, &seq, &signature, &data); err != nil {
			return nil, fmt.Errorf("storage: get_persistent_values: scan: %w", err)
		}
		vid, err := id.FromBytes(idBytes)
		if err != nil {
			return nil, fmt.Errorf("storage: get_persistent_values: corrupt id: %w", err)
		}
		v := &types.Value{Sequence: seq, Signature: signature, Data: data}
		copy(v.Nonce[:], nonce)
		if len(publicKey) > 0 {
			v.PublicKey = publicKey
		}
		if len(recipient) > 0 {
			rid, err := id.FromBytes(recipient)
			if err != nil {
				return nil, fmt.Errorf("storage: get_persistent_values: corrupt recipient: %w", err)
			}
			v.Recipient = &rid
		}
		out = append(out, PersistentValue{ID: vid, Value: v})
	}
	return out, rows.Err()
}

// PurgeExpiredValues deletes non-persistent values whose last_announce is
// older than MaxValueAge relative to now, the value half of the storage
// housekeeping ticker.
func (s *Store) PurgeExpiredValues(now time.Time) (int64, error) {
	cutoff := unixMillis(now.Add(-MaxValueAge))
	res, err := s.db.Exec(`DELETE FROM "values" WHERE persistent = FALSE AND last_announce < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("storage: purge_expired_values: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		metrics.StorageExpired.Mark(n)
		s.refreshCounts()
		log.Debugf("purged %d expired value(s)", n)
	}
	return n, nil
}
