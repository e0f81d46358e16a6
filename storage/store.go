// Package storage implements carrier-go's embedded relational store: the
// values, peers and routing-table cache tables of spec.md §6, backed by
// DuckDB through database/sql, grounded on the teacher's mod-clearnet
// dstore command (schema-from-file plus plain Exec/QueryRow calls).
package storage

import (
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/elastos-carrier/carrier-go/logger"
	"github.com/elastos-carrier/carrier-go/metrics"
)

var log = logger.NewLogger("storage")

//go:embed schema.sql
var schema string

// Retention periods and housekeeping cadence from spec.md §4.4.
const (
	MaxValueAge           = 2 * time.Hour
	MaxPeerAge            = 2 * time.Hour
	ReAnnounceInterval    = 5 * time.Minute
	StorageExpireInterval = 5 * time.Minute
)

// Store wraps a DuckDB connection holding the values/peers/routing_cache
// tables. A Store is safe for concurrent use; database/sql pools its own
// connections.
type Store struct {
	db *sql.DB
}

// Open creates or attaches to the DuckDB file at path, or an in-memory
// database when path is empty, and ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}
	s := &Store{db: db}
	s.refreshCounts()
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) refreshCounts() {
	var values, peers int64
	row := s.db.QueryRow(`SELECT count(*) FROM "values"`)
	if err := row.Scan(&values); err == nil {
		metrics.StorageValuesCount.Update(values)
	}
	row = s.db.QueryRow(`SELECT count(*) FROM peers`)
	if err := row.Scan(&peers); err == nil {
		metrics.StoragePeersCount.Update(peers)
	}
}

// unixMillis stamps a wall-clock time into storage's integer timestamp
// columns, shared by values, peers and the routing cache.
func unixMillis(t time.Time) int64 { return t.UnixMilli() }

// Housekeep runs the storage expiry pass: purge non-persistent
// values/peers past their retention window, stopping at the first error.
// The STORAGE_EXPIRE_INTERVAL maintenance tick does not call it; it runs
// the two purges itself.
func (s *Store) Housekeep(now time.Time) error {
	if _, err := s.PurgeExpiredValues(now); err != nil {
		return err
	}
	if _, err := s.PurgeExpiredPeers(now); err != nil {
		return err
	}
	return nil
}
