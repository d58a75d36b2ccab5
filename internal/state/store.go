// Package state implements the per-strategy State Store and the global
// Portfolio Store on top of a shared key/value + list + hash primitive
// layer, persisted to sqlite. Grounded on the teacher's
// internal/database/db.go (modernc.org/sqlite, WAL) and
// internal/database/repositories/base.go's *sql.DB + zerolog.Logger
// embedding idiom.
package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Store is the shared persistence layer backing both the per-strategy
// State Store and the global Portfolio Store. All mutating operations are
// serialized per composite key via an in-process mutex map — the store is
// the only component allowed to touch these tables.
type Store struct {
	db     *sql.DB
	log    zerolog.Logger
	prefix string

	keyLocks sync.Map // map[string]*sync.Mutex
}

// New wraps an already-open *sql.DB (see internal/database.DB.Conn) and
// ensures the backing tables exist.
func New(db *sql.DB, prefix string, log zerolog.Logger) (*Store, error) {
	s := &Store{db: db, log: log.With().Str("component", "state").Logger(), prefix: prefix}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			scope TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (scope, key)
		)`,
		`CREATE TABLE IF NOT EXISTS lists (
			scope TEXT NOT NULL,
			key TEXT NOT NULL,
			seq INTEGER NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (scope, key, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS hashes (
			scope TEXT NOT NULL,
			key TEXT NOT NULL,
			field TEXT NOT NULL,
			value TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (scope, key, field)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("state: migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) lockFor(key string) *sync.Mutex {
	v, _ := s.keyLocks.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *Store) fullKey(scope, key string) string {
	return s.prefix + ":" + scope + ":" + key
}

// SetKV upserts a JSON-serializable value under (scope, key), serialized
// per composite key.
func (s *Store) SetKV(scope, key string, value any) error {
	mu := s.lockFor(s.fullKey(scope, key))
	mu.Lock()
	defer mu.Unlock()

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO kv(scope,key,value,updated_at) VALUES(?,?,?,?)
		ON CONFLICT(scope,key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		scope, key, string(data), time.Now().UTC())
	return err
}

// GetKV decodes the value stored at (scope, key) into v; ok=false if absent.
func (s *Store) GetKV(scope, key string, v any) (bool, error) {
	row := s.db.QueryRow(`SELECT value FROM kv WHERE scope=? AND key=?`, scope, key)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, json.Unmarshal([]byte(raw), v)
}

// AppendList pushes a JSON-serializable entry onto the tail of (scope,
// key), then trims to the last `cap` entries (cap<=0 means unbounded).
func (s *Store) AppendList(scope, key string, entry any, cap int) error {
	mu := s.lockFor(s.fullKey(scope, key))
	mu.Lock()
	defer mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	if err := tx.QueryRow(`SELECT MAX(seq) FROM lists WHERE scope=? AND key=?`, scope, key).Scan(&maxSeq); err != nil {
		return err
	}
	nextSeq := int64(0)
	if maxSeq.Valid {
		nextSeq = maxSeq.Int64 + 1
	}
	if _, err := tx.Exec(`INSERT INTO lists(scope,key,seq,value) VALUES(?,?,?,?)`, scope, key, nextSeq, string(data)); err != nil {
		return err
	}

	if cap > 0 {
		if _, err := tx.Exec(`DELETE FROM lists WHERE scope=? AND key=? AND seq <= (
			SELECT seq FROM lists WHERE scope=? AND key=? ORDER BY seq DESC LIMIT 1 OFFSET ?
		)`, scope, key, scope, key, cap); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListAll returns every retained entry for (scope, key) in insertion
// order, each raw JSON so callers can decode into their own type.
func (s *Store) ListAll(scope, key string) ([]json.RawMessage, error) {
	rows, err := s.db.Query(`SELECT value FROM lists WHERE scope=? AND key=? ORDER BY seq ASC`, scope, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		out = append(out, json.RawMessage(raw))
	}
	return out, rows.Err()
}

// SetHashField upserts one field of a hash keyed by (scope, key, field).
func (s *Store) SetHashField(scope, key, field string, value any) error {
	mu := s.lockFor(s.fullKey(scope, key))
	mu.Lock()
	defer mu.Unlock()

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO hashes(scope,key,field,value,updated_at) VALUES(?,?,?,?,?)
		ON CONFLICT(scope,key,field) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		scope, key, field, string(data), time.Now().UTC())
	return err
}

// GetHashField decodes one field into v; ok=false if absent.
func (s *Store) GetHashField(scope, key, field string, v any) (bool, error) {
	row := s.db.QueryRow(`SELECT value FROM hashes WHERE scope=? AND key=? AND field=?`, scope, key, field)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, json.Unmarshal([]byte(raw), v)
}

// AllHashFields returns every field→raw-JSON-value pair for (scope, key).
func (s *Store) AllHashFields(scope, key string) (map[string]json.RawMessage, error) {
	rows, err := s.db.Query(`SELECT field, value FROM hashes WHERE scope=? AND key=?`, scope, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var field, raw string
		if err := rows.Scan(&field, &raw); err != nil {
			return nil, err
		}
		out[field] = json.RawMessage(raw)
	}
	return out, rows.Err()
}
