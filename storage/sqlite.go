// Package storage provides durable variable stores and snapshots for
// dialogue runs.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/chazu/yarnvm/vm"
)

var ErrBadKind = errors.New("stored variable has unknown kind")

// SQLiteStorage is a vm.BulkStorage backed by SQLite. Each store is scoped
// to a session, so many runs can share one database file.
type SQLiteStorage struct {
	db      *sql.DB
	session string
	owned   bool
}

// OpenSQLite opens (creating if needed) the database at path and returns
// a store for session. An empty session gets a fresh random identifier.
func OpenSQLite(path, session string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	s, err := NewSQLite(db, session)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewSQLite creates a store for session on an open database. The caller
// keeps ownership of db.
func NewSQLite(db *sql.DB, session string) (*SQLiteStorage, error) {
	if session == "" {
		session = uuid.NewString()
	}
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS variables (
		session TEXT NOT NULL,
		name    TEXT NOT NULL,
		kind    INTEGER NOT NULL,
		num     REAL,
		str     TEXT,
		PRIMARY KEY (session, name)
	)`)
	if err != nil {
		return nil, fmt.Errorf("creating table: %w", err)
	}
	return &SQLiteStorage{db: db, session: session}, nil
}

// Session returns the session identifier.
func (s *SQLiteStorage) Session() string { return s.session }

// Close closes the database if OpenSQLite opened it.
func (s *SQLiteStorage) Close() error {
	if s.owned && s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStorage) Get(name string) (vm.Value, bool, error) {
	var (
		kind int
		num  sql.NullFloat64
		str  sql.NullString
	)
	err := s.db.QueryRow(
		"SELECT kind, num, str FROM variables WHERE session = ? AND name = ?",
		s.session, name,
	).Scan(&kind, &num, &str)
	if errors.Is(err, sql.ErrNoRows) {
		return vm.Value{}, false, nil
	}
	if err != nil {
		return vm.Value{}, false, fmt.Errorf("querying variable %s: %w", name, err)
	}
	v, err := decodeRow(kind, num, str)
	if err != nil {
		return vm.Value{}, false, fmt.Errorf("variable %s: %w", name, err)
	}
	return v, true, nil
}

func (s *SQLiteStorage) Set(name string, v vm.Value) error {
	return set(s.db, s.session, name, v)
}

// Export returns every variable in the session.
func (s *SQLiteStorage) Export() (map[string]vm.Value, error) {
	rows, err := s.db.Query("SELECT name, kind, num, str FROM variables WHERE session = ?", s.session)
	if err != nil {
		return nil, fmt.Errorf("querying variables: %w", err)
	}
	defer rows.Close()

	out := make(map[string]vm.Value)
	for rows.Next() {
		var (
			name string
			kind int
			num  sql.NullFloat64
			str  sql.NullString
		)
		if err := rows.Scan(&name, &kind, &num, &str); err != nil {
			return nil, fmt.Errorf("scanning variable: %w", err)
		}
		v, err := decodeRow(kind, num, str)
		if err != nil {
			return nil, fmt.Errorf("variable %s: %w", name, err)
		}
		out[name] = v
	}
	return out, rows.Err()
}

// Import writes vars in a single transaction, replacing existing names.
func (s *SQLiteStorage) Import(vars map[string]vm.Value) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning import: %w", err)
	}
	for name, v := range vars {
		if err := set(tx, s.session, name, v); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing import: %w", err)
	}
	return nil
}

// Replace swaps the whole session for vars in one transaction. On error
// the session is left as it was.
func (s *SQLiteStorage) Replace(vars map[string]vm.Value) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning replace: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM variables WHERE session = ?", s.session); err != nil {
		tx.Rollback()
		return fmt.Errorf("clearing session %s: %w", s.session, err)
	}
	for name, v := range vars {
		if err := set(tx, s.session, name, v); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing replace: %w", err)
	}
	return nil
}

// Clear deletes every variable in the session.
func (s *SQLiteStorage) Clear() error {
	if _, err := s.db.Exec("DELETE FROM variables WHERE session = ?", s.session); err != nil {
		return fmt.Errorf("clearing session %s: %w", s.session, err)
	}
	return nil
}

// Sessions lists the sessions stored in db, sorted.
func Sessions(db *sql.DB) ([]string, error) {
	rows, err := db.Query("SELECT DISTINCT session FROM variables ORDER BY session")
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var session string
		if err := rows.Scan(&session); err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

// DB returns the underlying database handle.
func (s *SQLiteStorage) DB() *sql.DB { return s.db }

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func set(db execer, session, name string, v vm.Value) error {
	var (
		num any
		str any
	)
	switch v.Kind() {
	case vm.KindNumber:
		if math.IsNaN(v.AsNumber()) {
			return fmt.Errorf("%w: cannot store NaN in %s", vm.ErrTypeMismatch, name)
		}
		num = v.AsNumber()
	case vm.KindString:
		str = v.AsString()
	case vm.KindBool:
		if v.AsBool() {
			num = 1.0
		} else {
			num = 0.0
		}
	default:
		return fmt.Errorf("%w: cannot store an invalid value in %s", vm.ErrTypeMismatch, name)
	}

	_, err := db.Exec(
		"INSERT OR REPLACE INTO variables (session, name, kind, num, str) VALUES (?, ?, ?, ?, ?)",
		session, name, int(v.Kind()), num, str,
	)
	if err != nil {
		return fmt.Errorf("saving variable %s: %w", name, err)
	}
	return nil
}

func decodeRow(kind int, num sql.NullFloat64, str sql.NullString) (vm.Value, error) {
	switch vm.Kind(kind) {
	case vm.KindNumber:
		return vm.NumberValue(num.Float64), nil
	case vm.KindString:
		return vm.StringValue(str.String), nil
	case vm.KindBool:
		return vm.BoolValue(num.Float64 != 0), nil
	}
	return vm.Value{}, fmt.Errorf("%w: %d", ErrBadKind, kind)
}
