package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore wraps a MemStore for the hot path and writes a snapshot
// of session metadata to sqlite after every mutation, following the
// embedded-migration + WAL-mode pattern this relay family uses for its
// own session storage. The table is write-only: OpenSQLiteStore starts
// from an empty MemStore and does not load existing rows, and every
// read (List, Get) is served from memory, so sessions from before a
// relay restart are not listed or reconnectable.
type SQLiteStore struct {
	mem *MemStore
	db  *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id             TEXT PRIMARY KEY,
	owner          TEXT NOT NULL,
	cli_public_key TEXT NOT NULL,
	command        TEXT NOT NULL,
	args_json      TEXT NOT NULL,
	cwd            TEXT NOT NULL,
	instance_label TEXT NOT NULL,
	state          TEXT NOT NULL,
	created_at     INTEGER NOT NULL,
	last_active_at INTEGER NOT NULL
);
`

// OpenSQLiteStore opens (creating if absent) a sqlite-backed Session Store.
func OpenSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON;`); err != nil {
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &SQLiteStore{mem: NewMemStore(), db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) persist(sess Session) {
	argsJSON, _ := json.Marshal(sess.Args)
	_, _ = s.db.Exec(`
		INSERT INTO sessions (id, owner, cli_public_key, command, args_json, cwd, instance_label, state, created_at, last_active_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner=excluded.owner, cli_public_key=excluded.cli_public_key, command=excluded.command,
			args_json=excluded.args_json, cwd=excluded.cwd, instance_label=excluded.instance_label,
			state=excluded.state, last_active_at=excluded.last_active_at
	`, sess.ID, sess.Owner, sess.CLIPublicKey, sess.Command, string(argsJSON), sess.Cwd,
		sess.InstanceLabel, string(sess.State), sess.CreatedAt.UnixMilli(), sess.LastActiveAt.UnixMilli())
}

func (s *SQLiteStore) remove(id string) {
	_, _ = s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
}

func (s *SQLiteStore) Create(id, owner, cliPubKey, cliConn string, meta Meta) (Session, error) {
	sess, err := s.mem.Create(id, owner, cliPubKey, cliConn, meta)
	if err == nil {
		s.persist(sess)
	}
	return sess, err
}

func (s *SQLiteStore) ReconnectCLI(id, newCLIPubKey, newCLIConn, callerUser string) (Session, error) {
	sess, err := s.mem.ReconnectCLI(id, newCLIPubKey, newCLIConn, callerUser)
	if err == nil {
		s.persist(sess)
	}
	return sess, err
}

func (s *SQLiteStore) JoinWeb(id, webConn string) (Session, error) {
	sess, err := s.mem.JoinWeb(id, webConn)
	if err == nil {
		s.persist(sess)
	}
	return sess, err
}

func (s *SQLiteStore) Leave(id, conn string) error {
	err := s.mem.Leave(id, conn)
	if err == nil {
		if sess, getErr := s.mem.Get(id); getErr == nil {
			s.persist(sess)
		}
	}
	return err
}

func (s *SQLiteStore) DetachCLI(id string) error {
	err := s.mem.DetachCLI(id)
	if err == nil {
		if sess, getErr := s.mem.Get(id); getErr == nil {
			s.persist(sess)
		}
	}
	return err
}

func (s *SQLiteStore) Update(id, owner string, label *string) (Session, error) {
	sess, err := s.mem.Update(id, owner, label)
	if err == nil {
		s.persist(sess)
	}
	return sess, err
}

func (s *SQLiteStore) Delete(id, owner string) error {
	err := s.mem.Delete(id, owner)
	if err == nil {
		s.remove(id)
	}
	return err
}

func (s *SQLiteStore) List(owner string, includeInactive bool) ([]Session, error) {
	return s.mem.List(owner, includeInactive)
}

func (s *SQLiteStore) Get(id string) (Session, error) {
	return s.mem.Get(id)
}

var _ Store = (*SQLiteStore)(nil)
