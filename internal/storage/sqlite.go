package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "steamwatch/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS transitions (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	at       TEXT    NOT NULL,
	plugin   TEXT    NOT NULL DEFAULT '',
	endpoint TEXT    NOT NULL,
	url      TEXT    NOT NULL DEFAULT '',
	up       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transitions_plugin_at ON transitions(plugin, at DESC);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendTransition(ctx context.Context, t Transition) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if t.At.IsZero() {
		t.At = time.Now()
	}
	up := 0
	if t.Up {
		up = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transitions(at, plugin, endpoint, url, up) VALUES(?,?,?,?,?)`,
		t.At.UTC().Format(time.RFC3339Nano), t.Plugin, t.Endpoint, t.URL, up,
	)
	return err
}

func (s *sqliteStore) RecentTransitions(ctx context.Context, plugin string, limit int) ([]Transition, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 20
	}

	var (
		rows *sql.Rows
		err  error
	)
	if plugin == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT at, plugin, endpoint, url, up FROM transitions ORDER BY id DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT at, plugin, endpoint, url, up FROM transitions WHERE plugin = ? ORDER BY id DESC LIMIT ?`, plugin, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var (
			at string
			t  Transition
			up int
		)
		if err := rows.Scan(&at, &t.Plugin, &t.Endpoint, &t.URL, &up); err != nil {
			return nil, err
		}
		if ts, perr := time.Parse(time.RFC3339Nano, at); perr == nil {
			t.At = ts
		}
		t.Up = up != 0
		out = append(out, t)
	}
	return out, rows.Err()
}
