package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "svcnotify/pkg/logx"
)

//go:embed schema.sql
var schema string

const pruneEvery = 100

type sqliteStore struct {
	db   *sql.DB
	log  logx.Logger
	keep int

	inserts atomic.Uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer: the recorder.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}

	keep := cfg.Keep
	if keep <= 0 {
		keep = DefaultKeep
	}
	return &sqliteStore{db: db, log: log, keep: keep}, nil
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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transitions(at, kind, unit, active, sub, message, err) VALUES(?,?,?,?,?,?,?)`,
		t.At.UTC().Format(time.RFC3339Nano), t.Kind, t.Unit,
		nullStr(t.Active), nullStr(t.Sub), nullStr(t.Message), nullStr(t.Error),
	)
	if err != nil {
		return err
	}
	if s.inserts.Add(1)%pruneEvery == 0 {
		if err := s.prune(ctx); err != nil {
			s.log.Warn("history prune failed", logx.Err(err))
		}
	}
	return nil
}

func (s *sqliteStore) prune(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM transitions WHERE id <= (SELECT id FROM transitions ORDER BY id DESC LIMIT 1 OFFSET ?)`,
		s.keep,
	)
	return err
}

func (s *sqliteStore) Recent(ctx context.Context, n int) ([]Transition, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if n <= 0 {
		n = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, kind, unit, active, sub, message, err FROM transitions ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var (
			at                          string
			t                           Transition
			active, sub, message, errSt sql.NullString
		)
		if err := rows.Scan(&at, &t.Kind, &t.Unit, &active, &sub, &message, &errSt); err != nil {
			return nil, err
		}
		t.At, _ = time.Parse(time.RFC3339Nano, at)
		t.Active, t.Sub, t.Message, t.Error = active.String, sub.String, message.String, errSt.String
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
