package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	logx "guildrelay/pkg/logx"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS relay_state (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS relay_state_expires ON relay_state(expires_at) WHERE expires_at > 0;
`

// sqliteStore keeps entries in one table. expires_at is unix millis; 0
// means the entry never expires.
type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger, opts ...Option) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("state.path is required for sqlite driver")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	o := buildOptions(opts)
	st := &sqliteStore{db: db, log: log, now: o.now, pruneEvery: 500}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("state: migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) expiryMillis(ttl time.Duration) int64 {
	exp := expiryFor(s.now(), ttl)
	if exp.IsZero() {
		return 0
	}
	return exp.UnixMilli()
}

func (s *sqliteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, ErrClosed
	}
	var (
		value []byte
		exp   int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM relay_state WHERE key = ?`, key).Scan(&value, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if exp != 0 && s.now().UnixMilli() >= exp {
		return nil, false, nil
	}
	return value, true, nil
}

func (s *sqliteStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO relay_state(key, value, expires_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, s.expiryMillis(ttl),
	)
	s.maybePrune(err)
	return err
}

func (s *sqliteStore) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrClosed
	}
	// The conditional upsert replaces only a dead row, so concurrent relays
	// racing on the same key see exactly one winner.
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO relay_state(key, value, expires_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
		 WHERE relay_state.expires_at != 0 AND relay_state.expires_at <= ?`,
		key, value, s.expiryMillis(ttl), s.now().UnixMilli(),
	)
	s.maybePrune(err)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM relay_state WHERE key = ?`, key)
	return err
}

func (s *sqliteStore) Sweep(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM relay_state WHERE expires_at != 0 AND expires_at <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// maybePrune sweeps opportunistically every pruneEvery writes so the table
// stays bounded even if the periodic job is disabled.
func (s *sqliteStore) maybePrune(writeErr error) {
	if writeErr != nil || s.opCount.Add(1)%s.pruneEvery != 0 {
		return
	}
	pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := s.Sweep(pctx); err != nil {
		s.log.Debug("state prune failed", logx.Err(err))
	}
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
