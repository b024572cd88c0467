// Package sqlite implements store.Store on an embedded SQLite database, for
// single-node deployments that do not want to run Redis.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/geddydukes/portfolio/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store keeps hashes, sets and lists in three tables keyed by name.
type Store struct {
	db           *sql.DB
	writeMu      sync.Mutex
	queryTimeout time.Duration

	stmtHashIncr   *sql.Stmt
	stmtHashGetAll *sql.Stmt
	stmtSetAdd     *sql.Stmt
	stmtSetCard    *sql.Stmt
	stmtListRange  *sql.Stmt
}

// Options configures the Store instance.
type Options struct {
	MaxConnections int
	QueryTimeout   time.Duration
}

// New opens the database at dbPath with default options.
func New(dbPath string) (*Store, error) {
	return NewWithOptions(dbPath, Options{
		MaxConnections: 1,
		QueryTimeout:   5 * time.Second,
	})
}

// NewWithOptions opens the database at dbPath, creating its directory and
// schema if needed.
func NewWithOptions(dbPath string, opts Options) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := dbPath + "?_pragma=busy_timeout(30000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	maxConns := opts.MaxConnections
	if maxConns <= 0 {
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)

	queryTimeout := opts.QueryTimeout
	if queryTimeout <= 0 {
		queryTimeout = 5 * time.Second
	}

	s := &Store{db: db, queryTimeout: queryTimeout}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		s.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS kv_hash (
	key TEXT NOT NULL,
	field TEXT NOT NULL,
	value INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY(key, field)
);

CREATE TABLE IF NOT EXISTS kv_set (
	key TEXT NOT NULL,
	member TEXT NOT NULL,
	PRIMARY KEY(key, member)
);

CREATE TABLE IF NOT EXISTS kv_list (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	key TEXT NOT NULL,
	item BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_kv_list_key ON kv_list(key, id);
`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) prepareStatements() error {
	var err error

	s.stmtHashIncr, err = s.db.Prepare(`
INSERT INTO kv_hash (key, field, value) VALUES (?, ?, ?)
ON CONFLICT(key, field) DO UPDATE SET value = value + excluded.value
RETURNING value`)
	if err != nil {
		return fmt.Errorf("prepare hash incr: %w", err)
	}

	s.stmtHashGetAll, err = s.db.Prepare(`SELECT field, value FROM kv_hash WHERE key = ?`)
	if err != nil {
		return fmt.Errorf("prepare hash getall: %w", err)
	}

	s.stmtSetAdd, err = s.db.Prepare(`INSERT OR IGNORE INTO kv_set (key, member) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare set add: %w", err)
	}

	s.stmtSetCard, err = s.db.Prepare(`SELECT COUNT(*) FROM kv_set WHERE key = ?`)
	if err != nil {
		return fmt.Errorf("prepare set card: %w", err)
	}

	s.stmtListRange, err = s.db.Prepare(`SELECT item FROM kv_list WHERE key = ? ORDER BY id DESC LIMIT ?`)
	if err != nil {
		return fmt.Errorf("prepare list range: %w", err)
	}

	return nil
}

func (s *Store) HashIncr(ctx context.Context, key, field string, delta int64) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var n int64
	if err := s.stmtHashIncr.QueryRowContext(ctx, key, field, delta).Scan(&n); err != nil {
		return 0, fmt.Errorf("hash incr %s: %w", key, err)
	}
	return n, nil
}

func (s *Store) HashGetAll(ctx context.Context, key string) (map[string]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.stmtHashGetAll.QueryContext(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("hash getall %s: %w", key, err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var field string
		var value int64
		if err := rows.Scan(&field, &value); err != nil {
			return nil, fmt.Errorf("scan hash field: %w", err)
		}
		out[field] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hash %s: %w", key, err)
	}
	return out, nil
}

func (s *Store) SetAdd(ctx context.Context, key, member string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.stmtSetAdd.ExecContext(ctx, key, member)
	if err != nil {
		return false, fmt.Errorf("set add %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set add %s: %w", key, err)
	}
	return n == 1, nil
}

func (s *Store) SetCard(ctx context.Context, key string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var n int64
	if err := s.stmtSetCard.QueryRowContext(ctx, key).Scan(&n); err != nil {
		return 0, fmt.Errorf("set card %s: %w", key, err)
	}
	return n, nil
}

// PushBounded inserts and trims inside one transaction.
func (s *Store) PushBounded(ctx context.Context, key string, item []byte, maxLen int64) error {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO kv_list (key, item) VALUES (?, ?)`, key, item); err != nil {
		return fmt.Errorf("list push %s: %w", key, err)
	}
	if maxLen > 0 {
		_, err := tx.ExecContext(ctx, `
DELETE FROM kv_list
WHERE key = ? AND id NOT IN (
	SELECT id FROM kv_list WHERE key = ? ORDER BY id DESC LIMIT ?
)`, key, key, maxLen)
		if err != nil {
			return fmt.Errorf("list trim %s: %w", key, err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListRange(ctx context.Context, key string, n int64) ([][]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	rows, err := s.stmtListRange.QueryContext(ctx, key, n)
	if err != nil {
		return nil, fmt.Errorf("list range %s: %w", key, err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var item []byte
		if err := rows.Scan(&item); err != nil {
			return nil, fmt.Errorf("scan list item: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate list %s: %w", key, err)
	}
	return out, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the prepared statements and the database.
func (s *Store) Close() error {
	for _, stmt := range []*sql.Stmt{
		s.stmtHashIncr, s.stmtHashGetAll, s.stmtSetAdd, s.stmtSetCard, s.stmtListRange,
	} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return s.db.Close()
}
