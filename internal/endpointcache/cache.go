package endpointcache

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
)

// Source records how an endpoint was found.
type Source string

const (
	SourceEnv      Source = "env"
	SourceLaunched Source = "launched"
	SourceCached   Source = "cached"
	SourceLegacy   Source = "legacy"
)

func (s Source) Valid() bool {
	switch s {
	case SourceEnv, SourceLaunched, SourceCached, SourceLegacy:
		return true
	default:
		return false
	}
}

// Record is one endpoint that passed a liveness probe.
type Record struct {
	BaseURL             string `json:"base_url"`
	Source              Source `json:"source"`
	PID                 int    `json:"pid,omitempty"`
	LastHealthyAtUnixMs int64  `json:"last_healthy_at_unix_ms"`
}

// Cache persists healthy bridge server endpoints between host restarts.
type Cache struct {
	db *sql.DB
}

func Open(path string) (*Cache, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("missing endpoint cache path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Remember upserts a healthy endpoint.
func (c *Cache) Remember(ctx context.Context, rec Record) error {
	if c == nil || c.db == nil {
		return errors.New("endpoint cache not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	rec.BaseURL = strings.TrimRight(strings.TrimSpace(rec.BaseURL), "/")
	if rec.BaseURL == "" {
		return errors.New("missing base_url")
	}
	if !rec.Source.Valid() {
		return fmt.Errorf("invalid endpoint source %q", rec.Source)
	}
	if rec.LastHealthyAtUnixMs <= 0 {
		rec.LastHealthyAtUnixMs = time.Now().UnixMilli()
	}

	_, err := c.db.ExecContext(ctx, `
INSERT INTO endpoints(base_url, source, pid, last_healthy_at_unix_ms)
VALUES(?, ?, ?, ?)
ON CONFLICT(base_url) DO UPDATE SET
  source = excluded.source,
  pid = excluded.pid,
  last_healthy_at_unix_ms = excluded.last_healthy_at_unix_ms
`, rec.BaseURL, string(rec.Source), rec.PID, rec.LastHealthyAtUnixMs)
	return err
}

// Recent lists endpoints, most recently healthy first.
func (c *Cache) Recent(ctx context.Context, limit int) ([]Record, error) {
	if c == nil || c.db == nil {
		return nil, errors.New("endpoint cache not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = 5
	}

	rows, err := c.db.QueryContext(ctx, `
SELECT base_url, source, pid, last_healthy_at_unix_ms
FROM endpoints
ORDER BY last_healthy_at_unix_ms DESC, base_url ASC
LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var src string
		if err := rows.Scan(&r.BaseURL, &src, &r.PID, &r.LastHealthyAtUnixMs); err != nil {
			return nil, err
		}
		r.Source = Source(src)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Forget removes an endpoint that stopped answering.
func (c *Cache) Forget(ctx context.Context, baseURL string) error {
	if c == nil || c.db == nil {
		return errors.New("endpoint cache not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if u == "" {
		return errors.New("missing base_url")
	}
	_, err := c.db.ExecContext(ctx, `DELETE FROM endpoints WHERE base_url = ?`, u)
	return err
}

func initSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("nil db")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("pragma busy_timeout: %w", err)
	}
	return migrateSchema(db)
}

func migrateSchema(db *sql.DB) error {
	const targetVersion = 1

	var v int
	if err := db.QueryRow(`PRAGMA user_version;`).Scan(&v); err != nil {
		return fmt.Errorf("pragma user_version: %w", err)
	}
	if v >= targetVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS endpoints (
  base_url TEXT PRIMARY KEY,
  source TEXT NOT NULL,
  pid INTEGER NOT NULL DEFAULT 0,
  last_healthy_at_unix_ms INTEGER NOT NULL
);
`); err != nil {
		return fmt.Errorf("create table endpoints: %w", err)
	}
	if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_endpoints_last_healthy ON endpoints(last_healthy_at_unix_ms);`); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version=%d;", targetVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return tx.Commit()
}
