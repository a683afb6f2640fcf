package endpointcache

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "endpoints.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestOpen_SetsSchemaVersion(t *testing.T) {
	t.Parallel()

	c := openTestCache(t)
	var v int
	if err := c.db.QueryRow(`PRAGMA user_version;`).Scan(&v); err != nil {
		t.Fatalf("PRAGMA user_version: %v", err)
	}
	if v != 1 {
		t.Fatalf("user_version = %d, want 1", v)
	}
}

func TestRememberRecentForget(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := openTestCache(t)

	if err := c.Remember(ctx, Record{BaseURL: "http://127.0.0.1:5001/", Source: SourceLaunched, PID: 42, LastHealthyAtUnixMs: 100}); err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if err := c.Remember(ctx, Record{BaseURL: "http://127.0.0.1:5002", Source: SourceEnv, LastHealthyAtUnixMs: 200}); err != nil {
		t.Fatalf("Remember: %v", err)
	}
	// Upsert moves the first endpoint to the front.
	if err := c.Remember(ctx, Record{BaseURL: "http://127.0.0.1:5001", Source: SourceCached, PID: 42, LastHealthyAtUnixMs: 300}); err != nil {
		t.Fatalf("Remember: %v", err)
	}

	got, err := c.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(Recent()) = %d, want 2", len(got))
	}
	if got[0].BaseURL != "http://127.0.0.1:5001" || got[0].Source != SourceCached || got[0].PID != 42 {
		t.Fatalf("Recent()[0] = %+v", got[0])
	}
	if got[1].BaseURL != "http://127.0.0.1:5002" {
		t.Fatalf("Recent()[1] = %+v", got[1])
	}

	limited, err := c.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("len(Recent(1)) = %d, want 1", len(limited))
	}

	if err := c.Forget(ctx, "http://127.0.0.1:5001/"); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	got, err = c.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 || got[0].BaseURL != "http://127.0.0.1:5002" {
		t.Fatalf("Recent() after Forget = %+v", got)
	}
}

func TestRememberRejectsInvalidRecords(t *testing.T) {
	t.Parallel()

	c := openTestCache(t)
	if err := c.Remember(context.Background(), Record{BaseURL: " ", Source: SourceEnv}); err == nil {
		t.Fatalf("Remember(blank url) error = nil")
	}
	if err := c.Remember(context.Background(), Record{BaseURL: "http://x", Source: "bogus"}); err == nil {
		t.Fatalf("Remember(bad source) error = nil")
	}
}

func TestNilCache(t *testing.T) {
	t.Parallel()

	var c *Cache
	if err := c.Close(); err != nil {
		t.Fatalf("Close() = %v, want nil", err)
	}
	if _, err := c.Recent(context.Background(), 1); err == nil {
		t.Fatalf("Recent() on nil cache error = nil")
	}
}
