package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite driver
)

// SQLBackend keeps the order in a one-row table. It runs against sqlite3 or
// postgres; only the placeholder syntax differs.
//
//	layer_order(id INTEGER PRIMARY KEY, body TEXT NOT NULL)
type SQLBackend struct {
	db     *sql.DB
	driver string
}

// OpenSQL opens dsn with driver ("sqlite3" or "postgres") and creates the
// table if needed. For sqlite the parent directory of a file DSN is created.
func OpenSQL(ctx context.Context, driver, dsn string) (*SQLBackend, error) {
	switch driver {
	case "sqlite3":
		if dir := filepath.Dir(dsn); dsn != ":memory:" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("sqlite dir: %w", err)
			}
		}
	case "postgres":
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite3" {
		// one connection keeps ":memory:" databases shared
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS layer_order (
		id INTEGER PRIMARY KEY,
		body TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create layer_order: %w", err)
	}
	return &SQLBackend{db: db, driver: driver}, nil
}

func (b *SQLBackend) Name() string {
	if b.driver == "postgres" {
		return "postgres"
	}
	return "sqlite"
}

func (b *SQLBackend) Read(ctx context.Context) ([]byte, error) {
	var body string
	err := b.db.QueryRowContext(ctx, "SELECT body FROM layer_order WHERE id = 1").Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoOrder
	}
	if err != nil {
		return nil, fmt.Errorf("select layer_order: %w", err)
	}
	return []byte(body), nil
}

func (b *SQLBackend) Write(ctx context.Context, data []byte) error {
	q := `INSERT INTO layer_order (id, body) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET body = excluded.body`
	if b.driver == "postgres" {
		q = `INSERT INTO layer_order (id, body) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET body = excluded.body`
	}
	if _, err := b.db.ExecContext(ctx, q, string(data)); err != nil {
		return fmt.Errorf("upsert layer_order: %w", err)
	}
	return nil
}

func (b *SQLBackend) Close() error { return b.db.Close() }
