package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/aic-pulse/platform/core/pkg/store"
)

// openStore connects to the database named by url. Postgres URLs use lib/pq;
// anything else is treated as a SQLite file path, which keeps single-binary
// deployments working without an external database.
func openStore(ctx context.Context, url string) (*sql.DB, *store.SQLStore, error) {
	var (
		db  *sql.DB
		err error
	)
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		db, err = sql.Open("postgres", url)
	default:
		path := strings.TrimPrefix(url, "sqlite://")
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if mkErr := os.MkdirAll(dir, 0750); mkErr != nil {
				return nil, nil, fmt.Errorf("create data directory: %w", mkErr)
			}
		}
		db, err = sql.Open("sqlite", path)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	return db, store.NewSQLStore(db), nil
}
