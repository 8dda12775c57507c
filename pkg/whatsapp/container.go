// Package whatsapp adapts whatsmeow to the protocol boundary used by the
// session core.
package whatsapp

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"go.mau.fi/whatsmeow/store/sqlstore"
)

// OpenContainer opens the whatsmeow credential store and upgrades its
// schema.
func OpenContainer(ctx context.Context, driver, dsn string) (*sqlstore.Container, error) {
	driver = normalizeDatastoreDriver(driver)
	dsn = normalizeDatastoreDSN(driver, dsn)

	container, err := sqlstore.New(ctx, driver, dsn, Logger("Database"))
	if err != nil {
		return nil, fmt.Errorf("open whatsapp datastore: %w", err)
	}
	if err := container.Upgrade(ctx); err != nil {
		return nil, fmt.Errorf("upgrade whatsapp datastore: %w", err)
	}
	return container, nil
}

func normalizeDatastoreDriver(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgresql", "postgres", "pgx":
		return "pgx"
	case "sqlite", "sqlite3":
		return "sqlite3"
	default:
		return strings.ToLower(driver)
	}
}

func normalizeDatastoreDSN(driver string, dsn string) string {
	switch driver {
	case "pgx":
		dsn = appendParam(dsn, "statement_cache_capacity", "0")
		dsn = appendParam(dsn, "default_query_exec_mode", "simple_protocol")
	case "sqlite3":
		dsn = appendParam(dsn, "_foreign_keys", "on")
	}
	return dsn
}

func appendParam(current string, key string, value string) string {
	if strings.Contains(current, key+"=") {
		return current
	}
	separator := "?"
	if strings.Contains(current, "?") {
		if strings.HasSuffix(current, "?") || strings.HasSuffix(current, "&") {
			separator = ""
		} else {
			separator = "&"
		}
	}
	return current + separator + key + "=" + value
}
