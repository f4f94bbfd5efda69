package cacheinfra

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

// Open connects to the relational store and selects the matching bun dialect.
// Supported drivers are "sqlite3" and "postgres".
func Open(driver, dsn string) (*bun.DB, error) {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		sqldb, err := sql.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// every connection to an in-memory database sees its own database
		if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
			sqldb.SetMaxOpenConns(1)
		}
		return bun.NewDB(sqldb, sqlitedialect.New()), nil
	case "postgres", "postgresql", "pg":
		sqldb, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return bun.NewDB(sqldb, pgdialect.New()), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// Migrate creates the cache table and its index set if they do not exist.
//
// Indices: unique constraint on key (plus a hash index on Postgres), btree on
// expires_at for sweeps, and a prefix-capable index on sanitized_key.
func Migrate(ctx context.Context, db *bun.DB) error {
	if _, err := db.NewCreateTable().
		Model((*Entry)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return fmt.Errorf("create %s: %w", TableName, err)
	}

	pg := db.Dialect().Name() == dialect.PG

	indexes := []*bun.CreateIndexQuery{
		db.NewCreateIndex().
			Model((*Entry)(nil)).
			Index(TableName + "_expires_at_idx").
			Column("expires_at").
			IfNotExists(),
	}

	if pg {
		indexes = append(indexes,
			db.NewCreateIndex().
				Model((*Entry)(nil)).
				Index(TableName+"_key_hash_idx").
				Using("HASH").
				Column("key").
				IfNotExists(),
			db.NewCreateIndex().
				Model((*Entry)(nil)).
				Index(TableName+"_sanitized_key_idx").
				ColumnExpr("sanitized_key text_pattern_ops").
				IfNotExists(),
		)
	} else {
		indexes = append(indexes,
			db.NewCreateIndex().
				Model((*Entry)(nil)).
				Index(TableName+"_sanitized_key_idx").
				Column("sanitized_key").
				IfNotExists(),
		)
	}

	for _, q := range indexes {
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("create index on %s: %w", TableName, err)
		}
	}
	return nil
}
