// Package store is the PostgreSQL side of surveyload: catalog introspection
// and DDL for data tables, row counts and inserts, the flat metadata
// relations and the load history.
//
// Connections come from a pgx pool exposed through database/sql, which is
// what goose migrations expect.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

const (
	DefaultDataSchema     = "dhs_data_tables"
	DefaultMetadataSchema = "dhs_metadata"
	DefaultBatchSize      = 1000

	// maxParams is the Postgres limit on bind parameters per statement.
	maxParams = 65535
)

// Options configures Open.
type Options struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	DataSchema     string
	MetadataSchema string
	BatchSize      int
}

// DB is a PostgreSQL store.
type DB struct {
	db   *sql.DB
	pool *pgxpool.Pool

	dataSchema string
	metaSchema string
	batchSize  int
}

// Open connects a pool, verifies it with a ping and wraps it for database/sql.
func Open(ctx context.Context, opts Options) (*DB, error) {
	if opts.URL == "" {
		return nil, errors.New("database url is required")
	}

	poolConfig, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		poolConfig.MaxConns = int32(opts.MaxConns)
	}
	if opts.MinConns > 0 {
		poolConfig.MinConns = int32(opts.MinConns)
	}
	if opts.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = opts.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := New(stdlib.OpenDBFromPool(pool), opts)
	s.pool = pool
	return s, nil
}

// New wraps an existing handle. Tests pass a sqlmock handle here.
func New(db *sql.DB, opts Options) *DB {
	s := &DB{
		db:         db,
		dataSchema: opts.DataSchema,
		metaSchema: opts.MetadataSchema,
		batchSize:  opts.BatchSize,
	}
	if s.dataSchema == "" {
		s.dataSchema = DefaultDataSchema
	}
	if s.metaSchema == "" {
		s.metaSchema = DefaultMetadataSchema
	}
	if s.batchSize <= 0 {
		s.batchSize = DefaultBatchSize
	}
	return s
}

// Ping checks the connection.
func (s *DB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the handle and the pool.
func (s *DB) Close() error {
	err := s.db.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}

// dataTable is the quoted name of a data table.
func (s *DB) dataTable(table string) string {
	return pgx.Identifier{s.dataSchema, table}.Sanitize()
}

// metaTable is the quoted name of a metadata table.
func (s *DB) metaTable(table string) string {
	return pgx.Identifier{s.metaSchema, table}.Sanitize()
}

func quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// rollback is deferred after BeginTx; it is a no-op once committed.
func rollback(tx *sql.Tx) {
	_ = tx.Rollback()
}
