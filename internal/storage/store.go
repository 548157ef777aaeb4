// Package storage implements the State Store: a single-file embedded
// ACID relational store fronting the cases/case_history/gpu_resources/
// scanned_cases/process_status/logs tables, with WAL mode, foreign-key
// enforcement, and a 30-second busy timeout, grounded on the teacher's
// sentinel-error style and RomanQed-gqs's bun+sqlite schema-init pattern.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"
)

// Store is a per-actor handle onto the embedded database. Each component
// (Conductor, Supervisor, worker handlers) opens its own Store over the
// same file; SQLite's WAL mode and the 30s busy timeout make that safe.
type Store struct {
	db *bun.DB

	schemaOnce sync.Once
	schemaErr  error
}

// Open creates a handle onto the SQLite file at path, configuring WAL
// mode, foreign-key enforcement, and a 30-second busy timeout on the
// underlying connection, and ensures the schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)", path)

	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, wrapFailure("open", err)
	}
	// SQLite allows only one writer at a time; a single shared connection
	// per handle avoids SQLITE_BUSY storms under the driver's own pool.
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	return s, nil
}

// OpenWithDB wraps an already-open *bun.DB (for example an in-memory
// database) and ensures the schema exists on it.
func OpenWithDB(ctx context.Context, db *bun.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for packages (like the status API's
// health check) that need raw access without a dedicated accessor.
func (s *Store) DB() *bun.DB {
	return s.db
}

func (s *Store) ensureSchema(ctx context.Context) error {
	s.schemaOnce.Do(func() {
		s.schemaErr = s.createSchema(ctx)
	})
	return s.schemaErr
}

func (s *Store) createSchema(ctx context.Context) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		models := []interface{}{
			(*GPUResource)(nil),
			(*Case)(nil),
			(*CaseHistory)(nil),
			(*ScannedCase)(nil),
			(*ProcessStatus)(nil),
			(*LogEntry)(nil),
		}
		for _, m := range models {
			if _, err := tx.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
				return wrapFailure("create_table", err)
			}
		}
		if _, err := tx.NewCreateIndex().
			Model((*CaseHistory)(nil)).
			Index("idx_case_history_case_id").
			IfNotExists().
			Column("case_id").
			Exec(ctx); err != nil {
			return wrapFailure("create_index", err)
		}
		return nil
	})
}

// Tx runs fn inside a single database transaction; a non-nil error return
// rolls back. Used whenever a write invariant spans more than one table
// (e.g. Case status change + CaseHistory row).
func (s *Store) Tx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	err := s.db.RunInTx(ctx, nil, fn)
	if err != nil {
		if sf, ok := err.(*StorageFailure); ok {
			return sf
		}
		return wrapFailure("tx", err)
	}
	return nil
}

// Cursor is a manually-committed transaction handle for callers that need
// to hold a transaction open across several non-contiguous operations.
type Cursor struct {
	tx bun.Tx
}

func (s *Store) Cursor(ctx context.Context) (*Cursor, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapFailure("begin", err)
	}
	return &Cursor{tx: tx}, nil
}

func (c *Cursor) Tx() bun.Tx {
	return c.tx
}

func (c *Cursor) Commit() error {
	if err := c.tx.Commit(); err != nil {
		return wrapFailure("commit", err)
	}
	return nil
}

func (c *Cursor) Rollback() error {
	if err := c.tx.Rollback(); err != nil {
		return wrapFailure("rollback", err)
	}
	return nil
}
