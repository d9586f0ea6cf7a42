package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"                  // PostgreSQL driver
	_ "github.com/tursodatabase/libsql-client-go/libsql" // Turso driver
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Local SQLite driver

	"github.com/wadjakorntonsri/fusly/pkg/ports"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectLibSQL
	dialectPostgres
)

func (d dialect) String() string {
	switch d {
	case dialectLibSQL:
		return "libsql"
	case dialectPostgres:
		return "postgres"
	default:
		return "sqlite"
	}
}

func detectDialect(dbURL string) dialect {
	switch {
	case strings.HasPrefix(dbURL, "postgres://"), strings.HasPrefix(dbURL, "postgresql://"):
		return dialectPostgres
	case strings.Contains(dbURL, "libsql://"), strings.Contains(dbURL, "wss://"):
		return dialectLibSQL
	default:
		return dialectSQLite
	}
}

func (d dialect) driverName() string {
	switch d {
	case dialectLibSQL:
		return "libsql"
	case dialectPostgres:
		return "pgx"
	default:
		return "sqlite"
	}
}

// Store is the relational implementation of ports.Store.
type Store struct {
	*queries
	db      *sql.DB
	dialect dialect
	logger  *zap.Logger
}

// Open connects to dbURL, applies pending migrations and returns the store.
func Open(ctx context.Context, dbURL string, logger *zap.Logger) (*Store, error) {
	d := detectDialect(dbURL)

	db, err := sql.Open(d.driverName(), dbURL)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d, err)
	}

	if d == dialectSQLite {
		// Transactions hold the only connection; see InTx.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		for _, pragma := range []string{
			"PRAGMA busy_timeout = 5000",
			"PRAGMA journal_mode = WAL",
			"PRAGMA foreign_keys = ON",
		} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("%s: %w", pragma, err)
			}
		}
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d, err)
	}

	if err := migrateUp(db, d); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("store ready", zap.String("dialect", d.String()))
	return &Store{
		queries: &queries{db: db, dialect: d},
		db:      db,
		dialect: d,
		logger:  logger,
	}, nil
}

// InTx runs fn inside a transaction. fn must only use the Queries it is
// handed; on SQLite the transaction owns the single pooled connection.
func (s *Store) InTx(ctx context.Context, fn func(q ports.Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&queries{db: tx, dialect: s.dialect}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", mapErr(err))
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the pool for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// rebind rewrites ? placeholders as $1..$n for PostgreSQL.
func rebind(d dialect, query string) string {
	if d != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Ensure interface compliance
var _ ports.Store = (*Store)(nil)
