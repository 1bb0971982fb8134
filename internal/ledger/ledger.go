// Package ledger is the durable record store for documents and their page images.
// Every write is committed before the call returns; there is no buffering.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Common errors
var (
	ErrNotFound          = errors.New("ledger record not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrLeaseHeld         = errors.New("stage lease already held")
)

// Config holds ledger connection settings.
type Config struct {
	Driver      string
	Path        string // sqlite3 database file
	DSN         string // postgres connection string
	BusyTimeout time.Duration
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Driver:      DriverSQLite,
		Path:        "conversion.db",
		BusyTimeout: 5 * time.Second,
	}
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Ledger wraps the database handle. One Ledger is opened per stage invocation.
type Ledger struct {
	db     *sql.DB
	driver string
	log    zerolog.Logger
}

// Open connects to the configured database and applies pending migrations.
func Open(ctx context.Context, cfg Config) (*Ledger, error) {
	var dsn string
	switch cfg.Driver {
	case DriverSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite3 ledger requires a database path")
		}
		busy := cfg.BusyTimeout
		if busy <= 0 {
			busy = 5 * time.Second
		}
		dsn = fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on", cfg.Path, busy.Milliseconds())
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres ledger requires a DSN")
		}
		dsn = cfg.DSN
	default:
		return nil, fmt.Errorf("unsupported ledger driver: %s", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	if cfg.Driver == DriverSQLite {
		// A single connection keeps sqlite writers serialized within the process.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping ledger: %w", err)
	}
	if err := migrateUp(db, cfg.Driver); err != nil {
		db.Close()
		return nil, err
	}
	return &Ledger{db: db, driver: cfg.Driver, log: zerolog.Nop()}, nil
}

// SetLogger sets where the ledger reports failures it cannot return, such as a
// rollback failing while a panic unwinds.
func (l *Ledger) SetLogger(logger zerolog.Logger) {
	l.log = logger.With().Str("component", "ledger").Logger()
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Driver returns the database driver name.
func (l *Ledger) Driver() string {
	return l.driver
}

// withTx executes fn within a transaction.
func (l *Ledger) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if err := tx.Rollback(); err != nil {
				l.log.Error().Err(err).Interface("panic", p).Msg("Failed to rollback transaction.")
			}
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %v, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.Format(timestampLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.ParseInLocation(timestampLayout, s, time.Local)
}
