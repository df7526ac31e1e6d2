// Package storage runs the bot's SQLite database as a supervised service
// and owns the connection pool other services borrow from.
package storage

import (
	"context"
	"log/slog"
	"runtime"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/Eterna-Community/Deterna-Bot/errors"
)

// PoolConfig holds the parameters for opening a connection pool. Path is
// required; everything else has defaults.
type PoolConfig struct {
	// Path is the database file, created on first open. ":memory:"
	// works for tests but needs PoolSize 1 since each in-memory
	// connection is its own database.
	Path string

	// PoolSize caps the pool. Zero or negative picks max(NumCPU, 4).
	// Writes serialize inside SQLite anyway, so extra connections only
	// help concurrent reads.
	PoolSize int

	// Logger receives open and close messages.
	Logger *slog.Logger

	// OnConnect runs once per connection after the standard pragmas.
	OnConnect func(conn *sqlite.Conn) error
}

// Pool is a fixed-size SQLite connection pool with the bot's standard
// pragmas applied to every connection. The pool is safe for concurrent
// use; individual connections are not, so each goroutine must Take its
// own and Put it back.
type Pool struct {
	inner  *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// OpenPool opens the database file, creating it when missing. Connections
// are prepared lazily on first Take. The caller must Close the pool.
func OpenPool(cfg PoolConfig) (*Pool, error) {
	if cfg.Path == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Pool", "Open", "database path")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = max(runtime.NumCPU(), 4)
	}

	inner, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepareConnection(conn, cfg.OnConnect)
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "Pool", "Open", "open database")
	}

	logger.Info("sqlite pool opened", "path", cfg.Path, "pool_size", poolSize)

	return &Pool{
		inner:  inner,
		logger: logger,
		path:   cfg.Path,
	}, nil
}

// Take borrows a connection, blocking until one is free or ctx ends. The
// caller must Put it back, usually via defer.
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "Pool", "Take", "borrow connection")
	}
	return conn, nil
}

// Put returns a connection to the pool. Nil is a no-op.
func (p *Pool) Put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

// Close closes every connection, blocking until all borrowed ones are
// returned.
func (p *Pool) Close() error {
	if err := p.inner.Close(); err != nil {
		p.logger.Error("sqlite pool close error", "path", p.path, "error", err)
		return errors.Wrap(err, "Pool", "Close", "close database")
	}
	p.logger.Info("sqlite pool closed", "path", p.path)
	return nil
}

// prepareConnection applies the standard pragmas, then the optional
// OnConnect callback. Runs once per pooled connection.
func prepareConnection(conn *sqlite.Conn, onConnect func(*sqlite.Conn) error) error {
	// WAL keeps readers unblocked during ticket writes; the busy
	// timeout covers writer contention between pool connections.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}

	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return errors.Wrap(err, "Pool", "prepare", pragma)
		}
	}

	if onConnect != nil {
		if err := onConnect(conn); err != nil {
			return errors.Wrap(err, "Pool", "prepare", "connect callback")
		}
	}
	return nil
}
