package store

import (
	"context"
	"fmt"
	"runtime"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/flirtduo/chatlock/pkg/logging"
)

// PoolConfig holds the parameters for opening a SQLite connection pool.
type PoolConfig struct {
	// Path of the database file; created if missing. ":memory:" only
	// works with PoolSize 1 since every in-memory connection is its own
	// database.
	Path string

	// PoolSize defaults to max(runtime.NumCPU(), 4). Writes are
	// serialized by SQLite regardless; extra connections serve reads.
	PoolSize int

	Logger *logging.Logger

	// OnConnect runs once per connection after the standard pragmas.
	OnConnect func(conn *sqlite.Conn) error
}

// Pool is a fixed-size pool of SQLite connections. Connections are not
// safe for concurrent use; each goroutine Takes its own and Puts it back.
type Pool struct {
	inner  *sqlitex.Pool
	logger *logging.Logger
	path   string
}

// OpenPool creates the pool. Connections are initialized lazily on first
// Take.
func OpenPool(cfg PoolConfig) (*Pool, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite pool: Path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
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
		return nil, fmt.Errorf("sqlite pool: opening %s: %w", cfg.Path, err)
	}

	logger.Info("sqlite pool opened", map[string]any{
		"path":      cfg.Path,
		"pool_size": poolSize,
	})
	return &Pool{inner: inner, logger: logger, path: cfg.Path}, nil
}

// Take borrows a connection, blocking until one is free or ctx ends.
// The connection is interrupted when ctx is cancelled.
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlite pool: take: %w", err)
	}
	return conn, nil
}

// Put returns a connection to the pool. Safe to call with nil.
func (p *Pool) Put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

// Close closes all connections, waiting for borrowed ones to return.
func (p *Pool) Close() error {
	err := p.inner.Close()
	if err != nil {
		p.logger.ErrorErr("sqlite pool close failed", err, map[string]any{"path": p.path})
		return fmt.Errorf("sqlite pool: close: %w", err)
	}
	p.logger.Info("sqlite pool closed", map[string]any{"path": p.path})
	return nil
}

// prepareConnection applies the standard pragmas, then OnConnect.
func prepareConnection(conn *sqlite.Conn, onConnect func(*sqlite.Conn) error) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-4096",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlite pool: %s: %w", pragma, err)
		}
	}
	if onConnect != nil {
		if err := onConnect(conn); err != nil {
			return fmt.Errorf("sqlite pool: OnConnect: %w", err)
		}
	}
	return nil
}
