package storage

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/Eterna-Community/Deterna-Bot/errors"
	"github.com/Eterna-Community/Deterna-Bot/service"
)

// Name is the service identifier.
const Name = "database"

// StorageConfig is the service's opaque configuration payload.
type StorageConfig struct {
	Path     string `json:"path"`
	PoolSize int    `json:"pool_size,omitempty"`
}

// DefaultPath is used when the configuration names no database file.
const DefaultPath = "deterna.db"

// ParseConfig decodes the payload, filling defaults for missing fields.
func ParseConfig(raw json.RawMessage) (StorageConfig, error) {
	cfg := StorageConfig{Path: DefaultPath}
	if len(raw) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return StorageConfig{}, errors.WrapInvalid(err, Name, "ParseConfig", "decode config payload")
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	return cfg, nil
}

// Service runs the SQLite pool as a supervised service and implements the
// store contract other services borrow connections through. The pool only
// exists while the service is enabled.
type Service struct {
	*service.BaseService

	cfg    StorageConfig
	logger *slog.Logger

	mu   sync.RWMutex
	pool *Pool
}

// New builds the database service.
func New(cfg service.Config, storageCfg StorageConfig, opts ...service.Option) (*Service, error) {
	if storageCfg.Path == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, Name, "New", "database path")
	}

	s := &Service{
		cfg:    storageCfg,
		logger: slog.New(slog.DiscardHandler),
	}
	opts = append(opts,
		service.WithEnable(s.enable),
		service.WithDisable(s.disable),
		service.WithHealthCheck(s.healthCheck),
	)
	s.BaseService = service.New(Name, cfg, opts...)
	return s, nil
}

// Constructor matches the service registry signature.
func Constructor(cfg service.Config, rawConfig json.RawMessage, deps *service.Dependencies) (service.Service, error) {
	storageCfg, err := ParseConfig(rawConfig)
	if err != nil {
		return nil, err
	}

	var opts []service.Option
	if deps != nil {
		opts = append(opts, service.WithLogger(deps.GetLogger()), service.WithMetrics(deps.Metrics))
	}

	svc, err := New(cfg, storageCfg, opts...)
	if err != nil {
		return nil, err
	}
	if deps != nil {
		svc.logger = deps.GetLoggerWithService(Name)
	}
	return svc, nil
}

// enable opens the pool and applies the schema.
func (s *Service) enable(ctx context.Context) error {
	pool, err := OpenPool(PoolConfig{
		Path:     s.cfg.Path,
		PoolSize: s.cfg.PoolSize,
		Logger:   s.logger,
	})
	if err != nil {
		return err
	}

	conn, err := pool.Take(ctx)
	if err != nil {
		pool.Close()
		return err
	}
	err = migrate(conn)
	pool.Put(conn)
	if err != nil {
		pool.Close()
		return err
	}

	s.mu.Lock()
	s.pool = pool
	s.mu.Unlock()
	return nil
}

// disable closes the pool. Clearing the pointer first turns away new
// borrowers, so Close only waits on connections already out.
func (s *Service) disable(context.Context) error {
	s.mu.Lock()
	pool := s.pool
	s.pool = nil
	s.mu.Unlock()

	if pool == nil {
		return nil
	}
	return pool.Close()
}

// healthCheck runs a trivial query through the pool.
func (s *Service) healthCheck(ctx context.Context) error {
	conn, err := s.Take(ctx)
	if err != nil {
		return err
	}
	defer s.Put(conn)

	return sqlitex.ExecuteTransient(conn, "SELECT 1", nil)
}

// Take borrows a connection. It fails while the service is disabled.
func (s *Service) Take(ctx context.Context) (*sqlite.Conn, error) {
	s.mu.RLock()
	pool := s.pool
	s.mu.RUnlock()

	if pool == nil {
		return nil, errors.ErrNotConnected
	}
	return pool.Take(ctx)
}

// Put returns a borrowed connection.
func (s *Service) Put(conn *sqlite.Conn) {
	s.mu.RLock()
	pool := s.pool
	s.mu.RUnlock()

	if pool == nil || conn == nil {
		return
	}
	pool.Put(conn)
}

// RunInTransaction runs fn on one connection inside an IMMEDIATE
// transaction. A non-nil error from fn rolls the transaction back.
func (s *Service) RunInTransaction(ctx context.Context, fn func(conn *sqlite.Conn) error) (err error) {
	conn, err := s.Take(ctx)
	if err != nil {
		return err
	}
	defer s.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return errors.Wrap(err, Name, "RunInTransaction", "begin transaction")
	}
	defer endTransaction(&err)

	return fn(conn)
}
