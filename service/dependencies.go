package service

import (
	"context"
	"log/slog"

	"zombiezen.com/go/sqlite"

	"github.com/Eterna-Community/Deterna-Bot/discord"
	"github.com/Eterna-Community/Deterna-Bot/metric"
)

// Store is the narrow persistence surface injected into services that keep
// state. The database service implements it; consumers must not hold a
// connection across requests.
type Store interface {
	Take(ctx context.Context) (*sqlite.Conn, error)
	Put(conn *sqlite.Conn)
	RunInTransaction(ctx context.Context, fn func(conn *sqlite.Conn) error) error
}

// Dependencies carries the shared collaborators service constructors
// receive. Fields are nil when the owning service is disabled in the
// deployment's configuration, so consumers must check before use.
type Dependencies struct {
	Discord *discord.Client
	Store   Store
	Metrics *metric.MetricsRegistry
	Logger  *slog.Logger
}

// GetLogger returns the configured logger or the process default.
func (d *Dependencies) GetLogger() *slog.Logger {
	if d == nil || d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// GetLoggerWithService returns the logger tagged with a service name.
func (d *Dependencies) GetLoggerWithService(name string) *slog.Logger {
	return d.GetLogger().With("service", name)
}
