// Package gateway runs the Discord gateway connection as a supervised
// service.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Eterna-Community/Deterna-Bot/errors"
	"github.com/Eterna-Community/Deterna-Bot/service"
)

// Name is the service identifier.
const Name = "discord-gateway"

// maxHealthyLatency is the heartbeat round-trip above which the connection
// counts as stalled.
const maxHealthyLatency = time.Minute

// connector is the slice of the discord client the service drives.
type connector interface {
	Connect(ctx context.Context) error
	Close() error
	Connected() bool
	HeartbeatLatency() time.Duration
}

// Service supervises the gateway connection: enable opens it, disable
// closes it, and the health hook watches the heartbeat.
type Service struct {
	*service.BaseService
	conn connector
}

// New builds the gateway service around conn.
func New(cfg service.Config, conn connector, opts ...service.Option) (*Service, error) {
	if conn == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, Name, "New", "discord client")
	}

	s := &Service{conn: conn}
	opts = append(opts,
		service.WithEnable(s.enable),
		service.WithDisable(s.disable),
		service.WithHealthCheck(s.healthCheck),
	)
	s.BaseService = service.New(Name, cfg, opts...)
	return s, nil
}

// Constructor matches the service registry signature.
func Constructor(cfg service.Config, _ json.RawMessage, deps *service.Dependencies) (service.Service, error) {
	if deps == nil || deps.Discord == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, Name, "Constructor", "discord client dependency")
	}
	return New(cfg, deps.Discord,
		service.WithLogger(deps.GetLogger()),
		service.WithMetrics(deps.Metrics),
	)
}

func (s *Service) enable(ctx context.Context) error {
	return s.conn.Connect(ctx)
}

func (s *Service) disable(context.Context) error {
	return s.conn.Close()
}

// healthCheck verifies the connection is up and the heartbeat has not
// stalled. A zero latency means no heartbeat has completed yet and is
// fine right after connect.
func (s *Service) healthCheck(context.Context) error {
	if !s.conn.Connected() {
		return errors.ErrNotConnected
	}
	if latency := s.conn.HeartbeatLatency(); latency > maxHealthyLatency {
		return fmt.Errorf("heartbeat latency %s exceeds %s", latency, maxHealthyLatency)
	}
	return nil
}
