package webhook

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Eterna-Community/Deterna-Bot/errors"
	"github.com/Eterna-Community/Deterna-Bot/service"
)

// Name is the service identifier.
const Name = "webhooks"

const (
	// DefaultAddr is the listen address when the config sets none.
	DefaultAddr = ":8100"
	// DefaultPath is the mount path when the config sets none.
	DefaultPath = "/webhook"

	// secretEnv overrides the config secret so it can stay out of
	// files.
	secretEnv = "DETERNA_WEBHOOK_SECRET"
)

// WebhookConfig is the service's opaque configuration payload.
type WebhookConfig struct {
	Addr      string `json:"addr,omitempty"`
	Path      string `json:"path,omitempty"`
	Secret    string `json:"secret,omitempty"`
	ChannelID string `json:"channel_id"`
}

// ParseConfig decodes the payload, filling defaults and falling back to
// DETERNA_WEBHOOK_SECRET for the secret.
func ParseConfig(raw json.RawMessage) (WebhookConfig, error) {
	cfg := WebhookConfig{Addr: DefaultAddr, Path: DefaultPath}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return WebhookConfig{}, errors.WrapInvalid(err, Name, "ParseConfig", "decode config payload")
		}
	}

	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if !strings.HasPrefix(cfg.Path, "/") {
		return WebhookConfig{}, errors.WrapInvalid(errors.ErrInvalidConfig, Name, "ParseConfig", "path must start with /")
	}
	if cfg.Secret == "" {
		cfg.Secret = os.Getenv(secretEnv)
	}
	if cfg.Secret == "" {
		return WebhookConfig{}, errors.WrapInvalid(errors.ErrMissingConfig, Name, "ParseConfig", "webhook secret (set "+secretEnv+")")
	}
	if cfg.ChannelID == "" {
		return WebhookConfig{}, errors.WrapInvalid(errors.ErrMissingConfig, Name, "ParseConfig", "target channel id")
	}
	return cfg, nil
}

// Service runs the webhook HTTP listener as a supervised service. Enable
// binds the port, so a busy address fails the enable rather than a later
// request.
type Service struct {
	*service.BaseService

	cfg     WebhookConfig
	handler *Handler
	logger  *slog.Logger

	mu       sync.Mutex
	server   *http.Server
	addr     string
	serveErr chan error
}

// New builds the webhook service around an already constructed handler.
func New(cfg service.Config, webhookCfg WebhookConfig, handler *Handler, opts ...service.Option) (*Service, error) {
	if handler == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, Name, "New", "handler")
	}
	if webhookCfg.Addr == "" {
		webhookCfg.Addr = DefaultAddr
	}
	if webhookCfg.Path == "" {
		webhookCfg.Path = DefaultPath
	}

	s := &Service{
		cfg:     webhookCfg,
		handler: handler,
		logger:  slog.New(slog.DiscardHandler),
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
	if deps == nil || deps.Discord == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, Name, "Constructor", "discord client dependency")
	}

	webhookCfg, err := ParseConfig(rawConfig)
	if err != nil {
		return nil, err
	}

	client := deps.Discord
	forward := func(embed *discordgo.MessageEmbed) error {
		session, err := client.Session()
		if err != nil {
			return err
		}
		_, err = session.ChannelMessageSendEmbed(webhookCfg.ChannelID, embed)
		return err
	}

	handler, err := NewHandler([]byte(webhookCfg.Secret), forward,
		WithHandlerLogger(deps.GetLogger()),
		WithHandlerMetrics(deps.Metrics),
	)
	if err != nil {
		return nil, err
	}

	svc, err := New(cfg, webhookCfg, handler,
		service.WithLogger(deps.GetLogger()),
		service.WithMetrics(deps.Metrics),
	)
	if err != nil {
		return nil, err
	}
	svc.logger = deps.GetLoggerWithService(Name)
	return svc, nil
}

// Addr reports the bound listen address, useful when the config asked
// for port 0.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// enable binds the listener and starts serving. Binding here makes a
// busy port an enable error instead of a silent dead listener.
func (s *Service) enable(context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errors.Wrap(err, Name, "enable", "bind "+s.cfg.Addr)
	}

	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, s.handler)

	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	s.mu.Lock()
	s.server = server
	s.addr = listener.Addr().String()
	s.serveErr = serveErr
	s.mu.Unlock()

	s.logger.Info("webhook listener started", "addr", listener.Addr().String(), "path", s.cfg.Path)
	return nil
}

// disable drains in-flight requests within the hook deadline.
func (s *Service) disable(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.addr = ""
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	if err := server.Shutdown(ctx); err != nil {
		return errors.Wrap(err, Name, "disable", "shutdown listener")
	}
	s.logger.Info("webhook listener stopped")
	return nil
}

// healthCheck reports a listener that died behind our back.
func (s *Service) healthCheck(context.Context) error {
	s.mu.Lock()
	server := s.server
	serveErr := s.serveErr
	s.mu.Unlock()

	if server == nil {
		return errors.ErrNotConnected
	}
	select {
	case err := <-serveErr:
		return err
	default:
		return nil
	}
}
