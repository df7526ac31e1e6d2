// Package main implements the deterna-bot binary: it loads configuration,
// assembles the service manager with every enabled service, routes gateway
// events to slash command handlers, and runs until a shutdown signal.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Eterna-Community/Deterna-Bot/command"
	"github.com/Eterna-Community/Deterna-Bot/config"
	"github.com/Eterna-Community/Deterna-Bot/discord"
	"github.com/Eterna-Community/Deterna-Bot/errors"
	"github.com/Eterna-Community/Deterna-Bot/event"
	"github.com/Eterna-Community/Deterna-Bot/gateway"
	"github.com/Eterna-Community/Deterna-Bot/metric"
	"github.com/Eterna-Community/Deterna-Bot/service"
	"github.com/Eterna-Community/Deterna-Bot/storage"
	"github.com/Eterna-Community/Deterna-Bot/ticket"
	"github.com/Eterna-Community/Deterna-Bot/webhook"
)

const (
	// Version information
	Version   = "0.1.0"
	BuildTime = "dev"

	appName = "deterna-bot"
)

func main() {
	// Top-level panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, buf[:n])
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, logger, shouldExit, err := initializeCLI()
	if err != nil {
		return err
	}
	if shouldExit {
		return nil
	}

	cfg, err := initializeConfiguration(cliCfg, logger)
	if err != nil {
		return fmt.Errorf("configuration failed: %w", err)
	}

	if cliCfg.Validate {
		logger.Info("Configuration is valid", "config_path", cliCfg.ConfigPath)
		return nil
	}

	metrics, client, err := setupInfrastructure(cfg, logger)
	if err != nil {
		return fmt.Errorf("infrastructure setup failed: %w", err)
	}

	manager, tickets, err := setupManager(cfg, client, metrics, logger)
	if err != nil {
		return fmt.Errorf("service setup failed: %w", err)
	}

	commands, err := setupGatewayRouting(cfg, client, manager, tickets, metrics, logger)
	if err != nil {
		return fmt.Errorf("gateway routing failed: %w", err)
	}

	opsServer, err := startOpsServer(cfg, manager, metrics, logger)
	if err != nil {
		return fmt.Errorf("ops server failed: %w", err)
	}

	return runWithSignalHandling(context.Background(), cfg, manager, client, commands, opsServer)
}

// initializeCLI parses flags, handles version/help requests, and sets up
// the process logger. The .env file is loaded first so flag defaults can
// read the variables it defines.
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	loadDotEnv()

	cliCfg := parseFlags()

	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s %s (built %s)\n", appName, Version, BuildTime)
		return cliCfg, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return cliCfg, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	logger.Info("Starting Deterna bot",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
	)

	return cliCfg, logger, false, nil
}

// loadDotEnv loads environment variables from a .env file when one exists.
// This runs before the logger is configured, so failures go to stderr.
func loadDotEnv() {
	path := os.Getenv("DETERNA_ENV_FILE")
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
		_, _ = fmt.Fprintf(os.Stderr, "warning: could not load %s: %v\n", path, err)
	}
}

// initializeConfiguration loads the layered configuration. A missing file at
// the default path falls back to built-in defaults; an explicitly requested
// path must exist.
func initializeConfiguration(cliCfg *CLIConfig, logger *slog.Logger) (*config.Config, error) {
	loader := config.NewLoader().EnableValidation()

	if _, err := os.Stat(cliCfg.ConfigPath); err == nil {
		loader.AddLayer(cliCfg.ConfigPath)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config file %s: %w", cliCfg.ConfigPath, err)
	} else if cliCfg.ConfigPath != defaultConfigPath {
		return nil, fmt.Errorf("config file not found: %s", cliCfg.ConfigPath)
	} else {
		logger.Info("No config file found, using built-in defaults",
			"config_path", cliCfg.ConfigPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	logger.Info("Configuration loaded",
		"version", cfg.Version,
		"services", len(cfg.Services),
	)

	return cfg, nil
}

func setupInfrastructure(cfg *config.Config, logger *slog.Logger) (*metric.MetricsRegistry, *discord.Client, error) {
	metrics := metric.NewMetricsRegistry()

	client, err := discord.NewClient(cfg.Bot.Token, discord.WithLogger(logger))
	if err != nil {
		return nil, nil, fmt.Errorf("discord client: %w", err)
	}

	return metrics, client, nil
}

// setupManager builds the service manager and populates it from the
// configured service table.
func setupManager(cfg *config.Config, client *discord.Client, metrics *metric.MetricsRegistry, logger *slog.Logger) (*service.Manager, *ticket.Service, error) {
	registry, err := newServiceRegistry()
	if err != nil {
		return nil, nil, err
	}

	deps := &service.Dependencies{
		Discord: client,
		Metrics: metrics,
		Logger:  logger,
	}

	manager := service.NewManager(
		service.WithManagerLogger(logger),
		service.WithManagerMetrics(metrics),
		service.WithHealthInterval(cfg.Manager.HealthInterval.Std()),
	)

	tickets, err := buildServices(cfg, registry, manager, deps)
	if err != nil {
		return nil, nil, err
	}

	return manager, tickets, nil
}

// newServiceRegistry maps service identifiers to their constructors. Adding
// a service to the binary means adding a line here and a block to the
// configuration.
func newServiceRegistry() (*service.Registry, error) {
	registry := service.NewRegistry()

	constructors := map[string]service.Constructor{
		storage.Name: storage.Constructor,
		gateway.Name: gateway.Constructor,
		ticket.Name:  ticket.Constructor,
		webhook.Name: webhook.Constructor,
	}
	for name, constructor := range constructors {
		if err := registry.Register(name, constructor); err != nil {
			return nil, fmt.Errorf("register %s constructor: %w", name, err)
		}
	}

	return registry, nil
}

type pendingService struct {
	name string
	cfg  config.ServiceConfig
}

// buildServices constructs every enabled service and registers it with the
// manager. Construction runs priority-first; a service whose dependencies
// are not registered yet is retried after the rest of the pass, and a pass
// that makes no progress reports the last error.
func buildServices(cfg *config.Config, registry *service.Registry, manager *service.Manager, deps *service.Dependencies) (*ticket.Service, error) {
	pending := enabledServices(cfg)

	var tickets *ticket.Service

	for len(pending) > 0 {
		var retry []pendingService
		var lastErr error

		for _, p := range pending {
			constructor, ok := registry.Constructor(p.name)
			if !ok {
				slog.Warn("Service configured but not registered, skipping",
					"service", p.name)
				continue
			}

			svc, err := constructor(serviceConfig(p.cfg), p.cfg.Config, deps)
			if err != nil {
				retry = append(retry, p)
				lastErr = fmt.Errorf("construct %s: %w", p.name, err)
				continue
			}

			if err := manager.Register(svc); err != nil {
				if stderrors.Is(err, errors.ErrUnknownDependency) {
					retry = append(retry, p)
					lastErr = err
					continue
				}
				return nil, fmt.Errorf("register %s: %w", p.name, err)
			}

			// The storage service doubles as the shared store for the
			// constructors that run after it.
			if st, ok := svc.(service.Store); ok && deps.Store == nil {
				deps.Store = st
			}
			if ts, ok := svc.(*ticket.Service); ok {
				tickets = ts
			}

			slog.Info("Service registered",
				"service", p.name,
				"priority", p.cfg.Priority,
			)
		}

		if len(retry) == len(pending) {
			return nil, lastErr
		}
		pending = retry
	}

	return tickets, nil
}

// enabledServices returns the configured services that are enabled, ordered
// so high-priority services are constructed before their dependents.
func enabledServices(cfg *config.Config) []pendingService {
	var pending []pendingService
	for name, sc := range cfg.Services {
		if !sc.Enabled {
			slog.Info("Service disabled in config", "service", name)
			continue
		}
		pending = append(pending, pendingService{name: name, cfg: sc})
	}

	slices.SortFunc(pending, func(a, b pendingService) int {
		if a.cfg.Priority != b.cfg.Priority {
			return b.cfg.Priority - a.cfg.Priority
		}
		return strings.Compare(a.name, b.name)
	})

	return pending
}

func serviceConfig(sc config.ServiceConfig) service.Config {
	return service.Config{
		Priority:       sc.Priority,
		Dependencies:   sc.Dependencies,
		Timeout:        sc.Timeout.Std(),
		RestartOnError: sc.RestartOnError,
	}
}

// setupGatewayRouting loads the slash command set, binds gateway events to
// it, and attaches the handlers to the shared session. Attaching must happen
// before the gateway service connects or the first Ready event is missed.
func setupGatewayRouting(cfg *config.Config, client *discord.Client, manager *service.Manager, tickets *ticket.Service, metrics *metric.MetricsRegistry, logger *slog.Logger) (*command.Registry, error) {
	commands := command.NewRegistry(
		command.WithLogger(logger),
		command.WithMetrics(metrics),
	)
	if err := command.LoadCommands(commands, manager, tickets); err != nil {
		return nil, fmt.Errorf("load commands: %w", err)
	}

	events := event.NewRegistry(event.WithLogger(logger))
	if err := event.LoadEvents(events, commands, cfg.Bot.Status); err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}

	if err := events.Attach(client); err != nil {
		return nil, fmt.Errorf("attach event handlers: %w", err)
	}

	logger.Info("Gateway routing configured",
		"commands", len(commands.Names()),
		"events", len(events.Names()),
	)

	return commands, nil
}

// startOpsServer serves health, service status, and Prometheus metrics on
// the configured port. Port 0 disables the server.
func startOpsServer(cfg *config.Config, manager *service.Manager, metrics *metric.MetricsRegistry, logger *slog.Logger) (*http.Server, error) {
	if cfg.Manager.OpsPort == 0 {
		logger.Info("Ops server disabled")
		return nil, nil
	}

	mux := http.NewServeMux()
	manager.RegisterHTTPHandlers(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{}))

	addr := fmt.Sprintf(":%d", cfg.Manager.OpsPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ops listener on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := server.Serve(listener); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			logger.Error("Ops server failed", "error", err)
		}
	}()

	logger.Info("Ops server listening", "addr", listener.Addr().String())

	return server, nil
}

// runWithSignalHandling starts the services and blocks until SIGINT or
// SIGTERM, then shuts everything down within the configured timeout.
// SIGHUP triggers a full dependency-ordered restart.
func runWithSignalHandling(ctx context.Context, cfg *config.Config, manager *service.Manager, client *discord.Client, commands *command.Registry, opsServer *http.Server) error {
	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()

	result, err := manager.Start(signalCtx)
	if err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	if len(result.Failed) > 0 {
		logger.Warn("Services started degraded",
			"succeeded", len(result.Succeeded),
			"failed", result.Failed,
			"duration", result.TotalDuration,
		)
	} else {
		logger.Info("All services started",
			"count", len(result.Succeeded),
			"duration", result.TotalDuration,
		)
	}

	// Command deployment needs the connected session. A failure leaves the
	// bot serving whatever command set Discord already has.
	if err := deployCommands(cfg, client, commands); err != nil {
		logger.Warn("Slash commands not deployed", "error", err)
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for range hup {
			logger.Info("SIGHUP received, restarting services")
			if _, _, err := manager.Restart(signalCtx, cfg.Manager.RestartDelay.Std()); err != nil {
				logger.Error("Restart failed", "error", err)
			}
		}
	}()

	logger.Info("Deterna bot is running, press Ctrl+C to exit")

	<-signalCtx.Done()
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Manager.ShutdownTimeout.Std())
	defer cancel()

	if opsServer != nil {
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Ops server shutdown failed", "error", err)
		}
	}

	stopResult, err := manager.Stop(shutdownCtx)
	if err != nil {
		return fmt.Errorf("stop services: %w", err)
	}
	if len(stopResult.Failed) > 0 {
		logger.Warn("Some services failed to stop cleanly",
			"failed", stopResult.Failed)
	}

	logger.Info("Shutdown complete")
	return nil
}

// deployCommands overwrites the bot's slash command set on Discord. The
// application ID comes from configuration, falling back to the identity the
// gateway reported on connect.
func deployCommands(cfg *config.Config, client *discord.Client, commands *command.Registry) error {
	session, err := client.Session()
	if err != nil {
		return err
	}

	appID := cfg.Bot.AppID
	if appID == "" && session.State != nil && session.State.User != nil {
		appID = session.State.User.ID
	}
	if appID == "" {
		return fmt.Errorf("application ID unknown, set bot.app_id or DETERNA_BOT_APP_ID")
	}

	return commands.Deploy(session, appID, cfg.Bot.GuildID)
}
