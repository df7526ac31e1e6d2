// Package deterna documents the Deterna community bot: a Discord bot built
// around a dependency-ordered service manager.
//
// # Philosophy: Services All the Way Down
//
// Every capability of the bot is a service with a uniform lifecycle. The
// database is a service. The Discord gateway connection is a service. The
// ticket system and the webhook listener are services. The manager is the
// only component that starts, stops, restarts, or health-checks anything;
// nothing connects to the outside world outside of a managed lifecycle.
//
// This buys three properties:
//
//   - Deterministic startup and shutdown: services declare dependencies and
//     priorities, the manager computes the order, and reverse order is used
//     for shutdown. The gateway never opens before the database is ready.
//   - Degraded operation: a service that fails to start is reported and the
//     rest keep running. A bot without webhook ingestion is still a bot.
//   - Uniform observability: every service answers the same health check and
//     emits the same lifecycle metrics, so /services and /metrics describe
//     the whole process without per-feature wiring.
//
// # Architecture
//
//	┌──────────────────────────────────────┐
//	│           Service Manager            │  dependency-ordered start/stop,
//	│   (register, start, stop, restart)   │  health loop, auto-restart
//	└──────────────────────────────────────┘
//	            ↓ supervises
//	┌──────────────────────────────────────┐
//	│              Services                │  database, discord-gateway,
//	│    (uniform lifecycle + health)      │  tickets, webhooks
//	└──────────────────────────────────────┘
//	            ↓ talk through
//	┌──────────────────────────────────────┐
//	│        Shared Infrastructure         │  discord.Client (one session),
//	│                                      │  storage pool (SQLite)
//	└──────────────────────────────────────┘
//
// Interactions flow the other way: the gateway session delivers events to
// the event registry, which routes slash commands through the command
// registry into the services.
//
// # Service Lifecycle
//
// A service is always in exactly one state: disabled, enabling, enabled,
// disabling, or error. Transitions only happen through the manager, which
// serializes them per service and enforces the per-service timeout around
// the enable and disable hooks. The health loop probes every enabled
// service on an interval; a service registered with restart-on-error is
// disabled and re-enabled after a failed probe, with backoff between
// attempts.
//
// # Packages
//
//   - service: the manager, the base service implementation, the service
//     registry, and the HTTP handlers for health and status.
//   - discord: the shared discordgo session wrapper. Handlers attach before
//     the gateway opens so the first Ready event is never missed.
//   - gateway: the service that supervises the Discord connection itself.
//   - storage: the SQLite database as a service, owning the connection pool
//     and schema. Other services borrow connections through service.Store.
//   - ticket: support ticket lifecycle. Opening creates a private channel,
//     claiming assigns a handler, closing archives and deletes the channel.
//   - webhook: an HTTP listener that verifies GitHub webhook signatures and
//     forwards push, release, and ping events into a Discord channel.
//   - command: slash command definitions, deployment, and dispatch with
//     panic recovery and per-command metrics.
//   - event: bindings from gateway events (ready, resumed, interactions) to
//     their handlers.
//   - config: layered JSON configuration with environment overrides.
//   - errors: error classification (transient, invalid, fatal) that the
//     manager uses to decide whether a restart can help.
//   - health: health check types and message sanitizing for status output.
//   - metric: Prometheus instrumentation shared by the manager and services.
//
// # Configuration
//
// Configuration is a JSON document merged from layers: built-in defaults,
// then the config file, then DETERNA_* environment variables. Secrets (the
// bot token, the webhook secret) are environment-only and never written to
// config files. Each service block carries the same lifecycle fields
// (enabled, priority, dependencies, timeout, restart_on_error) plus an
// opaque config payload the service parses itself:
//
//	{
//	  "services": {
//	    "tickets": {
//	      "enabled": true,
//	      "priority": 50,
//	      "dependencies": ["database", "discord-gateway"],
//	      "config": {"max_open_per_user": 3}
//	    }
//	  }
//	}
//
// # Operations
//
// The ops HTTP server (manager.ops_port, default 8090) exposes:
//
//   - /health and /healthz: process liveness with per-service detail
//   - /readyz: readiness, failing while any required service is down
//   - /services: the full service table with states, uptime, last errors
//   - /metrics: Prometheus metrics
//
// SIGHUP restarts all services in dependency order without dropping the
// process. SIGINT and SIGTERM shut down within manager.shutdown_timeout.
package deterna
