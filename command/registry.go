package command

import (
	"fmt"
	"log/slog"
	"maps"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Eterna-Community/Deterna-Bot/errors"
	"github.com/Eterna-Community/Deterna-Bot/metric"
	"github.com/Eterna-Community/Deterna-Bot/service"
	"github.com/Eterna-Community/Deterna-Bot/ticket"
)

// Registry collects the bot's commands and routes interactions to them.
type Registry struct {
	mu       sync.RWMutex
	commands map[string]Command

	logger  *slog.Logger
	metrics *metric.MetricsRegistry
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the dispatch logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger.With("component", "command-registry")
		}
	}
}

// WithMetrics enables per-command counters and durations.
func WithMetrics(metrics *metric.MetricsRegistry) Option {
	return func(r *Registry) {
		r.metrics = metrics
	}
}

// NewRegistry creates an empty command registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		commands: make(map[string]Command),
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LoadCommands builds the bot's command set and registers it on r.
// Commands whose collaborator is absent are left out, so a configuration
// without the ticket service simply has no ticket command.
func LoadCommands(r *Registry, manager *service.Manager, tickets *ticket.Service) error {
	commands := []Command{Ping()}
	if manager != nil {
		commands = append(commands, Status(manager))
	}
	if tickets != nil {
		commands = append(commands, Ticket(tickets))
	}

	for _, cmd := range commands {
		if err := r.Register(cmd); err != nil {
			return errors.WrapInvalid(err, "CommandRegistry", "LoadCommands", cmd.Name()+" registration")
		}
	}
	return nil
}

// Register adds one command.
func (r *Registry) Register(cmd Command) error {
	if cmd.Definition == nil || cmd.Definition.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "CommandRegistry", "Register", "command definition with a name required")
	}
	if cmd.Handler == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "CommandRegistry", "Register", fmt.Sprintf("nil handler for %s", cmd.Definition.Name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.commands[cmd.Definition.Name]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("command %s already registered", cmd.Definition.Name),
			"CommandRegistry", "Register", "duplicate command")
	}
	r.commands[cmd.Definition.Name] = cmd
	return nil
}

// Get looks up a command by name.
func (r *Registry) Get(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[name]
	return cmd, ok
}

// Names returns the registered command names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.commands))
}

// Definitions returns the registered definitions in name order, the
// payload Deploy pushes to Discord.
func (r *Registry) Definitions() []*discordgo.ApplicationCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*discordgo.ApplicationCommand, 0, len(r.commands))
	for _, name := range slices.Sorted(maps.Keys(r.commands)) {
		defs = append(defs, r.commands[name].Definition)
	}
	return defs
}

// Deploy overwrites the application's command set with the registered
// definitions. An empty guildID deploys globally, which Discord rolls
// out slowly; a guild-scoped deploy takes effect immediately.
func (r *Registry) Deploy(s *discordgo.Session, appID, guildID string) error {
	if s == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "CommandRegistry", "Deploy", "session")
	}
	if appID == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "CommandRegistry", "Deploy", "application id")
	}

	deployed, err := s.ApplicationCommandBulkOverwrite(appID, guildID, r.Definitions())
	if err != nil {
		return errors.Wrap(err, "CommandRegistry", "Deploy", "bulk overwrite commands")
	}

	scope := guildID
	if scope == "" {
		scope = "global"
	}
	r.logger.Info("deployed slash commands", "count", len(deployed), "scope", scope)
	return nil
}

// HandleInteraction routes a slash-command interaction to its handler.
// It has the discordgo handler signature, so it attaches directly to the
// session.
func (r *Registry) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	name := i.ApplicationCommandData().Name
	cmd, ok := r.Get(name)
	if !ok {
		// A stale deploy; redeploying is the fix, answering is not.
		r.logger.Warn("interaction for unknown command", "command", name)
		r.record(name, "unknown", 0)
		return
	}

	start := time.Now()
	err := r.invoke(cmd, s, i)
	elapsed := time.Since(start)

	if err != nil {
		r.record(name, "error", elapsed)
		r.logger.Error("command failed", "command", name, "user", interactionUserID(i), "error", err)
		r.replyError(s, i)
		return
	}
	r.record(name, "ok", elapsed)
}

// invoke runs the handler, converting a panic into an error so one bad
// command cannot take down the gateway event loop.
func (r *Registry) invoke(cmd Command, s *discordgo.Session, i *discordgo.InteractionCreate) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("command panicked",
				"command", cmd.Name(),
				"panic", rec,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return cmd.Handler(s, i)
}

// replyError acknowledges a failed interaction so the client does not
// sit on "thinking" forever. The handler may already have responded; the
// respond call then fails and the followup covers it.
func (r *Registry) replyError(s *discordgo.Session, i *discordgo.InteractionCreate) {
	const notice = "Something went wrong running that command."

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: notice,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err == nil {
		return
	}

	if _, err := s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Content: notice,
		Flags:   discordgo.MessageFlagsEphemeral,
	}); err != nil {
		r.logger.Warn("failed to acknowledge failed command", "error", err)
	}
}

func (r *Registry) record(command, outcome string, d time.Duration) {
	if r.metrics != nil {
		r.metrics.Metrics().RecordCommand(command, outcome, d)
	}
}
