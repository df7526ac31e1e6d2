// Package event binds the bot's gateway event handlers. Bindings are
// plain records built by explicit builder functions; the registry
// attaches them to the session in one pass and can detach them again.
package event

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/Eterna-Community/Deterna-Bot/command"
	"github.com/Eterna-Community/Deterna-Bot/errors"
)

// Binding pairs a gateway event name with its handler. Handler must have
// a discordgo handler signature, for example
// func(*discordgo.Session, *discordgo.Ready).
type Binding struct {
	Name    string
	Handler any
}

// Attacher registers one gateway handler and returns its remove func.
// Both *discord.Client and *discordgo.Session satisfy it.
type Attacher interface {
	AddHandler(handler any) func()
}

// Registry collects gateway bindings and manages their attachment.
type Registry struct {
	mu       sync.Mutex
	bindings []Binding
	removers []func()

	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger.With("component", "event-registry")
		}
	}
}

// NewRegistry creates an empty event registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// LoadEvents builds the bot's gateway bindings and registers them on r.
// The interaction router is only bound when a command registry exists.
func LoadEvents(r *Registry, commands *command.Registry, presence string) error {
	bindings := []Binding{
		Ready(r.logger, presence),
		Resumed(r.logger),
	}
	if commands != nil {
		bindings = append(bindings, InteractionCreate(commands))
	}

	for _, b := range bindings {
		if err := r.Register(b); err != nil {
			return errors.WrapInvalid(err, "EventRegistry", "LoadEvents", b.Name+" registration")
		}
	}
	return nil
}

// Register adds one binding. Several bindings may share an event name;
// Discord dispatches to every attached handler.
func (r *Registry) Register(b Binding) error {
	if b.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "EventRegistry", "Register", "binding name required")
	}
	if b.Handler == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "EventRegistry", "Register", fmt.Sprintf("nil handler for %s", b.Name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings = append(r.bindings, b)
	return nil
}

// Names returns the binding names in registration order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.bindings))
	for _, b := range r.bindings {
		names = append(names, b.Name)
	}
	return names
}

// Attach registers every binding on target and remembers the removers.
// Attaching twice stacks handlers; Detach first when rebinding.
func (r *Registry) Attach(target Attacher) error {
	if target == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "EventRegistry", "Attach", "attach target")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.bindings {
		r.removers = append(r.removers, target.AddHandler(b.Handler))
		r.logger.Debug("gateway handler attached", "event", b.Name)
	}
	return nil
}

// Detach removes every handler Attach added.
func (r *Registry) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, remove := range r.removers {
		remove()
	}
	r.removers = nil
}
