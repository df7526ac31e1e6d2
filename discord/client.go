// Package discord wraps the gateway session shared by every service that
// talks to Discord.
package discord

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Eterna-Community/Deterna-Bot/errors"
)

// DefaultIntents covers the guild and message events the bot's features
// need. Interactions are delivered regardless of intents.
const DefaultIntents = discordgo.IntentGuilds | discordgo.IntentGuildMessages

// Client owns the discordgo session. The session object exists from
// construction so handlers and command definitions can be attached before
// the gateway opens; Connect and Close only move the connection itself.
// Reconnects after transient drops are discordgo's job, not ours.
type Client struct {
	mu        sync.RWMutex
	session   *discordgo.Session
	connected bool

	token   string
	intents discordgo.Intent
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithIntents overrides the gateway intents requested on connect.
func WithIntents(intents discordgo.Intent) Option {
	return func(c *Client) { c.intents = intents }
}

// NewClient builds the session for the given bot token. No network traffic
// happens until Connect.
func NewClient(token string, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Client", "New", "read bot token")
	}

	c := &Client{
		token:   token,
		intents: DefaultIntents,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "discord-client")

	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, errors.Wrap(err, "Client", "New", "create session")
	}
	session.Identify.Intents = c.intents
	c.session = session

	return c, nil
}

// Connect opens the gateway connection. Connecting twice is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := c.session.Open(); err != nil {
		return errors.WrapTransient(err, "Client", "Connect", "open gateway")
	}
	c.connected = true

	c.logger.Info("gateway connected", "intents", int(c.intents))
	return nil
}

// Close shuts the gateway connection down. The session survives so a later
// Connect reuses the attached handlers.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}
	c.connected = false

	if err := c.session.Close(); err != nil {
		return errors.Wrap(err, "Client", "Close", "close gateway")
	}
	c.logger.Info("gateway closed")
	return nil
}

// Connected reports whether Connect has succeeded without a matching Close.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Session returns the live session for REST and state access. Callers that
// only need to attach handlers should use AddHandler, which works before
// Connect.
func (c *Client) Session() (*discordgo.Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected {
		return nil, errors.ErrNotConnected
	}
	return c.session, nil
}

// AddHandler attaches an event handler to the session and returns the
// removal function. Safe before Connect, which is where Ready handlers
// must be attached to see the first Ready.
func (c *Client) AddHandler(handler any) func() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.AddHandler(handler)
}

// HeartbeatLatency reports the gateway round-trip time, zero before the
// first heartbeat.
func (c *Client) HeartbeatLatency() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.connected {
		return 0
	}
	return c.session.HeartbeatLatency()
}
