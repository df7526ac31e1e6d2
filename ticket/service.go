package ticket

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"

	"github.com/Eterna-Community/Deterna-Bot/errors"
	"github.com/Eterna-Community/Deterna-Bot/metric"
	"github.com/Eterna-Community/Deterna-Bot/service"
)

// Name is the service identifier.
const Name = "tickets"

var (
	// ErrAlreadyClaimed rejects claiming a ticket twice.
	ErrAlreadyClaimed = stderrors.New("ticket already claimed")
	// ErrTicketClosed rejects operations on a closed ticket.
	ErrTicketClosed = stderrors.New("ticket already closed")
	// ErrTooManyTickets rejects opening past the per-user limit.
	ErrTooManyTickets = stderrors.New("too many open tickets")
)

// Discord embed accent colors.
const (
	colorGreen  = 0x57F287
	colorYellow = 0xFEE75C
	colorRed    = 0xED4245
)

// TicketConfig is the service's opaque configuration payload.
type TicketConfig struct {
	// MaxOpenPerUser caps active tickets per opener per guild. Zero
	// means no cap.
	MaxOpenPerUser int `json:"max_open_per_user,omitempty"`
}

// ParseConfig decodes the payload.
func ParseConfig(raw json.RawMessage) (TicketConfig, error) {
	var cfg TicketConfig
	if len(raw) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return TicketConfig{}, errors.WrapInvalid(err, Name, "ParseConfig", "decode config payload")
	}
	if cfg.MaxOpenPerUser < 0 {
		return TicketConfig{}, errors.WrapInvalid(errors.ErrInvalidConfig, Name, "ParseConfig", "negative max_open_per_user")
	}
	return cfg, nil
}

// ChannelManager performs the Discord half of the ticket lifecycle.
type ChannelManager interface {
	CreateTicketChannel(guildID, name, categoryID string, overwrites []*discordgo.PermissionOverwrite) (string, error)
	DeleteChannel(channelID string) error
	SendEmbed(channelID string, embed *discordgo.MessageEmbed) error
}

// Service runs the ticket subsystem. Rows live in the database service's
// pool; channels live in Discord. The database is the source of truth, so
// channel operations that fail after a committed write are logged and the
// write stands.
type Service struct {
	*service.BaseService

	cfg      TicketConfig
	store    service.Store
	channels ChannelManager
	logger   *slog.Logger
	metrics  *metric.MetricsRegistry
}

// New builds the ticket service.
func New(cfg service.Config, ticketCfg TicketConfig, store service.Store, channels ChannelManager, opts ...service.Option) (*Service, error) {
	if store == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, Name, "New", "store dependency")
	}
	if channels == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, Name, "New", "channel manager dependency")
	}

	s := &Service{
		cfg:      ticketCfg,
		store:    store,
		channels: channels,
		logger:   slog.New(slog.DiscardHandler),
	}
	opts = append(opts,
		service.WithEnable(s.enableHook),
		service.WithHealthCheck(s.healthHook),
	)
	s.BaseService = service.New(Name, cfg, opts...)
	return s, nil
}

// Constructor matches the service registry signature.
func Constructor(cfg service.Config, rawConfig json.RawMessage, deps *service.Dependencies) (service.Service, error) {
	if deps == nil || deps.Store == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, Name, "Constructor", "store dependency")
	}
	if deps.Discord == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, Name, "Constructor", "discord client dependency")
	}

	ticketCfg, err := ParseConfig(rawConfig)
	if err != nil {
		return nil, err
	}

	svc, err := New(cfg, ticketCfg, deps.Store, &sessionChannels{client: deps.Discord},
		service.WithLogger(deps.GetLogger()),
		service.WithMetrics(deps.Metrics),
	)
	if err != nil {
		return nil, err
	}
	svc.logger = deps.GetLoggerWithService(Name)
	svc.metrics = deps.Metrics
	return svc, nil
}

// enableHook proves the database is reachable and primes the open-ticket
// gauge.
func (s *Service) enableHook(ctx context.Context) error {
	return s.refreshGauge(ctx)
}

func (s *Service) healthHook(ctx context.Context) error {
	return s.refreshGauge(ctx)
}

func (s *Service) refreshGauge(ctx context.Context) error {
	var count int64
	err := s.store.RunInTransaction(ctx, func(conn *sqlite.Conn) error {
		var err error
		count, err = countActiveTickets(conn)
		return err
	})
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.Metrics().SetOpenTickets(float64(count))
	}
	return nil
}

// Open creates a ticket: a private channel visible to the opener and the
// guild's support role, then the row. A failed insert tears the channel
// back down.
func (s *Service) Open(ctx context.Context, guildID, openerID, subject string) (*Ticket, error) {
	if guildID == "" || openerID == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, Name, "Open", "guild and opener ids")
	}

	settings, err := s.Settings(ctx, guildID)
	if err != nil {
		return nil, err
	}

	if s.cfg.MaxOpenPerUser > 0 {
		var open int64
		err := s.store.RunInTransaction(ctx, func(conn *sqlite.Conn) error {
			var err error
			open, err = countActiveTicketsByOpener(conn, guildID, openerID)
			return err
		})
		if err != nil {
			return nil, err
		}
		if open >= int64(s.cfg.MaxOpenPerUser) {
			return nil, fmt.Errorf("%w: %d already open", ErrTooManyTickets, open)
		}
	}

	t := Ticket{
		ID:        uuid.NewString(),
		GuildID:   guildID,
		OpenerID:  openerID,
		Subject:   subject,
		State:     StateOpen,
		CreatedAt: time.Now().UTC(),
	}

	channelID, err := s.channels.CreateTicketChannel(guildID, channelName(t.ID), settings.TicketCategoryID, buildOverwrites(guildID, openerID, settings.SupportRoleID))
	if err != nil {
		return nil, errors.WrapTransient(err, Name, "Open", "create ticket channel")
	}
	t.ChannelID = channelID

	err = s.store.RunInTransaction(ctx, func(conn *sqlite.Conn) error {
		return insertTicket(conn, &t)
	})
	if err != nil {
		if deleteErr := s.channels.DeleteChannel(channelID); deleteErr != nil {
			s.logger.Warn("orphaned ticket channel left behind", "channel_id", channelID, "error", deleteErr)
		}
		return nil, errors.Wrap(err, Name, "Open", "insert ticket")
	}

	s.recordAction(ctx, "open")
	s.logger.Info("ticket opened", "ticket_id", t.ID, "guild_id", guildID, "opener_id", openerID)

	s.sendBestEffort(t.ChannelID, openEmbed(&t))
	if settings.NotifyChannelID != "" {
		s.sendBestEffort(settings.NotifyChannelID, notifyEmbed("Ticket opened", &t, colorGreen))
	}
	return &t, nil
}

// Claim marks the ticket living in channelID as handled by claimerID.
func (s *Service) Claim(ctx context.Context, channelID, claimerID string) (*Ticket, error) {
	if channelID == "" || claimerID == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, Name, "Claim", "channel and claimer ids")
	}

	var t Ticket
	err := s.store.RunInTransaction(ctx, func(conn *sqlite.Conn) error {
		var err error
		t, err = getTicketByChannel(conn, channelID)
		if err != nil {
			return err
		}
		switch t.State {
		case StateClaimed:
			return fmt.Errorf("%w: by %s", ErrAlreadyClaimed, t.ClaimedBy)
		case StateClosed:
			return ErrTicketClosed
		}
		if err := claimTicket(conn, t.ID, claimerID); err != nil {
			return err
		}
		t.State = StateClaimed
		t.ClaimedBy = claimerID
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAction(ctx, "claim")
	s.logger.Info("ticket claimed", "ticket_id", t.ID, "claimed_by", claimerID)

	settings, err := s.Settings(ctx, t.GuildID)
	if err == nil && settings.NotifyChannelID != "" {
		s.sendBestEffort(settings.NotifyChannelID, notifyEmbed("Ticket claimed", &t, colorYellow))
	}
	return &t, nil
}

// Close closes the ticket living in channelID and deletes the channel.
// The row is committed first; a failed channel delete is logged and the
// close stands.
func (s *Service) Close(ctx context.Context, channelID, closerID string) (*Ticket, error) {
	if channelID == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, Name, "Close", "channel id")
	}

	var t Ticket
	err := s.store.RunInTransaction(ctx, func(conn *sqlite.Conn) error {
		var err error
		t, err = getTicketByChannel(conn, channelID)
		if err != nil {
			return err
		}
		if t.State == StateClosed {
			return ErrTicketClosed
		}
		now := time.Now().UTC()
		if err := closeTicket(conn, t.ID, now); err != nil {
			return err
		}
		t.State = StateClosed
		t.ClosedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.channels.DeleteChannel(channelID); err != nil {
		s.logger.Warn("closed ticket channel not deleted", "ticket_id", t.ID, "channel_id", channelID, "error", err)
	}

	s.recordAction(ctx, "close")
	s.logger.Info("ticket closed", "ticket_id", t.ID, "closed_by", closerID)

	settings, err := s.Settings(ctx, t.GuildID)
	if err == nil && settings.NotifyChannelID != "" {
		s.sendBestEffort(settings.NotifyChannelID, notifyEmbed("Ticket closed", &t, colorRed))
	}
	return &t, nil
}

// Get looks a ticket up by its identifier.
func (s *Service) Get(ctx context.Context, id string) (*Ticket, error) {
	var t Ticket
	err := s.store.RunInTransaction(ctx, func(conn *sqlite.Conn) error {
		var err error
		t, err = getTicket(conn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetByChannel looks the active ticket in a channel up.
func (s *Service) GetByChannel(ctx context.Context, channelID string) (*Ticket, error) {
	var t Ticket
	err := s.store.RunInTransaction(ctx, func(conn *sqlite.Conn) error {
		var err error
		t, err = getTicketByChannel(conn, channelID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListOpen returns the guild's active tickets, oldest first.
func (s *Service) ListOpen(ctx context.Context, guildID string) ([]Ticket, error) {
	var tickets []Ticket
	err := s.store.RunInTransaction(ctx, func(conn *sqlite.Conn) error {
		var err error
		tickets, err = listActiveTickets(conn, guildID)
		return err
	})
	return tickets, err
}

// Settings returns the guild's ticket settings, zero-valued when unset.
func (s *Service) Settings(ctx context.Context, guildID string) (GuildSettings, error) {
	var settings GuildSettings
	err := s.store.RunInTransaction(ctx, func(conn *sqlite.Conn) error {
		var err error
		settings, err = getSettings(conn, guildID)
		return err
	})
	return settings, err
}

// SaveSettings stores the guild's ticket settings.
func (s *Service) SaveSettings(ctx context.Context, settings GuildSettings) error {
	if settings.GuildID == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, Name, "SaveSettings", "guild id")
	}
	settings.UpdatedAt = time.Now().UTC()
	return s.store.RunInTransaction(ctx, func(conn *sqlite.Conn) error {
		return upsertSettings(conn, settings)
	})
}

func (s *Service) recordAction(ctx context.Context, action string) {
	if s.metrics != nil {
		s.metrics.Metrics().RecordTicketAction(action)
	}
	if err := s.refreshGauge(ctx); err != nil {
		s.logger.Warn("open ticket gauge refresh failed", "error", err)
	}
}

func (s *Service) sendBestEffort(channelID string, embed *discordgo.MessageEmbed) {
	if err := s.channels.SendEmbed(channelID, embed); err != nil {
		s.logger.Warn("ticket notification failed", "channel_id", channelID, "error", err)
	}
}

// channelName derives the channel name from the ticket id's first
// segment, which is unique enough within a guild's ticket category.
func channelName(id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return "ticket-" + id
}

// buildOverwrites hides the channel from the guild at large and opens it
// to the opener and, when configured, the support role. The everyone
// role's id is the guild id.
func buildOverwrites(guildID, openerID, supportRoleID string) []*discordgo.PermissionOverwrite {
	allow := int64(discordgo.PermissionViewChannel | discordgo.PermissionSendMessages | discordgo.PermissionReadMessageHistory)

	overwrites := []*discordgo.PermissionOverwrite{
		{
			ID:   guildID,
			Type: discordgo.PermissionOverwriteTypeRole,
			Deny: int64(discordgo.PermissionViewChannel),
		},
		{
			ID:    openerID,
			Type:  discordgo.PermissionOverwriteTypeMember,
			Allow: allow,
		},
	}
	if supportRoleID != "" {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{
			ID:    supportRoleID,
			Type:  discordgo.PermissionOverwriteTypeRole,
			Allow: allow,
		})
	}
	return overwrites
}

func openEmbed(t *Ticket) *discordgo.MessageEmbed {
	description := "A member of the support team will be with you shortly."
	if t.Subject != "" {
		description = t.Subject
	}
	return &discordgo.MessageEmbed{
		Title:       "Ticket " + channelName(t.ID),
		Description: description,
		Color:       colorGreen,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Opened by", Value: mention(t.OpenerID), Inline: true},
		},
	}
}

func notifyEmbed(title string, t *Ticket, color int) *discordgo.MessageEmbed {
	fields := []*discordgo.MessageEmbedField{
		{Name: "Ticket", Value: channelName(t.ID), Inline: true},
		{Name: "Opened by", Value: mention(t.OpenerID), Inline: true},
	}
	if t.ClaimedBy != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Claimed by", Value: mention(t.ClaimedBy), Inline: true})
	}
	return &discordgo.MessageEmbed{
		Title:  title,
		Color:  color,
		Fields: fields,
	}
}

func mention(userID string) string {
	return "<@" + userID + ">"
}
