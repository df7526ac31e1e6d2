// Package ticket implements support tickets: each open ticket is a row in
// the database plus a private Discord channel scoped to the opener and the
// guild's support role.
package ticket

import "time"

// State is a ticket's position in its lifecycle. Stored as an integer, so
// the order of the constants is part of the schema.
type State int

const (
	StateOpen State = iota
	StateClaimed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClaimed:
		return "claimed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Active reports whether the ticket still has a live channel.
func (s State) Active() bool {
	return s == StateOpen || s == StateClaimed
}

// Ticket is one support request.
type Ticket struct {
	ID        string
	GuildID   string
	ChannelID string
	OpenerID  string
	Subject   string
	State     State
	ClaimedBy string
	CreatedAt time.Time
	ClosedAt  time.Time
}

// GuildSettings selects where a guild's tickets live and who handles
// them. A guild without a row gets zero values: no category, no support
// role, no notifications.
type GuildSettings struct {
	GuildID          string
	TicketCategoryID string
	SupportRoleID    string
	NotifyChannelID  string
	UpdatedAt        time.Time
}
