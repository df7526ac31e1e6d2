package ticket

import (
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/Eterna-Community/Deterna-Bot/errors"
)

const ticketColumns = "id, guild_id, channel_id, opener_id, subject, state, claimed_by, created_at, closed_at"

func scanTicket(stmt *sqlite.Stmt) Ticket {
	t := Ticket{
		ID:        stmt.ColumnText(0),
		GuildID:   stmt.ColumnText(1),
		ChannelID: stmt.ColumnText(2),
		OpenerID:  stmt.ColumnText(3),
		Subject:   stmt.ColumnText(4),
		State:     State(stmt.ColumnInt64(5)),
		ClaimedBy: stmt.ColumnText(6),
		CreatedAt: time.Unix(stmt.ColumnInt64(7), 0).UTC(),
	}
	if closedAt := stmt.ColumnInt64(8); closedAt > 0 {
		t.ClosedAt = time.Unix(closedAt, 0).UTC()
	}
	return t
}

func insertTicket(conn *sqlite.Conn, t *Ticket) error {
	return sqlitex.Execute(conn,
		`INSERT INTO tickets (`+ticketColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				t.ID,
				t.GuildID,
				t.ChannelID,
				t.OpenerID,
				t.Subject,
				int(t.State),
				t.ClaimedBy,
				t.CreatedAt.Unix(),
				closedAtUnix(t.ClosedAt),
			},
		})
}

func getTicket(conn *sqlite.Conn, id string) (Ticket, error) {
	return queryOneTicket(conn,
		`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`,
		[]any{id}, fmt.Sprintf("ticket %s", id))
}

func getTicketByChannel(conn *sqlite.Conn, channelID string) (Ticket, error) {
	return queryOneTicket(conn,
		`SELECT `+ticketColumns+` FROM tickets WHERE channel_id = ?`,
		[]any{channelID}, fmt.Sprintf("ticket in channel %s", channelID))
}

func queryOneTicket(conn *sqlite.Conn, query string, args []any, what string) (Ticket, error) {
	var t Ticket
	found := false
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			t = scanTicket(stmt)
			found = true
			return nil
		},
	})
	if err != nil {
		return Ticket{}, err
	}
	if !found {
		return Ticket{}, fmt.Errorf("%w: %s", errors.ErrNotFound, what)
	}
	return t, nil
}

func listActiveTickets(conn *sqlite.Conn, guildID string) ([]Ticket, error) {
	var tickets []Ticket
	err := sqlitex.Execute(conn,
		`SELECT `+ticketColumns+` FROM tickets WHERE guild_id = ? AND state != ? ORDER BY created_at`,
		&sqlitex.ExecOptions{
			Args: []any{guildID, int(StateClosed)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				tickets = append(tickets, scanTicket(stmt))
				return nil
			},
		})
	return tickets, err
}

func countActiveTickets(conn *sqlite.Conn) (int64, error) {
	var count int64
	err := sqlitex.Execute(conn,
		`SELECT COUNT(*) FROM tickets WHERE state != ?`,
		&sqlitex.ExecOptions{
			Args: []any{int(StateClosed)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt64(0)
				return nil
			},
		})
	return count, err
}

func countActiveTicketsByOpener(conn *sqlite.Conn, guildID, openerID string) (int64, error) {
	var count int64
	err := sqlitex.Execute(conn,
		`SELECT COUNT(*) FROM tickets WHERE guild_id = ? AND opener_id = ? AND state != ?`,
		&sqlitex.ExecOptions{
			Args: []any{guildID, openerID, int(StateClosed)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt64(0)
				return nil
			},
		})
	return count, err
}

func claimTicket(conn *sqlite.Conn, id, claimerID string) error {
	return sqlitex.Execute(conn,
		`UPDATE tickets SET state = ?, claimed_by = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{int(StateClaimed), claimerID, id}})
}

func closeTicket(conn *sqlite.Conn, id string, closedAt time.Time) error {
	return sqlitex.Execute(conn,
		`UPDATE tickets SET state = ?, closed_at = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{int(StateClosed), closedAt.Unix(), id}})
}

// getSettings returns the guild's settings row, or zero-valued settings
// when the guild has none.
func getSettings(conn *sqlite.Conn, guildID string) (GuildSettings, error) {
	settings := GuildSettings{GuildID: guildID}
	err := sqlitex.Execute(conn,
		`SELECT guild_id, ticket_category_id, support_role_id, notify_channel_id, updated_at
		 FROM guild_settings WHERE guild_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{guildID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				settings.GuildID = stmt.ColumnText(0)
				settings.TicketCategoryID = stmt.ColumnText(1)
				settings.SupportRoleID = stmt.ColumnText(2)
				settings.NotifyChannelID = stmt.ColumnText(3)
				settings.UpdatedAt = time.Unix(stmt.ColumnInt64(4), 0).UTC()
				return nil
			},
		})
	return settings, err
}

func upsertSettings(conn *sqlite.Conn, settings GuildSettings) error {
	return sqlitex.Execute(conn,
		`INSERT INTO guild_settings (guild_id, ticket_category_id, support_role_id, notify_channel_id, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (guild_id) DO UPDATE SET
			ticket_category_id = excluded.ticket_category_id,
			support_role_id = excluded.support_role_id,
			notify_channel_id = excluded.notify_channel_id,
			updated_at = excluded.updated_at`,
		&sqlitex.ExecOptions{
			Args: []any{
				settings.GuildID,
				settings.TicketCategoryID,
				settings.SupportRoleID,
				settings.NotifyChannelID,
				settings.UpdatedAt.Unix(),
			},
		})
}

func closedAtUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
