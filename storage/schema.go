package storage

import (
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/Eterna-Community/Deterna-Bot/errors"
)

// schema is idempotent so every enable can apply it unconditionally.
// Timestamps are Unix seconds; ticket state is the ticket package's
// State enum stored as an integer.
const schema = `
CREATE TABLE IF NOT EXISTS tickets (
	id          TEXT PRIMARY KEY,
	guild_id    TEXT NOT NULL,
	channel_id  TEXT NOT NULL DEFAULT '',
	opener_id   TEXT NOT NULL,
	subject     TEXT NOT NULL DEFAULT '',
	state       INTEGER NOT NULL DEFAULT 0,
	claimed_by  TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	closed_at   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_tickets_guild_state ON tickets(guild_id, state);
CREATE INDEX IF NOT EXISTS idx_tickets_channel ON tickets(channel_id);

CREATE TABLE IF NOT EXISTS guild_settings (
	guild_id           TEXT PRIMARY KEY,
	ticket_category_id TEXT NOT NULL DEFAULT '',
	support_role_id    TEXT NOT NULL DEFAULT '',
	notify_channel_id  TEXT NOT NULL DEFAULT '',
	updated_at         INTEGER NOT NULL
);
`

// migrate applies the schema on the given connection.
func migrate(conn *sqlite.Conn) error {
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return errors.Wrap(err, Name, "migrate", "apply schema")
	}
	return nil
}
