package event

import (
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// Ready logs the session identity once the gateway handshake completes
// and publishes the bot presence when one is configured.
func Ready(logger *slog.Logger, presence string) Binding {
	return Binding{
		Name: "ready",
		Handler: func(s *discordgo.Session, r *discordgo.Ready) {
			username := ""
			if r.User != nil {
				username = r.User.Username
			}
			logger.Info("gateway session ready",
				"username", username,
				"guilds", len(r.Guilds),
				"session_id", r.SessionID)

			if presence == "" {
				return
			}
			if err := s.UpdateGameStatus(0, presence); err != nil {
				logger.Warn("failed to publish presence", "error", err)
			}
		},
	}
}

// Resumed logs gateway session resumption after a reconnect.
func Resumed(logger *slog.Logger) Binding {
	return Binding{
		Name: "resumed",
		Handler: func(s *discordgo.Session, r *discordgo.Resumed) {
			logger.Info("gateway session resumed")
		},
	}
}
